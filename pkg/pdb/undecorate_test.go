package pdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUndecorate(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"?f@@YAHH@Z", "int __cdecl f(int)"},
		{"?bar@Foo@@QAEHH@Z", "public: int __thiscall Foo::bar(int)"},
		{"??0Foo@@QAE@XZ", "public: __thiscall Foo::Foo(void)"},
		{"??1Foo@@UAE@XZ", "public: virtual __thiscall Foo::~Foo(void)"},
		{"??HFoo@@QAEHH@Z", "public: int __thiscall Foo::operator+(int)"},
		{"?get@Foo@@QEBAPEBDXZ", "public: char const * __cdecl Foo::get(void) const"},
		{"?g@@YAXPAVFoo@@0@Z", "void __cdecl g(class Foo *,class Foo *)"},
		{"??$max@H@std@@YAHHH@Z", "int __cdecl std::max<int>(int,int)"},
		{"?x@@3HA", "int x"},
		{"?count@Foo@@2HA", "public: static int Foo::count"},
		{"_Z3fooi", "foo(int)"},
		{"_func@8", "func"},
		{"@fast@12", "fast"},
		{"_g_counter", "g_counter"},
		{"__security_cookie", ""},
		{"main", ""},
		{"?broken", ""},
		{"", ""},
	} {
		require.Equal(t, tc.want, Undecorate(tc.in), tc.in)
	}
}
