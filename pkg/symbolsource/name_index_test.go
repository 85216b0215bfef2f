package symbolsource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildNames(names ...string) *NameIndex {
	entries := make([]*SymbolEntry, 0, len(names))
	for i, n := range names {
		entries = append(entries, &SymbolEntry{Address: uint64(0x1000 + i*0x10), DecoratedName: n})
	}
	return BuildNameIndex(entries)
}

func collectPrefix(n *NameIndex, prefix string, caseSensitive bool) []string {
	var out []string
	n.FindByPrefix(prefix, caseSensitive, func(e SymbolEntry) bool {
		out = append(out, e.DecoratedName)
		return true
	})
	return out
}

func TestNameIndex_FindExact(t *testing.T) {
	n := buildNames("foo", "bar", "Foo", "")
	require.Equal(t, 3, n.Len())

	e, ok := n.FindExact("FOO", false)
	require.True(t, ok)
	require.Equal(t, "Foo", e.DecoratedName)

	e, ok = n.FindExact("foo", true)
	require.True(t, ok)
	require.Equal(t, "foo", e.DecoratedName)

	_, ok = n.FindExact("FOO", true)
	require.False(t, ok)

	e, ok = n.FindExact("BAR", false)
	require.True(t, ok)
	require.Equal(t, "bar", e.DecoratedName)

	_, ok = n.FindExact("ba", false)
	require.False(t, ok)
}

func TestNameIndex_FindByPrefix(t *testing.T) {
	n := buildNames("foobar", "Food", "bar", "foo", "fo")

	require.Equal(t, []string{"fo", "foo", "foobar", "Food"}, collectPrefix(n, "fo", false))
	require.Equal(t, []string{"fo", "foo", "foobar"}, collectPrefix(n, "fo", true))
	require.Equal(t, []string{"Food"}, collectPrefix(n, "Fo", true))
	require.Empty(t, collectPrefix(n, "x", false))

	var first []string
	n.FindByPrefix("f", false, func(e SymbolEntry) bool {
		first = append(first, e.DecoratedName)
		return false
	})
	require.Equal(t, []string{"fo"}, first)
}

func TestNameIndex_Nil(t *testing.T) {
	var n *NameIndex
	require.Equal(t, 0, n.Len())
	_, ok := n.FindExact("foo", false)
	require.False(t, ok)
	require.Empty(t, collectPrefix(n, "f", false))
}

func TestFoldASCII(t *testing.T) {
	require.Equal(t, "abc", foldASCII("abc"))
	require.Equal(t, "abc_def?", foldASCII("ABC_Def?"))
	require.Equal(t, "ÄÖ", foldASCII("ÄÖ"))
}
