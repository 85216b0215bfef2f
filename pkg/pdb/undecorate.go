package pdb

import (
	"strconv"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Undecorate returns the complete undecorated form of a linker name, or ""
// when name is not decorated or cannot be decoded.
func Undecorate(name string) string {
	var out string
	switch {
	case strings.HasPrefix(name, "?"):
		out = undecorateMSVC(name)
	case strings.HasPrefix(name, "_Z") || strings.HasPrefix(name, "__Z"):
		mangled := name
		if strings.HasPrefix(mangled, "__Z") {
			mangled = mangled[1:]
		}
		if s, err := demangle.ToString(mangled, demangle.NoClones); err == nil {
			out = s
		}
	case strings.HasPrefix(name, "_") || strings.HasPrefix(name, "@"):
		out = stripCallSuffix(name)
	}
	if out == name {
		return ""
	}
	return out
}

// stripCallSuffix turns the C decorations _name, _name@N (stdcall) and
// @name@N (fastcall) into name.
func stripCallSuffix(name string) string {
	at := strings.LastIndexByte(name, '@')
	if at <= 0 {
		if name[0] == '_' && len(name) > 1 && name[1] != '_' {
			return name[1:]
		}
		return name
	}
	if _, err := strconv.Atoi(name[at+1:]); err != nil {
		return name
	}
	return name[1:at]
}

type specialName uint8

const (
	specialNone specialName = iota
	specialCtor
	specialDtor
	specialCast
)

// msvcDemangler decodes Visual C++ decorated names. It covers functions,
// member functions and data, with name and argument back-references,
// templates and the common operator and compiler-generated names.
type msvcDemangler struct {
	in      string
	pos     int
	names   []string
	args    []string
	special specialName
	failed  bool
}

func undecorateMSVC(name string) string {
	d := &msvcDemangler{in: name, pos: 1}
	out := d.symbol()
	if d.failed {
		return ""
	}
	return out
}

func (d *msvcDemangler) peek() byte {
	if d.pos < len(d.in) {
		return d.in[d.pos]
	}
	return 0
}

func (d *msvcDemangler) next() byte {
	if d.pos >= len(d.in) {
		d.failed = true
		return 0
	}
	c := d.in[d.pos]
	d.pos++
	return c
}

func (d *msvcDemangler) consume(s string) bool {
	if d.pos <= len(d.in) && strings.HasPrefix(d.in[d.pos:], s) {
		d.pos += len(s)
		return true
	}
	return false
}

func (d *msvcDemangler) remember(list *[]string, s string) {
	if len(*list) < 10 {
		*list = append(*list, s)
	}
}

func (d *msvcDemangler) symbol() string {
	name := d.qualifiedName(true)
	if d.failed {
		return ""
	}
	if d.pos >= len(d.in) {
		return name
	}
	c := d.next()
	switch {
	case c >= '0' && c <= '4':
		return d.data(c, name)
	case c == 'Y' || c == 'Z':
		return d.function("", name, false)
	case c >= 'A' && c <= 'X':
		return d.member(c, name)
	}
	d.failed = true
	return ""
}

var accessNames = [...]string{"private: ", "protected: ", "public: "}

func (d *msvcDemangler) member(c byte, name string) string {
	group := int(c-'A') / 8
	prefix := accessNames[group]
	switch (int(c-'A') % 8) / 2 {
	case 1:
		prefix += "static "
		return d.function(prefix, name, false)
	case 2, 3:
		prefix += "virtual "
	}
	return d.function(prefix, name, true)
}

func (d *msvcDemangler) data(c byte, name string) string {
	var prefix string
	if c <= '2' {
		prefix = accessNames[c-'0'] + "static "
	}
	typ := d.typ()
	cv := d.storageCV()
	if d.failed {
		return ""
	}
	return prefix + typ + cv + " " + name
}

// storageCV reads an optional __ptr64 marker and a cv class letter.
func (d *msvcDemangler) storageCV() string {
	d.consume("E")
	switch d.next() {
	case 'A':
		return ""
	case 'B':
		return " const"
	case 'C':
		return " volatile"
	case 'D':
		return " const volatile"
	}
	d.failed = true
	return ""
}

var callingConventions = map[byte]string{
	'A': "__cdecl", 'B': "__cdecl",
	'C': "__pascal", 'D': "__pascal",
	'E': "__thiscall", 'F': "__thiscall",
	'G': "__stdcall", 'H': "__stdcall",
	'I': "__fastcall", 'J': "__fastcall",
	'M': "__clrcall",
	'Q': "__vectorcall",
}

func (d *msvcDemangler) function(prefix, name string, hasThis bool) string {
	var thisCV string
	if hasThis {
		thisCV = d.storageCV()
	}
	conv, ok := callingConventions[d.next()]
	if !ok {
		d.failed = true
		return ""
	}
	var ret string
	if !d.consume("@") {
		d.consume("?A")
		ret = d.typ()
	}
	args := d.argList()
	d.consume("Z")
	if d.failed {
		return ""
	}

	var b strings.Builder
	b.WriteString(prefix)
	if ret != "" && d.special != specialCast {
		b.WriteString(ret)
		b.WriteByte(' ')
	}
	b.WriteString(conv)
	b.WriteByte(' ')
	b.WriteString(name)
	if d.special == specialCast {
		b.WriteByte(' ')
		b.WriteString(ret)
	}
	b.WriteByte('(')
	b.WriteString(args)
	b.WriteByte(')')
	b.WriteString(thisCV)
	return b.String()
}

func (d *msvcDemangler) argList() string {
	if d.consume("X") {
		return "void"
	}
	var args []string
	for !d.failed {
		switch d.peek() {
		case '@':
			d.pos++
			return strings.Join(args, ",")
		case 'Z':
			d.pos++
			return strings.Join(append(args, "..."), ",")
		case 0:
			d.failed = true
			return ""
		}
		args = append(args, d.argType())
	}
	return ""
}

func (d *msvcDemangler) argType() string {
	if c := d.peek(); c >= '0' && c <= '9' {
		d.pos++
		if int(c-'0') >= len(d.args) {
			d.failed = true
			return ""
		}
		return d.args[c-'0']
	}
	start := d.pos
	t := d.typ()
	if d.pos-start > 1 {
		d.remember(&d.args, t)
	}
	return t
}

var primitiveTypes = map[byte]string{
	'C': "signed char",
	'D': "char",
	'E': "unsigned char",
	'F': "short",
	'G': "unsigned short",
	'H': "int",
	'I': "unsigned int",
	'J': "long",
	'K': "unsigned long",
	'M': "float",
	'N': "double",
	'O': "long double",
	'X': "void",
}

var extendedTypes = map[byte]string{
	'D': "__int8",
	'E': "unsigned __int8",
	'F': "__int16",
	'G': "unsigned __int16",
	'H': "__int32",
	'I': "unsigned __int32",
	'J': "__int64",
	'K': "unsigned __int64",
	'N': "bool",
	'Q': "char8_t",
	'S': "char16_t",
	'U': "char32_t",
	'W': "wchar_t",
}

func (d *msvcDemangler) typ() string {
	c := d.next()
	if t, ok := primitiveTypes[c]; ok {
		return t
	}
	switch c {
	case '_':
		if t, ok := extendedTypes[d.next()]; ok {
			return t
		}
	case 'P':
		return d.pointer(" *")
	case 'Q':
		return d.pointer(" * const")
	case 'R':
		return d.pointer(" * volatile")
	case 'S':
		return d.pointer(" * const volatile")
	case 'A':
		return d.pointer(" &")
	case 'B':
		return d.pointer(" & volatile")
	case 'T':
		return "union " + d.qualifiedName(false)
	case 'U':
		return "struct " + d.qualifiedName(false)
	case 'V':
		return "class " + d.qualifiedName(false)
	case 'W':
		if d.next() == '4' {
			return "enum " + d.qualifiedName(false)
		}
	case '$':
		if d.consume("$Q") {
			return d.pointer(" &&")
		}
		if d.consume("$T") {
			return "std::nullptr_t"
		}
	}
	d.failed = true
	return ""
}

// pointer decodes the pointee of a pointer or reference type.
func (d *msvcDemangler) pointer(suffix string) string {
	cv := d.storageCV()
	if d.consume("6") {
		conv, ok := callingConventions[d.next()]
		if !ok {
			d.failed = true
			return ""
		}
		ret := d.typ()
		args := d.argList()
		d.consume("Z")
		return ret + " (" + conv + strings.TrimPrefix(suffix, " ") + ")(" + args + ")"
	}
	return d.typ() + cv + suffix
}

func (d *msvcDemangler) qualifiedName(first bool) string {
	parts := []string{d.unqualifiedName(first)}
	for !d.failed && d.peek() != '@' {
		if d.peek() == 0 {
			d.failed = true
			break
		}
		parts = append(parts, d.unqualifiedName(false))
	}
	if d.failed {
		return ""
	}
	d.pos++
	if first && (d.special == specialCtor || d.special == specialDtor) && len(parts) > 1 {
		class := parts[1]
		if i := strings.IndexByte(class, '<'); i >= 0 {
			class = class[:i]
		}
		if d.special == specialDtor {
			class = "~" + class
		}
		parts[0] = class
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "::")
}

func (d *msvcDemangler) unqualifiedName(first bool) string {
	c := d.peek()
	switch {
	case c >= '0' && c <= '9':
		d.pos++
		if int(c-'0') >= len(d.names) {
			d.failed = true
			return ""
		}
		return d.names[c-'0']
	case d.consume("?$"):
		return d.templateName()
	case c == '?' && first:
		d.pos++
		return d.operatorName()
	case c == '?':
		if d.consume("?A") {
			d.simpleName()
			return "`anonymous namespace'"
		}
		d.failed = true
		return ""
	}
	name := d.simpleName()
	d.remember(&d.names, name)
	return name
}

func (d *msvcDemangler) simpleName() string {
	end := strings.IndexByte(d.in[d.pos:], '@')
	if end <= 0 {
		d.failed = true
		return ""
	}
	name := d.in[d.pos : d.pos+end]
	d.pos += end + 1
	return name
}

func (d *msvcDemangler) templateName() string {
	outerNames, outerArgs := d.names, d.args
	d.names, d.args = nil, nil

	var name string
	if d.peek() == '?' {
		d.pos++
		name = d.operatorName()
	} else {
		name = d.simpleName()
		d.remember(&d.names, name)
	}
	var params []string
	for !d.failed && d.peek() != '@' {
		if d.peek() == 0 {
			d.failed = true
			break
		}
		if d.consume("$0") {
			params = append(params, d.number())
			continue
		}
		params = append(params, d.argType())
	}
	if !d.failed {
		d.pos++
	}

	d.names, d.args = outerNames, outerArgs
	full := name + "<" + strings.Join(params, ",") + ">"
	d.remember(&d.names, full)
	return full
}

// number decodes an encoded integer: an optional '?' for negative, then
// either one digit standing for 1..10 or hex digits A-P ended by '@'.
func (d *msvcDemangler) number() string {
	neg := d.consume("?")
	var v uint64
	if c := d.peek(); c >= '0' && c <= '9' {
		d.pos++
		v = uint64(c-'0') + 1
	} else {
		for {
			c := d.next()
			if c == '@' || d.failed {
				break
			}
			if c < 'A' || c > 'P' {
				d.failed = true
				break
			}
			v = v<<4 | uint64(c-'A')
		}
	}
	s := strconv.FormatUint(v, 10)
	if neg {
		s = "-" + s
	}
	return s
}

var operatorNames = map[byte]string{
	'2': "operator new",
	'3': "operator delete",
	'4': "operator=",
	'5': "operator>>",
	'6': "operator<<",
	'7': "operator!",
	'8': "operator==",
	'9': "operator!=",
	'A': "operator[]",
	'C': "operator->",
	'D': "operator*",
	'E': "operator++",
	'F': "operator--",
	'G': "operator-",
	'H': "operator+",
	'I': "operator&",
	'J': "operator->*",
	'K': "operator/",
	'L': "operator%",
	'M': "operator<",
	'N': "operator<=",
	'O': "operator>",
	'P': "operator>=",
	'Q': "operator,",
	'R': "operator()",
	'S': "operator~",
	'T': "operator^",
	'U': "operator|",
	'V': "operator&&",
	'W': "operator||",
	'X': "operator*=",
	'Y': "operator+=",
	'Z': "operator-=",
}

var extendedOperatorNames = map[byte]string{
	'0': "operator/=",
	'1': "operator%=",
	'2': "operator>>=",
	'3': "operator<<=",
	'4': "operator&=",
	'5': "operator|=",
	'6': "operator^=",
	'7': "`vftable'",
	'8': "`vbtable'",
	'9': "`vcall'",
	'A': "`typeof'",
	'B': "`local static guard'",
	'D': "`vbase destructor'",
	'E': "`vector deleting destructor'",
	'F': "`default constructor closure'",
	'G': "`scalar deleting destructor'",
	'H': "`vector constructor iterator'",
	'I': "`vector destructor iterator'",
	'J': "`vector vbase constructor iterator'",
	'U': "operator new[]",
	'V': "operator delete[]",
}

func (d *msvcDemangler) operatorName() string {
	c := d.next()
	switch c {
	case '0':
		d.special = specialCtor
		return ""
	case '1':
		d.special = specialDtor
		return ""
	case 'B':
		d.special = specialCast
		return "operator"
	case '_':
		if name, ok := extendedOperatorNames[d.next()]; ok {
			return name
		}
	default:
		if name, ok := operatorNames[c]; ok {
			return name
		}
	}
	d.failed = true
	return ""
}
