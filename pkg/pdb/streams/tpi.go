package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// TPI stream versions.
const (
	TPIStreamVersionV70 = 19990903
	TPIStreamVersionV80 = 20040203
)

// TypeIndexBegin is the first non-builtin type index.
const TypeIndexBegin = 0x1000

// Type record leaf kinds.
const (
	LF_MODIFIER     = 0x1001
	LF_POINTER      = 0x1002
	LF_ARRAY_ST     = 0x1003
	LF_CLASS_ST     = 0x1004
	LF_STRUCTURE_ST = 0x1005
	LF_UNION_ST     = 0x1006
	LF_ENUM_ST      = 0x1007
	LF_PROCEDURE    = 0x1008
	LF_MFUNCTION    = 0x1009
	LF_ARGLIST      = 0x1201
	LF_FIELDLIST    = 0x1203
	LF_BITFIELD     = 0x1205
	LF_ARRAY        = 0x1503
	LF_CLASS        = 0x1504
	LF_STRUCTURE    = 0x1505
	LF_UNION        = 0x1506
	LF_ENUM         = 0x1507
	LF_INTERFACE    = 0x1519
)

// Numeric leaf prefixes.
const (
	LF_NUMERIC   = 0x8000
	LF_CHAR      = 0x8000
	LF_SHORT     = 0x8001
	LF_USHORT    = 0x8002
	LF_LONG      = 0x8003
	LF_ULONG     = 0x8004
	LF_QUADWORD  = 0x8009
	LF_UQUADWORD = 0x800a
)

// Builtin pointer modes (bits 8-11 of a builtin type index).
const (
	TM_DIRECT  = 0
	TM_NPTR    = 1
	TM_FPTR    = 2
	TM_HPTR    = 3
	TM_NPTR32  = 4
	TM_FPTR32  = 5
	TM_NPTR64  = 6
	TM_NPTR128 = 7
)

// propFwdRef marks a forward-declared UDT in a class/union/enum property.
const propFwdRef = 0x80

// TypeClass is the coarse category of a type.
type TypeClass uint8

const (
	TypeUnknown TypeClass = iota
	TypeBuiltin
	TypePointer
	TypeArray
	TypeUDT
	TypeEnum
	TypeFunction
)

// tpiHeader is the fixed header of the TPI stream.
type tpiHeader struct {
	Version                 uint32
	HeaderSize              uint32
	TypeIndexBegin          uint32
	TypeIndexEnd            uint32
	TypeRecordBytes         uint32
	HashStreamIndex         uint16
	HashAuxStreamIndex      uint16
	HashKeySize             uint32
	NumHashBuckets          uint32
	HashValueBufferOffset   int32
	HashValueBufferLength   uint32
	IndexOffsetBufferOffset int32
	IndexOffsetBufferLength uint32
	HashAdjBufferOffset     int32
	HashAdjBufferLength     uint32
}

// TPIHeaderSize is the encoded size of the TPI header.
const TPIHeaderSize = 56

// TypeRecord is one raw type record.
type TypeRecord struct {
	Kind uint16
	Data []byte // after the kind field
}

// TypeTable resolves type indices to categories and sizes.
type TypeTable struct {
	begin   uint32
	records []TypeRecord
	// definitions maps UDT names to the index of their full definition,
	// for resolving forward references.
	definitions map[string]uint32
}

// ReadTypeTable decodes the TPI stream.
func ReadTypeTable(data []byte) (*TypeTable, error) {
	var h tpiHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read TPI header: %w", err)
	}
	if h.Version != TPIStreamVersionV80 && h.Version != TPIStreamVersionV70 {
		return nil, fmt.Errorf("unsupported TPI version: %d", h.Version)
	}
	if h.HeaderSize < TPIHeaderSize || uint64(h.HeaderSize)+uint64(h.TypeRecordBytes) > uint64(len(data)) {
		return nil, fmt.Errorf("TPI records of %d bytes exceed stream of %d bytes", h.TypeRecordBytes, len(data))
	}
	raw := data[h.HeaderSize : h.HeaderSize+h.TypeRecordBytes]

	t := &TypeTable{begin: h.TypeIndexBegin}
	for off := 0; off+4 <= len(raw) && uint32(len(t.records)) < h.TypeIndexEnd-h.TypeIndexBegin; {
		recLen := int(binary.LittleEndian.Uint16(raw[off:]))
		if recLen < 2 || off+2+recLen > len(raw) {
			break
		}
		t.records = append(t.records, TypeRecord{
			Kind: binary.LittleEndian.Uint16(raw[off+2:]),
			Data: raw[off+4 : off+2+recLen],
		})
		off += 2 + recLen
	}
	t.indexDefinitions()
	return t, nil
}

// Len returns the number of type records.
func (t *TypeTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// Record returns the record of a non-builtin type index.
func (t *TypeTable) Record(index uint32) (TypeRecord, bool) {
	if t == nil || index < t.begin || index-t.begin >= uint32(len(t.records)) {
		return TypeRecord{}, false
	}
	return t.records[index-t.begin], true
}

// Class returns the category of a type, looking through modifiers.
func (t *TypeTable) Class(index uint32) TypeClass {
	class, _ := t.resolve(index, 0)
	return class
}

// Size returns the size in bytes of a type. The second result is false when
// the size is not known.
func (t *TypeTable) Size(index uint32) (uint64, bool) {
	_, size := t.resolve(index, 0)
	return size, size > 0
}

const maxTypeDepth = 32

func (t *TypeTable) resolve(index uint32, depth int) (TypeClass, uint64) {
	if index < TypeIndexBegin {
		return TypeBuiltin, BuiltinSize(index)
	}
	rec, ok := t.Record(index)
	if !ok || depth > maxTypeDepth {
		return TypeUnknown, 0
	}
	d := rec.Data
	switch rec.Kind {
	case LF_MODIFIER:
		if len(d) < 4 {
			return TypeUnknown, 0
		}
		return t.resolve(binary.LittleEndian.Uint32(d), depth+1)
	case LF_POINTER:
		if len(d) < 8 {
			return TypePointer, 0
		}
		return TypePointer, uint64(binary.LittleEndian.Uint32(d[4:]) >> 13 & 0x3f)
	case LF_ARRAY:
		if len(d) < 8 {
			return TypeArray, 0
		}
		size, _ := ParseNumeric(d[8:])
		return TypeArray, size
	case LF_CLASS, LF_STRUCTURE, LF_INTERFACE:
		return TypeUDT, t.udtSize(d, 16, depth)
	case LF_UNION:
		return TypeUDT, t.udtSize(d, 8, depth)
	case LF_ENUM:
		if len(d) < 8 {
			return TypeEnum, 0
		}
		_, size := t.resolve(binary.LittleEndian.Uint32(d[4:]), depth+1)
		return TypeEnum, size
	case LF_PROCEDURE, LF_MFUNCTION:
		return TypeFunction, 0
	}
	return TypeUnknown, 0
}

// udtSize reads the size of a class, structure or union whose numeric size
// leaf starts at sizeOff. Forward references resolve through their name.
func (t *TypeTable) udtSize(d []byte, sizeOff, depth int) uint64 {
	if len(d) < sizeOff+2 {
		return 0
	}
	size, n := ParseNumeric(d[sizeOff:])
	property := binary.LittleEndian.Uint16(d[2:])
	if property&propFwdRef == 0 {
		return size
	}
	name, _ := ParseString(d[sizeOff+n:])
	def, ok := t.definition(name)
	if !ok {
		return 0
	}
	_, size = t.resolve(def, depth+1)
	return size
}

func (t *TypeTable) definition(name string) (uint32, bool) {
	idx, ok := t.definitions[name]
	return idx, ok
}

func (t *TypeTable) indexDefinitions() {
	t.definitions = make(map[string]uint32)
	for i, rec := range t.records {
		var sizeOff int
		switch rec.Kind {
		case LF_CLASS, LF_STRUCTURE, LF_INTERFACE:
			sizeOff = 16
		case LF_UNION:
			sizeOff = 8
		default:
			continue
		}
		if len(rec.Data) < sizeOff+2 || binary.LittleEndian.Uint16(rec.Data[2:])&propFwdRef != 0 {
			continue
		}
		_, n := ParseNumeric(rec.Data[sizeOff:])
		name, _ := ParseString(rec.Data[sizeOff+n:])
		if _, dup := t.definitions[name]; !dup {
			t.definitions[name] = t.begin + uint32(i)
		}
	}
}

// BuiltinSize returns the size of a builtin type index, or zero for void,
// untyped and unknown kinds.
func BuiltinSize(index uint32) uint64 {
	switch (index >> 8) & 0xf {
	case TM_DIRECT:
	case TM_NPTR:
		return 2
	case TM_FPTR, TM_HPTR, TM_NPTR32:
		return 4
	case TM_FPTR32:
		return 6
	case TM_NPTR64:
		return 8
	case TM_NPTR128:
		return 16
	default:
		return 0
	}
	return builtinSizes[index&0xff]
}

var builtinSizes = map[uint32]uint64{
	0x0008: 4,  // HRESULT
	0x0010: 1,  // signed char
	0x0011: 2,  // short
	0x0012: 4,  // long
	0x0013: 8,  // __int64
	0x0014: 16, // __int128
	0x0020: 1,  // unsigned char
	0x0021: 2,  // unsigned short
	0x0022: 4,  // unsigned long
	0x0023: 8,  // unsigned __int64
	0x0024: 16, // unsigned __int128
	0x0030: 1,  // bool
	0x0031: 2,
	0x0032: 4,
	0x0033: 8,
	0x0040: 4,  // float
	0x0041: 8,  // double
	0x0042: 10, // long double
	0x0043: 16,
	0x0044: 6,
	0x0046: 2,
	0x0050: 8,
	0x0051: 16,
	0x0052: 20,
	0x0053: 32,
	0x0068: 1, // int8
	0x0069: 1, // uint8
	0x0070: 1, // char
	0x0071: 2, // wchar_t
	0x0072: 2, // int16
	0x0073: 2, // uint16
	0x0074: 4, // int
	0x0075: 4, // unsigned
	0x0076: 8, // int64
	0x0077: 8, // uint64
	0x0078: 16,
	0x0079: 16,
	0x007a: 2, // char16_t
	0x007b: 4, // char32_t
	0x007c: 1, // char8_t
}

// ParseNumeric decodes a numeric leaf and returns the value and the bytes
// consumed. Values below LF_NUMERIC are stored inline.
func ParseNumeric(data []byte) (uint64, int) {
	if len(data) < 2 {
		return 0, 0
	}
	val := binary.LittleEndian.Uint16(data)
	if val < LF_NUMERIC {
		return uint64(val), 2
	}
	need := map[uint16]int{
		LF_CHAR: 3, LF_SHORT: 4, LF_USHORT: 4, LF_LONG: 6, LF_ULONG: 6, LF_QUADWORD: 10, LF_UQUADWORD: 10,
	}[val]
	if need == 0 || len(data) < need {
		return 0, 0
	}
	switch val {
	case LF_CHAR:
		return uint64(int8(data[2])), 3
	case LF_SHORT:
		return uint64(int16(binary.LittleEndian.Uint16(data[2:]))), 4
	case LF_USHORT:
		return uint64(binary.LittleEndian.Uint16(data[2:])), 4
	case LF_LONG:
		return uint64(int32(binary.LittleEndian.Uint32(data[2:]))), 6
	case LF_ULONG:
		return uint64(binary.LittleEndian.Uint32(data[2:])), 6
	default:
		return binary.LittleEndian.Uint64(data[2:]), 10
	}
}
