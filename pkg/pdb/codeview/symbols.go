// Package codeview decodes the CodeView symbol records and C13 line
// subsections stored in PDB module and global symbol streams.
package codeview

import (
	"encoding/binary"
	"fmt"

	"github.com/jtang613/pdbsym/pkg/pdb/streams"
)

// Symbol record kinds.
const (
	S_END            = 0x0006
	S_THUNK32        = 0x1102
	S_BLOCK32        = 0x1103
	S_WITH32         = 0x1104
	S_LABEL32        = 0x1105
	S_CONSTANT       = 0x1107
	S_UDT            = 0x1108
	S_LDATA32        = 0x110c
	S_GDATA32        = 0x110d
	S_PUB32          = 0x110e
	S_LPROC32        = 0x110f
	S_GPROC32        = 0x1110
	S_LTHREAD32      = 0x1112
	S_GTHREAD32      = 0x1113
	S_PROCREF        = 0x1125
	S_DATAREF        = 0x1126
	S_LPROCREF       = 0x1127
	S_GMANPROC       = 0x112a
	S_LMANPROC       = 0x112b
	S_SEPCODE        = 0x1132
	S_LPROC32_ID     = 0x1146
	S_GPROC32_ID     = 0x1147
	S_INLINESITE     = 0x114d
	S_INLINESITE_END = 0x114e
	S_PROC_ID_END    = 0x114f
	S_LPROC32_DPC    = 0x1155
	S_LPROC32_DPC_ID = 0x1156
	S_INLINESITE2    = 0x115d
)

// CVSignatureC13 starts every module symbol stream.
const CVSignatureC13 = 4

// PubSymFlagFunction marks a public symbol that names code.
const PubSymFlagFunction = 0x2

// SymbolRecord is one raw record and its offset within its stream.
type SymbolRecord struct {
	Offset uint32
	Kind   uint16
	Data   []byte // after the kind field
}

// ParseSymbols splits data into records. start is the offset of the first
// record: 4 for module streams, 0 for the global symbol record stream. A
// truncated trailing record ends parsing with an error and the records read
// so far.
func ParseSymbols(data []byte, start int) ([]SymbolRecord, error) {
	var recs []SymbolRecord
	off := start
	for off+4 <= len(data) {
		rec, err := RecordAt(data, uint32(off))
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
		off += 4 + len(rec.Data)
	}
	return recs, nil
}

// RecordAt decodes the single record starting at offset.
func RecordAt(data []byte, offset uint32) (SymbolRecord, error) {
	off := int(offset)
	if off < 0 || off+4 > len(data) {
		return SymbolRecord{}, fmt.Errorf("symbol offset %d outside of %d bytes", offset, len(data))
	}
	recLen := int(binary.LittleEndian.Uint16(data[off:]))
	if recLen < 2 || off+2+recLen > len(data) {
		return SymbolRecord{}, fmt.Errorf("truncated symbol record at offset %d", off)
	}
	return SymbolRecord{
		Offset: offset,
		Kind:   binary.LittleEndian.Uint16(data[off+2:]),
		Data:   data[off+4 : off+2+recLen],
	}, nil
}

// ProcSym is S_GPROC32, S_LPROC32 and their _ID variants.
type ProcSym struct {
	Parent    uint32
	End       uint32
	Next      uint32
	Length    uint32
	DbgStart  uint32
	DbgEnd    uint32
	TypeIndex uint32
	Offset    uint32
	Segment   uint16
	Flags     uint8
	Name      string
}

// ParseProcSym decodes a procedure record.
func ParseProcSym(data []byte) (*ProcSym, error) {
	if len(data) < 35 {
		return nil, fmt.Errorf("proc symbol data too small: %d bytes", len(data))
	}
	name, _ := streams.ParseString(data[35:])
	return &ProcSym{
		Parent:    binary.LittleEndian.Uint32(data[0:]),
		End:       binary.LittleEndian.Uint32(data[4:]),
		Next:      binary.LittleEndian.Uint32(data[8:]),
		Length:    binary.LittleEndian.Uint32(data[12:]),
		DbgStart:  binary.LittleEndian.Uint32(data[16:]),
		DbgEnd:    binary.LittleEndian.Uint32(data[20:]),
		TypeIndex: binary.LittleEndian.Uint32(data[24:]),
		Offset:    binary.LittleEndian.Uint32(data[28:]),
		Segment:   binary.LittleEndian.Uint16(data[32:]),
		Flags:     data[34],
		Name:      name,
	}, nil
}

// BlockSym is S_BLOCK32, a lexical block inside a procedure.
type BlockSym struct {
	Parent  uint32
	End     uint32
	Length  uint32
	Offset  uint32
	Segment uint16
	Name    string
}

// ParseBlockSym decodes a block record.
func ParseBlockSym(data []byte) (*BlockSym, error) {
	if len(data) < 18 {
		return nil, fmt.Errorf("block symbol data too small: %d bytes", len(data))
	}
	name, _ := streams.ParseString(data[18:])
	return &BlockSym{
		Parent:  binary.LittleEndian.Uint32(data[0:]),
		End:     binary.LittleEndian.Uint32(data[4:]),
		Length:  binary.LittleEndian.Uint32(data[8:]),
		Offset:  binary.LittleEndian.Uint32(data[12:]),
		Segment: binary.LittleEndian.Uint16(data[16:]),
		Name:    name,
	}, nil
}

// LabelSym is S_LABEL32.
type LabelSym struct {
	Offset  uint32
	Segment uint16
	Flags   uint8
	Name    string
}

// ParseLabelSym decodes a label record.
func ParseLabelSym(data []byte) (*LabelSym, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("label symbol data too small: %d bytes", len(data))
	}
	name, _ := streams.ParseString(data[7:])
	return &LabelSym{
		Offset:  binary.LittleEndian.Uint32(data[0:]),
		Segment: binary.LittleEndian.Uint16(data[4:]),
		Flags:   data[6],
		Name:    name,
	}, nil
}

// DataSym is S_GDATA32, S_LDATA32 and the thread-local variants.
type DataSym struct {
	TypeIndex uint32
	Offset    uint32
	Segment   uint16
	Name      string
}

// ParseDataSym decodes a data record.
func ParseDataSym(data []byte) (*DataSym, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("data symbol data too small: %d bytes", len(data))
	}
	name, _ := streams.ParseString(data[10:])
	return &DataSym{
		TypeIndex: binary.LittleEndian.Uint32(data[0:]),
		Offset:    binary.LittleEndian.Uint32(data[4:]),
		Segment:   binary.LittleEndian.Uint16(data[8:]),
		Name:      name,
	}, nil
}

// PubSym is S_PUB32.
type PubSym struct {
	Flags   uint32
	Offset  uint32
	Segment uint16
	Name    string
}

// ParsePubSym decodes a public record.
func ParsePubSym(data []byte) (*PubSym, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("public symbol data too small: %d bytes", len(data))
	}
	name, _ := streams.ParseString(data[10:])
	return &PubSym{
		Flags:   binary.LittleEndian.Uint32(data[0:]),
		Offset:  binary.LittleEndian.Uint32(data[4:]),
		Segment: binary.LittleEndian.Uint16(data[8:]),
		Name:    name,
	}, nil
}

// RefSym is S_PROCREF, S_LPROCREF or S_DATAREF: a pointer from the global
// stream into a module stream.
type RefSym struct {
	SumName uint32
	SymOff  uint32 // record offset within the module stream
	Module  uint16 // 1-based module index
	Name    string
}

// ParseRefSym decodes a reference record.
func ParseRefSym(data []byte) (*RefSym, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("reference symbol data too small: %d bytes", len(data))
	}
	name, _ := streams.ParseString(data[10:])
	return &RefSym{
		SumName: binary.LittleEndian.Uint32(data[0:]),
		SymOff:  binary.LittleEndian.Uint32(data[4:]),
		Module:  binary.LittleEndian.Uint16(data[8:]),
		Name:    name,
	}, nil
}

// IsProcSymbol reports whether kind is a procedure record this package
// decodes with ParseProcSym.
func IsProcSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_LPROC32, S_GPROC32_ID, S_LPROC32_ID, S_LPROC32_DPC, S_LPROC32_DPC_ID:
		return true
	}
	return false
}

// IsDataSymbol reports whether kind is a data record.
func IsDataSymbol(kind uint16) bool {
	switch kind {
	case S_GDATA32, S_LDATA32, S_GTHREAD32, S_LTHREAD32:
		return true
	}
	return false
}

// OpensScope reports whether records following one of kind are nested in it
// until the matching end record.
func OpensScope(kind uint16) bool {
	switch kind {
	case S_THUNK32, S_BLOCK32, S_WITH32, S_SEPCODE, S_GMANPROC, S_LMANPROC, S_INLINESITE, S_INLINESITE2:
		return true
	}
	return IsProcSymbol(kind)
}

// ClosesScope reports whether kind ends the innermost scope.
func ClosesScope(kind uint16) bool {
	return kind == S_END || kind == S_PROC_ID_END || kind == S_INLINESITE_END
}

// SymbolKindName returns the mnemonic of a record kind.
func SymbolKindName(kind uint16) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("S_0x%04x", kind)
}

var kindNames = map[uint16]string{
	S_END:            "S_END",
	S_THUNK32:        "S_THUNK32",
	S_BLOCK32:        "S_BLOCK32",
	S_WITH32:         "S_WITH32",
	S_LABEL32:        "S_LABEL32",
	S_CONSTANT:       "S_CONSTANT",
	S_UDT:            "S_UDT",
	S_LDATA32:        "S_LDATA32",
	S_GDATA32:        "S_GDATA32",
	S_PUB32:          "S_PUB32",
	S_LPROC32:        "S_LPROC32",
	S_GPROC32:        "S_GPROC32",
	S_LTHREAD32:      "S_LTHREAD32",
	S_GTHREAD32:      "S_GTHREAD32",
	S_PROCREF:        "S_PROCREF",
	S_DATAREF:        "S_DATAREF",
	S_LPROCREF:       "S_LPROCREF",
	S_SEPCODE:        "S_SEPCODE",
	S_LPROC32_ID:     "S_LPROC32_ID",
	S_GPROC32_ID:     "S_GPROC32_ID",
	S_INLINESITE:     "S_INLINESITE",
	S_INLINESITE_END: "S_INLINESITE_END",
	S_PROC_ID_END:    "S_PROC_ID_END",
}
