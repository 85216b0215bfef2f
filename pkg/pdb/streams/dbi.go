package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DBIStreamVersionV70 is the DBI version written by every modern toolchain.
const DBIStreamVersionV70 = 19990903

// Machine types.
const (
	MachineUnknown = 0x0000
	MachineI386    = 0x014c
	MachineIA64    = 0x0200
	MachineAMD64   = 0x8664
	MachineARM     = 0x01c0
	MachineARM64   = 0xAA64
)

// NilStream is the 16-bit stream index meaning "no stream".
const NilStream = 0xFFFF

// DBIHeaderSize is the encoded size of DBIHeader.
const DBIHeaderSize = 64

// DBIHeader is the fixed header of the DBI stream.
type DBIHeader struct {
	VersionSignature        int32 // -1
	VersionHeader           uint32
	Age                     uint32
	GlobalStreamIndex       uint16
	BuildNumber             uint16
	PublicStreamIndex       uint16
	PdbDllVersion           uint16
	SymRecordStream         uint16
	PdbDllRbld              uint16
	ModInfoSize             int32
	SectionContributionSize int32
	SectionMapSize          int32
	SourceInfoSize          int32
	TypeServerMapSize       int32
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   int32
	ECSubstreamSize         int32
	Flags                   uint16
	Machine                 uint16
	Padding                 uint32
}

// Optional debug header slots.
const (
	DbgHeaderFPO = iota
	DbgHeaderException
	DbgHeaderFixup
	DbgHeaderOmapToSrc
	DbgHeaderOmapFromSrc
	DbgHeaderSectionHdr
	DbgHeaderTokenRidMap
	DbgHeaderXdata
	DbgHeaderPdata
	DbgHeaderNewFPO
	DbgHeaderOriginalSectionHdr
)

// moduleInfoFixedSize is the size of a module record before its names.
const moduleInfoFixedSize = 64

// DBIStream is the decoded DBI stream.
type DBIStream struct {
	Header  DBIHeader
	Modules []ModuleInfo
	// DbgStreams holds the optional debug header stream indices.
	DbgStreams []uint16
}

// ModuleInfo describes one compiland.
type ModuleInfo struct {
	Index           int
	Flags           uint16
	SymStream       uint16 // NilStream when the module has no symbols
	SymByteSize     uint32
	C11ByteSize     uint32
	C13ByteSize     uint32
	SourceFileCount uint16
	ModuleName      string
	ObjFileName     string
}

// ReadDBIStream decodes the DBI header, the module list and the optional
// debug header.
func ReadDBIStream(data []byte) (*DBIStream, error) {
	if len(data) < DBIHeaderSize {
		return nil, fmt.Errorf("DBI stream too small: %d bytes", len(data))
	}
	var h DBIHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read DBI header: %w", err)
	}
	if h.VersionSignature != -1 {
		return nil, fmt.Errorf("invalid DBI version signature: %d", h.VersionSignature)
	}

	dbi := &DBIStream{Header: h}
	off := DBIHeaderSize
	sub := func(size int32) ([]byte, error) {
		if size < 0 || off+int(size) > len(data) {
			return nil, fmt.Errorf("DBI substream at %d of size %d exceeds %d bytes", off, size, len(data))
		}
		b := data[off : off+int(size)]
		off += int(size)
		return b, nil
	}

	modInfo, err := sub(h.ModInfoSize)
	if err != nil {
		return nil, err
	}
	dbi.Modules = parseModuleInfo(modInfo)

	// Substreams between the module list and the debug header are not used.
	for _, size := range []int32{h.SectionContributionSize, h.SectionMapSize, h.SourceInfoSize, h.TypeServerMapSize, h.ECSubstreamSize} {
		if _, err := sub(size); err != nil {
			return nil, err
		}
	}

	dbgHeader, err := sub(h.OptionalDbgHeaderSize)
	if err != nil {
		return nil, err
	}
	for i := 0; i+2 <= len(dbgHeader); i += 2 {
		dbi.DbgStreams = append(dbi.DbgStreams, binary.LittleEndian.Uint16(dbgHeader[i:]))
	}
	return dbi, nil
}

// DbgStream returns the stream index of optional debug header slot, or
// NilStream.
func (d *DBIStream) DbgStream(slot int) uint16 {
	if slot < 0 || slot >= len(d.DbgStreams) {
		return NilStream
	}
	return d.DbgStreams[slot]
}

// parseModuleInfo decodes module records: a 64-byte fixed part (embedding a
// 28-byte section contribution at offset 4), two NUL-terminated names, then
// padding to 4 bytes.
func parseModuleInfo(data []byte) []ModuleInfo {
	var mods []ModuleInfo
	off := 0
	for off+moduleInfoFixedSize <= len(data) {
		rec := data[off:]
		mod := ModuleInfo{
			Index:           len(mods),
			Flags:           binary.LittleEndian.Uint16(rec[32:]),
			SymStream:       binary.LittleEndian.Uint16(rec[34:]),
			SymByteSize:     binary.LittleEndian.Uint32(rec[36:]),
			C11ByteSize:     binary.LittleEndian.Uint32(rec[40:]),
			C13ByteSize:     binary.LittleEndian.Uint32(rec[44:]),
			SourceFileCount: binary.LittleEndian.Uint16(rec[48:]),
		}
		off += moduleInfoFixedSize

		name, n := ParseString(data[off:])
		mod.ModuleName = name
		off += n
		obj, n := ParseString(data[off:])
		mod.ObjFileName = obj
		off += n
		off = (off + 3) &^ 3

		mods = append(mods, mod)
	}
	return mods
}

// HasSymbols reports whether the module has a symbol stream.
func (m *ModuleInfo) HasSymbols() bool {
	return m.SymStream != NilStream && m.SymByteSize > 0
}

// MachineTypeName returns a short name for a machine type.
func MachineTypeName(machine uint16) string {
	switch machine {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineARM:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineIA64:
		return "IA64"
	default:
		return fmt.Sprintf("0x%04x", machine)
	}
}

// ParseString reads a NUL-terminated string and returns it with the number
// of bytes consumed, terminator included.
func ParseString(data []byte) (string, int) {
	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return string(data), len(data)
	}
	return string(data[:idx]), idx + 1
}
