// Package pdbtest builds small synthetic PDB files for tests.
package pdbtest

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spf13/afero"

	"github.com/jtang613/pdbsym/pkg/pdb/codeview"
	"github.com/jtang613/pdbsym/pkg/pdb/msf"
	"github.com/jtang613/pdbsym/pkg/pdb/streams"
)

// Fixed stream layout of the files written by Builder.
const (
	streamNames    = 5
	streamSections = 6
	streamGlobals  = 7
	firstModule    = 8
)

// Section is one image section.
type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
}

// LineBlock is the line table of one contribution of one source file.
type LineBlock struct {
	Segment uint16
	Offset  uint32 // section offset the row offsets are relative to
	File    string
	Rows    []LineRow
}

// LineRow maps a code offset within its block to a line.
type LineRow struct {
	Offset uint32
	Line   uint32
}

// Module is one compiland. Symbols are encoded records, see Proc and the
// other record helpers. A module without symbols and lines gets no stream.
type Module struct {
	Name    string
	Symbols [][]byte
	Lines   []LineBlock
}

// ProcRef is a global procedure reference to Modules[Module].Symbols[Symbol].
type ProcRef struct {
	Module int
	Symbol int
	Name   string
	Local  bool
}

// Builder describes a PDB file.
type Builder struct {
	GUID     [16]byte
	Age      uint32
	Machine  uint16
	Sections []Section
	Modules  []Module
	// Globals are encoded records of the symbol record stream, written
	// before the procedure references.
	Globals  [][]byte
	ProcRefs []ProcRef
	// Types are encoded type records numbered from 0x1000, see Type.
	Types [][]byte
}

// WriteFile builds the PDB and stores it at path on fs.
func (b *Builder) WriteFile(fs afero.Fs, path string) error {
	data, err := b.Build()
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, path, data, 0o644)
}

// Build encodes the PDB as an MSF container.
func (b *Builder) Build() ([]byte, error) {
	names := newStringTable()
	msfStreams := make([][]byte, firstModule, firstModule+len(b.Modules))
	msfStreams[0] = []byte{}
	msfStreams[streams.StreamPDBInfo] = b.infoStream()
	msfStreams[streams.StreamTPI] = b.typeStream()
	// IPI is left unused.

	var modInfo []byte
	offsets := make([][]uint32, len(b.Modules))
	for i, mod := range b.Modules {
		symStream := uint16(streams.NilStream)
		var symSize, c13Size uint32
		if len(mod.Symbols) > 0 || len(mod.Lines) > 0 {
			symStream = uint16(len(msfStreams))
			syms := binary.LittleEndian.AppendUint32(nil, codeview.CVSignatureC13)
			for _, rec := range mod.Symbols {
				offsets[i] = append(offsets[i], uint32(len(syms)))
				syms = append(syms, rec...)
			}
			c13 := lineSubsections(mod.Lines, names)
			symSize, c13Size = uint32(len(syms)), uint32(len(c13))
			msfStreams = append(msfStreams, append(syms, c13...))
		}
		modInfo = appendModuleInfo(modInfo, mod.Name, symStream, symSize, c13Size)
	}

	globals := bytes.Join(b.Globals, nil)
	for _, ref := range b.ProcRefs {
		if ref.Module < 0 || ref.Module >= len(b.Modules) || ref.Symbol < 0 || ref.Symbol >= len(offsets[ref.Module]) {
			return nil, fmt.Errorf("procedure reference %q points at a missing symbol", ref.Name)
		}
		kind := uint16(codeview.S_PROCREF)
		if ref.Local {
			kind = codeview.S_LPROCREF
		}
		globals = append(globals, refRecord(kind, offsets[ref.Module][ref.Symbol], uint16(ref.Module+1), ref.Name)...)
	}
	msfStreams[streamGlobals] = globals

	var sections bytes.Buffer
	for _, s := range b.Sections {
		h := streams.SectionHeader{VirtualAddress: s.VirtualAddress, VirtualSize: s.VirtualSize, SizeOfRawData: s.VirtualSize}
		copy(h.Name[:], s.Name)
		binary.Write(&sections, binary.LittleEndian, &h)
	}
	msfStreams[streamSections] = sections.Bytes()
	msfStreams[streamNames] = names.encode()
	msfStreams[streams.StreamDBI] = b.dbiStream(modInfo)

	var out bytes.Buffer
	if err := msf.Write(&out, 4096, msfStreams); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (b *Builder) infoStream() []byte {
	out := binary.LittleEndian.AppendUint32(nil, streams.PDBStreamVersionVC70)
	out = binary.LittleEndian.AppendUint32(out, 0x5f3759df)
	out = binary.LittleEndian.AppendUint32(out, b.Age)
	out = append(out, b.GUID[:]...)

	// Named stream map with the single entry /names.
	key := streams.NamesStreamName + "\x00"
	out = binary.LittleEndian.AppendUint32(out, uint32(len(key)))
	out = append(out, key...)
	for _, v := range []uint32{1, 1, 1, 1, 0, 0, streamNames} { // size, capacity, present, deleted, pair
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

func (b *Builder) typeStream() []byte {
	records := bytes.Join(b.Types, nil)
	h := make([]byte, streams.TPIHeaderSize)
	binary.LittleEndian.PutUint32(h[0:], streams.TPIStreamVersionV80)
	binary.LittleEndian.PutUint32(h[4:], streams.TPIHeaderSize)
	binary.LittleEndian.PutUint32(h[8:], streams.TypeIndexBegin)
	binary.LittleEndian.PutUint32(h[12:], streams.TypeIndexBegin+uint32(len(b.Types)))
	binary.LittleEndian.PutUint32(h[16:], uint32(len(records)))
	binary.LittleEndian.PutUint16(h[20:], streams.NilStream)
	binary.LittleEndian.PutUint16(h[22:], streams.NilStream)
	return append(h, records...)
}

func (b *Builder) dbiStream(modInfo []byte) []byte {
	dbg := make([]byte, 0, 2*(streams.DbgHeaderOriginalSectionHdr+1))
	for slot := 0; slot <= streams.DbgHeaderOriginalSectionHdr; slot++ {
		idx := uint16(streams.NilStream)
		if slot == streams.DbgHeaderSectionHdr {
			idx = streamSections
		}
		dbg = binary.LittleEndian.AppendUint16(dbg, idx)
	}
	h := streams.DBIHeader{
		VersionSignature:      -1,
		VersionHeader:         streams.DBIStreamVersionV70,
		Age:                   b.Age,
		GlobalStreamIndex:     streams.NilStream,
		PublicStreamIndex:     streams.NilStream,
		SymRecordStream:       streamGlobals,
		ModInfoSize:           int32(len(modInfo)),
		OptionalDbgHeaderSize: int32(len(dbg)),
		Machine:               b.Machine,
	}
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, &h)
	out.Write(modInfo)
	out.Write(dbg)
	return out.Bytes()
}

func appendModuleInfo(dst []byte, name string, symStream uint16, symSize, c13Size uint32) []byte {
	rec := make([]byte, 64)
	binary.LittleEndian.PutUint16(rec[34:], symStream)
	binary.LittleEndian.PutUint32(rec[36:], symSize)
	binary.LittleEndian.PutUint32(rec[44:], c13Size)
	rec = append(rec, name...)
	rec = append(rec, 0)
	rec = append(rec, name...) // object file
	rec = append(rec, 0)
	for len(rec)%4 != 0 {
		rec = append(rec, 0)
	}
	return append(dst, rec...)
}

// lineSubsections encodes a file checksum subsection followed by one lines
// subsection per block.
func lineSubsections(blocks []LineBlock, names *stringTable) []byte {
	if len(blocks) == 0 {
		return nil
	}
	fileIDs := make(map[string]uint32)
	var checksums []byte
	for _, blk := range blocks {
		if _, ok := fileIDs[blk.File]; ok {
			continue
		}
		fileIDs[blk.File] = uint32(len(checksums))
		checksums = binary.LittleEndian.AppendUint32(checksums, names.add(blk.File))
		checksums = append(checksums, 0, 0, 0, 0) // no checksum, padding
	}
	out := appendSubsection(nil, codeview.DEBUG_S_FILECHKSMS, checksums)

	for _, blk := range blocks {
		var body []byte
		var size uint32
		if n := len(blk.Rows); n > 0 {
			size = blk.Rows[n-1].Offset + 1
		}
		body = binary.LittleEndian.AppendUint32(body, blk.Offset)
		body = binary.LittleEndian.AppendUint16(body, blk.Segment)
		body = binary.LittleEndian.AppendUint16(body, 0)
		body = binary.LittleEndian.AppendUint32(body, size)
		body = binary.LittleEndian.AppendUint32(body, fileIDs[blk.File])
		body = binary.LittleEndian.AppendUint32(body, uint32(len(blk.Rows)))
		body = binary.LittleEndian.AppendUint32(body, uint32(12+8*len(blk.Rows)))
		for _, row := range blk.Rows {
			body = binary.LittleEndian.AppendUint32(body, row.Offset)
			body = binary.LittleEndian.AppendUint32(body, row.Line|0x80000000)
		}
		out = appendSubsection(out, codeview.DEBUG_S_LINES, body)
	}
	return out
}

func appendSubsection(dst []byte, kind uint32, body []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, kind)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
	dst = append(dst, body...)
	for len(dst)%4 != 0 {
		dst = append(dst, 0)
	}
	return dst
}

type stringTable struct {
	buf     []byte
	offsets map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{buf: []byte{0}, offsets: make(map[string]uint32)}
}

func (t *stringTable) add(s string) uint32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := uint32(len(t.buf))
	t.buf = append(append(t.buf, s...), 0)
	t.offsets[s] = off
	return off
}

func (t *stringTable) encode() []byte {
	out := binary.LittleEndian.AppendUint32(nil, streams.NamesSignature)
	out = binary.LittleEndian.AppendUint32(out, 1)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(t.buf)))
	return append(out, t.buf...)
}
