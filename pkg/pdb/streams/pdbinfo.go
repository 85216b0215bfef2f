// Package streams decodes the fixed-index PDB streams: the PDB info stream,
// DBI, TPI, the /names string table and the section header stream.
package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Fixed stream indices.
const (
	StreamPDBInfo = 1
	StreamTPI     = 2
	StreamDBI     = 3
	StreamIPI     = 4
)

// PDB info stream versions.
const (
	PDBStreamVersionVC70  = 20000404
	PDBStreamVersionVC80  = 20030901
	PDBStreamVersionVC110 = 20091201
	PDBStreamVersionVC140 = 20140508
)

// NamesStreamName is the named stream holding the string table.
const NamesStreamName = "/names"

// PDBInfo is the content of the PDB info stream.
type PDBInfo struct {
	Version      uint32
	Signature    uint32
	Age          uint32
	GUID         [16]byte
	NamedStreams map[string]uint32
}

type pdbInfoHeader struct {
	Version   uint32
	Signature uint32
	Age       uint32
	GUID      [16]byte
}

// ReadPDBInfo decodes the PDB info stream. A missing or damaged named stream
// map leaves NamedStreams empty.
func ReadPDBInfo(r io.Reader) (*PDBInfo, error) {
	var h pdbInfoHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read PDB info header: %w", err)
	}
	info := &PDBInfo{
		Version:      h.Version,
		Signature:    h.Signature,
		Age:          h.Age,
		GUID:         h.GUID,
		NamedStreams: make(map[string]uint32),
	}
	readNamedStreams(r, info.NamedStreams)
	return info, nil
}

// readNamedStreams decodes the serialized hash table that follows the
// header: a string buffer, then size, capacity, present and deleted bit
// vectors, then one (name offset, stream) pair per present bucket.
func readNamedStreams(r io.Reader, out map[string]uint32) {
	u32 := func() (uint32, bool) {
		var v uint32
		return v, binary.Read(r, binary.LittleEndian, &v) == nil
	}
	bufSize, ok := u32()
	if !ok {
		return
	}
	buf := make([]byte, bufSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return
	}
	if _, ok = u32(); !ok { // entry count
		return
	}
	capacity, ok := u32()
	if !ok {
		return
	}
	present, ok := readBitVector(r)
	if !ok {
		return
	}
	if _, ok = readBitVector(r); !ok { // deleted
		return
	}
	for i := uint32(0); i < capacity; i++ {
		if !bitSet(present, i) {
			continue
		}
		keyOff, ok1 := u32()
		stream, ok2 := u32()
		if !ok1 || !ok2 {
			return
		}
		if keyOff < bufSize {
			out[cString(buf[keyOff:])] = stream
		}
	}
}

func readBitVector(r io.Reader) ([]uint32, bool) {
	var n uint32
	if binary.Read(r, binary.LittleEndian, &n) != nil {
		return nil, false
	}
	words := make([]uint32, n)
	if binary.Read(r, binary.LittleEndian, words) != nil {
		return nil, false
	}
	return words, true
}

func bitSet(words []uint32, n uint32) bool {
	if int(n/32) >= len(words) {
		return false
	}
	return words[n/32]&(1<<(n%32)) != 0
}

// GUIDString formats the GUID the way symbol servers key PDBs.
func (p *PDBInfo) GUIDString() string {
	return FormatGUID(p.GUID)
}

// FormatGUID renders g as 32 upper-case hex digits, the first three fields
// in little-endian order.
func FormatGUID(g [16]byte) string {
	return fmt.Sprintf("%08X%04X%04X%X",
		binary.LittleEndian.Uint32(g[0:4]),
		binary.LittleEndian.Uint16(g[4:6]),
		binary.LittleEndian.Uint16(g[6:8]),
		g[8:16])
}

// MatchesGUID compares s with the GUID, ignoring case and the dashes and
// braces of the registry format.
func (p *PDBInfo) MatchesGUID(s string) bool {
	s = strings.NewReplacer("-", "", "{", "", "}", "").Replace(s)
	return strings.EqualFold(s, p.GUIDString())
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
