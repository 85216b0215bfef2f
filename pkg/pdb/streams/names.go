package streams

import (
	"encoding/binary"
	"fmt"
)

// NamesSignature starts the /names stream.
const NamesSignature = 0xEFFEEFFE

// StringTable is the /names string table that C13 file checksums refer to
// by offset.
type StringTable struct {
	buf []byte
}

// ReadStringTable decodes the /names stream header and keeps its buffer.
func ReadStringTable(data []byte) (*StringTable, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("string table too small: %d bytes", len(data))
	}
	if sig := binary.LittleEndian.Uint32(data); sig != NamesSignature {
		return nil, fmt.Errorf("invalid string table signature: %#x", sig)
	}
	size := binary.LittleEndian.Uint32(data[8:])
	if uint64(size) > uint64(len(data)-12) {
		return nil, fmt.Errorf("string table buffer of %d bytes exceeds stream", size)
	}
	return &StringTable{buf: data[12 : 12+size]}, nil
}

// String returns the NUL-terminated string at offset.
func (t *StringTable) String(offset uint32) (string, bool) {
	if t == nil || uint64(offset) >= uint64(len(t.buf)) {
		return "", false
	}
	s, _ := ParseString(t.buf[offset:])
	return s, true
}
