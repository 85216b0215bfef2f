package codeview

import (
	"encoding/binary"
	"fmt"
)

// C13 debug subsection kinds.
const (
	DEBUG_S_IGNORE      = 0x80000000
	DEBUG_S_SYMBOLS     = 0xf1
	DEBUG_S_LINES       = 0xf2
	DEBUG_S_STRINGTABLE = 0xf3
	DEBUG_S_FILECHKSMS  = 0xf4
)

// CV_LINES_HAVE_COLUMNS is set in a lines subsection header when every
// block carries a column table after its line table.
const CV_LINES_HAVE_COLUMNS = 0x0001

const lineNumberMask = 0x00ffffff

// LineEntry is one row of a module line table, resolved to the file
// checksum entry it belongs to.
type LineEntry struct {
	Segment uint16
	Offset  uint32 // section offset of the first instruction
	Line    uint32
	// FileID is the byte offset of the file's entry in the module's
	// checksum subsection.
	FileID uint32
}

// FileChecksum is one entry of a DEBUG_S_FILECHKSMS subsection.
type FileChecksum struct {
	NameOffset uint32 // offset into the /names string table
	Kind       uint8
	Checksum   []byte
}

// ModuleLines holds the decoded C13 line information of one module.
type ModuleLines struct {
	Lines []LineEntry
	Files map[uint32]FileChecksum
}

// ParseC13 decodes the C13 line subsections of a module stream.
func ParseC13(data []byte) (*ModuleLines, error) {
	ml := &ModuleLines{Files: make(map[uint32]FileChecksum)}
	off := 0
	for off+8 <= len(data) {
		kind := binary.LittleEndian.Uint32(data[off:])
		size := int(binary.LittleEndian.Uint32(data[off+4:]))
		off += 8
		if size < 0 || off+size > len(data) {
			return ml, fmt.Errorf("truncated debug subsection %#x at offset %d", kind, off-8)
		}
		body := data[off : off+size]
		off += (size + 3) &^ 3

		if kind&DEBUG_S_IGNORE != 0 {
			continue
		}
		var err error
		switch kind {
		case DEBUG_S_LINES:
			err = ml.parseLines(body)
		case DEBUG_S_FILECHKSMS:
			err = ml.parseChecksums(body)
		}
		if err != nil {
			return ml, err
		}
	}
	return ml, nil
}

func (ml *ModuleLines) parseLines(body []byte) error {
	if len(body) < 12 {
		return fmt.Errorf("lines subsection too small: %d bytes", len(body))
	}
	conOff := binary.LittleEndian.Uint32(body[0:])
	seg := binary.LittleEndian.Uint16(body[4:])
	flags := binary.LittleEndian.Uint16(body[6:])
	off := 12
	for off+12 <= len(body) {
		fileID := binary.LittleEndian.Uint32(body[off:])
		n := int(binary.LittleEndian.Uint32(body[off+4:]))
		blockSize := int(binary.LittleEndian.Uint32(body[off+8:]))
		if blockSize < 12 || off+blockSize > len(body) {
			return fmt.Errorf("truncated line block at offset %d", off)
		}
		need := 12 + n*8
		if flags&CV_LINES_HAVE_COLUMNS != 0 {
			need += n * 4
		}
		if n < 0 || need > blockSize {
			return fmt.Errorf("line block at offset %d claims %d lines in %d bytes", off, n, blockSize)
		}
		rows := body[off+12:]
		for i := 0; i < n; i++ {
			ml.Lines = append(ml.Lines, LineEntry{
				Segment: seg,
				Offset:  conOff + binary.LittleEndian.Uint32(rows[i*8:]),
				Line:    binary.LittleEndian.Uint32(rows[i*8+4:]) & lineNumberMask,
				FileID:  fileID,
			})
		}
		off += blockSize
	}
	return nil
}

func (ml *ModuleLines) parseChecksums(body []byte) error {
	off := 0
	for off+6 <= len(body) {
		n := int(body[off+4])
		if off+6+n > len(body) {
			return fmt.Errorf("truncated file checksum at offset %d", off)
		}
		ml.Files[uint32(off)] = FileChecksum{
			NameOffset: binary.LittleEndian.Uint32(body[off:]),
			Kind:       body[off+5],
			Checksum:   body[off+6 : off+6+n],
		}
		off = (off + 6 + n + 3) &^ 3
	}
	return nil
}
