package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SectionHeaderSize is the encoded size of an IMAGE_SECTION_HEADER.
const SectionHeaderSize = 40

// SectionHeader is one image section header as copied into the PDB.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// SectionName returns the section name without NUL padding.
func (h *SectionHeader) SectionName() string {
	return string(bytes.TrimRight(h.Name[:], "\x00"))
}

// Sections maps segment:offset pairs to image-relative addresses.
type Sections []SectionHeader

// ReadSections decodes the section header stream.
func ReadSections(data []byte) (Sections, error) {
	if len(data)%SectionHeaderSize != 0 {
		return nil, fmt.Errorf("section header stream of %d bytes is not a multiple of %d", len(data), SectionHeaderSize)
	}
	secs := make(Sections, len(data)/SectionHeaderSize)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, secs); err != nil {
		return nil, fmt.Errorf("failed to read section headers: %w", err)
	}
	return secs, nil
}

// RVA translates a 1-based segment and an offset into an image-relative
// address.
func (s Sections) RVA(segment uint16, offset uint32) (uint64, bool) {
	if segment == 0 || int(segment) > len(s) {
		return 0, false
	}
	return uint64(s[segment-1].VirtualAddress) + uint64(offset), true
}

// ImageSize returns the end of the highest section.
func (s Sections) ImageSize() uint64 {
	var end uint64
	for _, h := range s {
		size := max(h.VirtualSize, h.SizeOfRawData)
		end = max(end, uint64(h.VirtualAddress)+uint64(size))
	}
	return end
}
