// Package msf reads and writes Microsoft's Multi-Stream Format container, the
// block-structured file format PDB files are stored in.
package msf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
)

// Magic is the MSF 7.00 signature at the start of every PDB.
var Magic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// SuperBlockSize is the encoded size of SuperBlock.
const SuperBlockSize = 56

// ValidBlockSizes are the block sizes an MSF file may use.
var ValidBlockSizes = []uint32{512, 1024, 2048, 4096}

// SuperBlock is the header at offset zero of an MSF file.
type SuperBlock struct {
	Magic             [32]byte
	BlockSize         uint32
	FreeBlockMapBlock uint32 // 1 or 2
	NumBlocks         uint32
	NumDirectoryBytes uint32
	Unknown           uint32
	BlockMapAddr      uint32 // block holding the directory block list
}

// ReadSuperBlock decodes and validates the header read from r.
func ReadSuperBlock(r io.Reader) (*SuperBlock, error) {
	var sb SuperBlock
	if err := binary.Read(r, binary.LittleEndian, &sb); err != nil {
		return nil, fmt.Errorf("failed to read superblock: %w", err)
	}
	if err := sb.Validate(); err != nil {
		return nil, err
	}
	return &sb, nil
}

// Validate checks the magic and the layout parameters.
func (sb *SuperBlock) Validate() error {
	if !bytes.Equal(sb.Magic[:], Magic) {
		return fmt.Errorf("invalid MSF magic: not a PDB file")
	}
	if !slices.Contains(ValidBlockSizes, sb.BlockSize) {
		return fmt.Errorf("invalid block size: %d", sb.BlockSize)
	}
	if sb.FreeBlockMapBlock != 1 && sb.FreeBlockMapBlock != 2 {
		return fmt.Errorf("invalid free block map block: %d (must be 1 or 2)", sb.FreeBlockMapBlock)
	}
	if sb.BlockMapAddr >= sb.NumBlocks {
		return fmt.Errorf("block map address %d beyond %d blocks", sb.BlockMapAddr, sb.NumBlocks)
	}
	return nil
}

// blocksFor returns the number of blocks needed for n bytes.
func (sb *SuperBlock) blocksFor(n uint32) uint32 {
	return (n + sb.BlockSize - 1) / sb.BlockSize
}

// FileSize returns the file size implied by the block count.
func (sb *SuperBlock) FileSize() int64 {
	return int64(sb.NumBlocks) * int64(sb.BlockSize)
}
