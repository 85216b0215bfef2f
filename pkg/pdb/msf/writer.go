package msf

import (
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"fortio.org/safecast"
)

// Write lays streams out as an MSF container with the given block size. A
// nil stream is written as an unused directory slot. The directory block
// list must fit in a single block.
func Write(w io.Writer, blockSize uint32, streams [][]byte) error {
	if !slices.Contains(ValidBlockSizes, blockSize) {
		return fmt.Errorf("invalid block size: %d", blockSize)
	}
	sb := SuperBlock{BlockSize: blockSize, FreeBlockMapBlock: 1}
	copy(sb.Magic[:], Magic)

	// Blocks 0-2 hold the superblock and the two free block maps.
	next := uint32(3)
	var blocks []byte
	dir := binary.LittleEndian.AppendUint32(nil, uint32(len(streams)))
	for _, s := range streams {
		if s == nil {
			dir = binary.LittleEndian.AppendUint32(dir, NilStreamSize)
			continue
		}
		size, err := safecast.Conv[uint32](len(s))
		if err != nil {
			return fmt.Errorf("stream too large: %w", err)
		}
		dir = binary.LittleEndian.AppendUint32(dir, size)
	}
	for _, s := range streams {
		for off := 0; off < len(s); off += int(blockSize) {
			dir = binary.LittleEndian.AppendUint32(dir, next)
			blocks = appendBlock(blocks, s[off:min(off+int(blockSize), len(s))], blockSize)
			next++
		}
	}

	dirSize, err := safecast.Conv[uint32](len(dir))
	if err != nil {
		return fmt.Errorf("directory too large: %w", err)
	}
	sb.NumDirectoryBytes = dirSize
	var blockList []byte
	for off := 0; off < len(dir); off += int(blockSize) {
		blockList = binary.LittleEndian.AppendUint32(blockList, next)
		blocks = appendBlock(blocks, dir[off:min(off+int(blockSize), len(dir))], blockSize)
		next++
	}
	if len(blockList) > int(blockSize) {
		return fmt.Errorf("directory needs %d blocks, more than one block map holds", len(blockList)/4)
	}
	sb.BlockMapAddr = next
	blocks = appendBlock(blocks, blockList, blockSize)
	next++
	sb.NumBlocks = next

	header := make([]byte, 0, 3*blockSize)
	header, err = binary.Append(header, binary.LittleEndian, &sb)
	if err != nil {
		return fmt.Errorf("failed to encode superblock: %w", err)
	}
	header = append(header, make([]byte, 3*int(blockSize)-len(header))...)

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(blocks)
	return err
}

func appendBlock(dst, data []byte, blockSize uint32) []byte {
	dst = append(dst, data...)
	return append(dst, make([]byte, int(blockSize)-len(data))...)
}
