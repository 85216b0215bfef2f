package msf

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/afero"
)

// NilStreamSize marks an unused directory slot.
const NilStreamSize = 0xFFFFFFFF

// File is an opened MSF container.
type File struct {
	// mu serializes reads: afero in-memory files implement ReadAt with a
	// shared cursor.
	mu     sync.Mutex
	r      io.ReaderAt
	closer io.Closer
	sb     *SuperBlock
	sizes  []uint32
	blocks [][]uint32
}

// Open opens the MSF file at path on fs.
func Open(fs afero.Fs, path string) (*File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	m, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	m.closer = f
	return m, nil
}

// New reads the container layout from r. The caller keeps ownership of r.
func New(r io.ReaderAt) (*File, error) {
	sb, err := ReadSuperBlock(io.NewSectionReader(r, 0, SuperBlockSize))
	if err != nil {
		return nil, err
	}
	m := &File{r: r, sb: sb}
	if err := m.readDirectory(); err != nil {
		return nil, fmt.Errorf("failed to read stream directory: %w", err)
	}
	return m, nil
}

// Close releases the underlying file when the File was created by Open.
func (m *File) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// SuperBlock returns the container header.
func (m *File) SuperBlock() *SuperBlock { return m.sb }

// NumStreams returns the number of directory slots.
func (m *File) NumStreams() int { return len(m.sizes) }

func (m *File) readDirectory() error {
	sb := m.sb
	numDirBlocks := sb.blocksFor(sb.NumDirectoryBytes)

	blockList := make([]byte, 4*numDirBlocks)
	if _, err := m.r.ReadAt(blockList, int64(sb.BlockMapAddr)*int64(sb.BlockSize)); err != nil {
		return fmt.Errorf("failed to read directory block list: %w", err)
	}
	dirBlocks := make([]uint32, numDirBlocks)
	for i := range dirBlocks {
		dirBlocks[i] = binary.LittleEndian.Uint32(blockList[4*i:])
	}

	dir := make([]byte, sb.NumDirectoryBytes)
	if err := m.readBlocks(dir, dirBlocks, 0); err != nil {
		return err
	}
	return m.parseDirectory(dir)
}

func (m *File) parseDirectory(dir []byte) error {
	words := len(dir) / 4
	word := func(i int) uint32 { return binary.LittleEndian.Uint32(dir[4*i:]) }
	if words < 1 {
		return fmt.Errorf("empty stream directory")
	}

	n := int(word(0))
	if 1+n > words {
		return fmt.Errorf("stream directory declares %d streams in %d bytes", n, len(dir))
	}
	m.sizes = make([]uint32, n)
	m.blocks = make([][]uint32, n)
	next := 1 + n
	for i := 0; i < n; i++ {
		size := word(1 + i)
		m.sizes[i] = size
		if size == NilStreamSize {
			continue
		}
		count := int(m.sb.blocksFor(size))
		if next+count > words {
			return fmt.Errorf("stream %d block list truncated", i)
		}
		list := make([]uint32, count)
		for j := range list {
			list[j] = word(next + j)
			if list[j] >= m.sb.NumBlocks {
				return fmt.Errorf("stream %d references block %d beyond %d blocks", i, list[j], m.sb.NumBlocks)
			}
		}
		m.blocks[i] = list
		next += count
	}
	return nil
}

// readBlocks fills p with the bytes that start at off within the stream
// made of blocks.
func (m *File) readBlocks(p []byte, blocks []uint32, off int64) error {
	bs := int64(m.sb.BlockSize)
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(p) > 0 {
		idx := off / bs
		if idx >= int64(len(blocks)) {
			return io.ErrUnexpectedEOF
		}
		within := off % bs
		n := min(int64(len(p)), bs-within)
		if _, err := m.r.ReadAt(p[:n], int64(blocks[idx])*bs+within); err != nil {
			return fmt.Errorf("failed to read block %d: %w", blocks[idx], err)
		}
		p = p[n:]
		off += n
	}
	return nil
}

// Stream returns the stream in directory slot index. Unused slots yield an
// empty stream.
func (m *File) Stream(index int) (*Stream, error) {
	if index < 0 || index >= len(m.sizes) {
		return nil, fmt.Errorf("stream index %d out of range [0, %d)", index, len(m.sizes))
	}
	size := m.sizes[index]
	if size == NilStreamSize {
		size = 0
	}
	return &Stream{msf: m, size: size, blocks: m.blocks[index]}, nil
}

// ReadStream returns the whole content of stream index.
func (m *File) ReadStream(index int) ([]byte, error) {
	s, err := m.Stream(index)
	if err != nil {
		return nil, err
	}
	return s.ReadAll()
}
