package msf

import "io"

// Stream is one logical stream of an MSF file. Its blocks need not be
// contiguous in the file.
type Stream struct {
	msf    *File
	size   uint32
	blocks []uint32
}

// Size returns the stream length in bytes.
func (s *Stream) Size() uint32 { return s.size }

// ReadAt implements io.ReaderAt over the stream's logical bytes.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(s.size) {
		return 0, io.EOF
	}
	n := min(int64(len(p)), int64(s.size)-off)
	if err := s.msf.readBlocks(p[:n], s.blocks, off); err != nil {
		return 0, err
	}
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// Reader returns a sequential reader over the stream.
func (s *Stream) Reader() *io.SectionReader {
	return io.NewSectionReader(s, 0, int64(s.size))
}

// ReadAll reads the entire stream.
func (s *Stream) ReadAll() ([]byte, error) {
	data := make([]byte, s.size)
	if _, err := s.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}
