package symbolsource

import "github.com/pkg/errors"

var (
	// ErrClosed is returned by operations on a closed Source.
	ErrClosed = errors.New("symbol source is closed")
	// ErrEmptyPath is returned when a required path is empty.
	ErrEmptyPath = errors.New("empty path")
	// ErrDiskPathMissing is returned when a source-file mapping names a disk
	// file that does not exist.
	ErrDiskPathMissing = errors.New("disk path does not exist")
	// ErrDiskPathMapped is returned when a disk file is already mapped to a
	// different debug-information path.
	ErrDiskPathMapped = errors.New("disk path already mapped")
	// ErrValidation is returned by providers whose debug information does not
	// match the requested validation data.
	ErrValidation = errors.New("debug information does not match the image")
)
