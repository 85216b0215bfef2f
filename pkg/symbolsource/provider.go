package symbolsource

import (
	"context"
	"io"
)

// SymbolRecord is one symbol as reported by a Provider.
type SymbolRecord struct {
	// ID identifies the record inside the provider. Records reached twice
	// through the scope graph carry the same ID. Zero means no identity.
	ID              uint64
	Kind            SymbolKind
	Name            string
	UndecoratedName string
	// Address is the image-relative address. It is only meaningful when
	// HasAddress is set.
	Address    uint64
	HasAddress bool
	// Offset is the raw section offset the address was computed from. An
	// Address equal to Offset means the provider could not relocate it.
	Offset uint64
	Size   uint64
}

// LineRecord is one line-table row as reported by a Provider.
type LineRecord struct {
	Address uint64
	Line    uint32
	File    string
}

// Provider is the debug-information source an index is populated from.
// Providers are only called from the population goroutines and from Resolve,
// never while an index lock is held.
type Provider interface {
	// EnumerateSymbols walks every symbol of the module depth first through
	// its lexical scopes. Enumeration stops when visit returns false.
	EnumerateSymbols(ctx context.Context, visit func(SymbolRecord) bool) error
	// EnumerateLines returns the line rows whose address lies in
	// [start, start+length), keyed by address.
	EnumerateLines(ctx context.Context, start, length uint64) (map[uint64]LineRecord, error)
	// ResolveAddress finds the symbol of the given kind covering addr.
	ResolveAddress(ctx context.Context, addr uint64, kind SymbolKind) (SymbolRecord, bool, error)
	io.Closer
}

// ImageSizer is implemented by providers that know the size of the image
// their debug information describes.
type ImageSizer interface {
	ImageSize() uint64
}

// ValidationData identifies the exact debug information an image expects.
type ValidationData struct {
	GUID string
	Age  uint32
}

// Opener opens a Provider for a debug information file.
type Opener interface {
	Open(path string, validation *ValidationData) (Provider, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string, validation *ValidationData) (Provider, error)

// Open calls f.
func (f OpenerFunc) Open(path string, validation *ValidationData) (Provider, error) {
	return f(path, validation)
}
