// Package symbolsource builds and serves the symbol and source-line indices of
// one loaded module. Indices are populated in the background from a debug
// information Provider and may be queried while population is in progress.
package symbolsource

import "fmt"

// SymbolKind classifies a symbol record.
type SymbolKind uint8

const (
	KindUnknown SymbolKind = iota
	KindPublic
	KindFunction
	KindData
	KindLabel
	KindBlock
)

var kindNames = [...]string{
	KindUnknown:  "unknown",
	KindPublic:   "public",
	KindFunction: "function",
	KindData:     "data",
	KindLabel:    "label",
	KindBlock:    "block",
}

func (k SymbolKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// SymbolEntry is one indexed symbol. Address is relative to the image base.
// Size is zero when unknown. Displacement is zero in the index and filled in
// by FindExactOrLower.
type SymbolEntry struct {
	Address         uint64     `json:"address"`
	Size            uint64     `json:"size,omitempty"`
	DecoratedName   string     `json:"decorated_name"`
	UndecoratedName string     `json:"undecorated_name,omitempty"`
	Public          bool       `json:"public"`
	Kind            SymbolKind `json:"kind"`
	Displacement    int64      `json:"displacement,omitempty"`
}

// Name returns the undecorated name when available, else the decorated one.
func (e SymbolEntry) Name() string {
	if e.UndecoratedName != "" {
		return e.UndecoratedName
	}
	return e.DecoratedName
}

// LineEntry maps one instruction address to a source line.
type LineEntry struct {
	Address         uint64
	Line            uint32
	SourceFileIndex uint32
}

// LineInfo is the answer to a line query. SourceFile has already been
// translated through the pdb-to-disk mapping.
type LineInfo struct {
	Address    uint64 `json:"address"`
	Line       uint32 `json:"line"`
	SourceFile string `json:"source_file"`
}

// InsertResult reports what AddressIndex.Insert did.
type InsertResult uint8

const (
	Inserted InsertResult = iota
	Replaced
	Kept
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Kept:
		return "kept"
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

// MarshalText renders the kind by name.
func (k SymbolKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
