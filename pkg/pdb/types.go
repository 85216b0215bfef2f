// Package pdb reads Microsoft PDB files and serves them as a debug
// information provider for symbolsource.
package pdb

// Info summarizes an opened PDB file.
type Info struct {
	Path         string            `json:"path"`
	GUID         string            `json:"guid"`
	Age          uint32            `json:"age"`
	Version      uint32            `json:"version"`
	Machine      string            `json:"machine"`
	Streams      int               `json:"streams"`
	Types        int               `json:"types"`
	ImageSize    uint64            `json:"image_size"`
	NamedStreams map[string]uint32 `json:"named_streams,omitempty"`
	Sections     []SectionInfo     `json:"sections,omitempty"`
	Modules      []ModuleInfo      `json:"modules,omitempty"`
}

// SectionInfo describes one image section.
type SectionInfo struct {
	Index          uint16 `json:"index"` // 1-based, as used by segment fields
	Name           string `json:"name,omitempty"`
	VirtualAddress uint32 `json:"virtual_address"`
	VirtualSize    uint32 `json:"virtual_size"`
}

// ModuleInfo describes one compiland.
type ModuleInfo struct {
	Name         string `json:"name"`
	ObjectFile   string `json:"object_file"`
	SymbolStream uint16 `json:"symbol_stream"`
	SymbolSize   uint32 `json:"symbol_size"`
	LineSize     uint32 `json:"line_size"`
	SourceFiles  uint16 `json:"source_files"`
}
