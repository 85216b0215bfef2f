package pdb

import (
	"fmt"

	"fortio.org/safecast"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/jtang613/pdbsym/pkg/pdb/msf"
	"github.com/jtang613/pdbsym/pkg/pdb/streams"
	"github.com/jtang613/pdbsym/pkg/symbolsource"
)

// Options configure Open.
type Options struct {
	// Fs is the filesystem the PDB is read from. Nil means the OS.
	Fs afero.Fs
	// Validation, when set, must match the GUID and age stored in the PDB.
	Validation *symbolsource.ValidationData
	Logger     log.Logger
}

// PDB is an opened PDB file. It implements symbolsource.Provider and
// symbolsource.ImageSizer.
type PDB struct {
	path     string
	msf      *msf.File
	info     *streams.PDBInfo
	dbi      *streams.DBIStream
	types    *streams.TypeTable
	sections streams.Sections
	names    *streams.StringTable
	logger   log.Logger

	lines    lineTable
	resolver resolver
}

// Open opens a PDB file and parses its core structures.
func Open(path string, opts Options) (*PDB, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	m, err := msf.Open(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MSF: %w", err)
	}
	p := &PDB{path: path, msf: m, logger: log.With(logger, "pdb", path)}
	if err := p.load(); err != nil {
		m.Close()
		return nil, err
	}
	if err := p.validate(opts.Validation); err != nil {
		m.Close()
		return nil, err
	}
	return p, nil
}

// Opener returns a symbolsource.Opener reading PDB files from fs.
func Opener(fs afero.Fs, logger log.Logger) symbolsource.Opener {
	return symbolsource.OpenerFunc(func(path string, validation *symbolsource.ValidationData) (symbolsource.Provider, error) {
		return Open(path, Options{Fs: fs, Validation: validation, Logger: logger})
	})
}

func (p *PDB) load() error {
	if p.msf.NumStreams() <= streams.StreamDBI {
		return fmt.Errorf("PDB has %d streams, want at least %d", p.msf.NumStreams(), streams.StreamDBI+1)
	}

	s, err := p.msf.Stream(streams.StreamPDBInfo)
	if err != nil {
		return err
	}
	if p.info, err = streams.ReadPDBInfo(s.Reader()); err != nil {
		return err
	}

	data, err := p.msf.ReadStream(streams.StreamDBI)
	if err != nil {
		return fmt.Errorf("failed to read DBI stream: %w", err)
	}
	if p.dbi, err = streams.ReadDBIStream(data); err != nil {
		return err
	}

	// The remaining streams only refine the results; damage is logged.
	if data, err := p.msf.ReadStream(streams.StreamTPI); err != nil {
		level.Warn(p.logger).Log("msg", "failed to read TPI stream", "err", err)
	} else if len(data) > 0 {
		if p.types, err = streams.ReadTypeTable(data); err != nil {
			level.Warn(p.logger).Log("msg", "ignoring type information", "err", err)
		}
	}

	if idx := p.dbi.DbgStream(streams.DbgHeaderSectionHdr); idx != streams.NilStream {
		data, err := p.msf.ReadStream(int(idx))
		if err == nil {
			p.sections, err = streams.ReadSections(data)
		}
		if err != nil {
			level.Warn(p.logger).Log("msg", "ignoring section headers", "err", err)
		}
	}
	if len(p.sections) == 0 {
		level.Warn(p.logger).Log("msg", "no section headers, symbol addresses cannot be resolved")
	}

	if idx, ok := p.info.NamedStreams[streams.NamesStreamName]; ok {
		data, err := p.msf.ReadStream(int(idx))
		if err == nil {
			p.names, err = streams.ReadStringTable(data)
		}
		if err != nil {
			level.Warn(p.logger).Log("msg", "ignoring string table", "err", err)
		}
	}
	return nil
}

func (p *PDB) validate(v *symbolsource.ValidationData) error {
	if v == nil {
		return nil
	}
	if v.GUID != "" && !p.info.MatchesGUID(v.GUID) {
		return fmt.Errorf("%w: GUID %s, want %s", symbolsource.ErrValidation, p.info.GUIDString(), v.GUID)
	}
	if age := p.Age(); v.Age != 0 && v.Age != age {
		return fmt.Errorf("%w: age %d, want %d", symbolsource.ErrValidation, age, v.Age)
	}
	return nil
}

// Age returns the age the image debug directory refers to. The DBI copy is
// authoritative; the PDB info stream copy is used when DBI carries none.
func (p *PDB) Age() uint32 {
	if p.dbi.Header.Age != 0 {
		return p.dbi.Header.Age
	}
	return p.info.Age
}

// Close closes the PDB file.
func (p *PDB) Close() error {
	return p.msf.Close()
}

// ImageSize returns the end of the highest image section.
func (p *PDB) ImageSize() uint64 {
	return p.sections.ImageSize()
}

// Info returns basic PDB file information.
func (p *PDB) Info() *Info {
	info := &Info{
		Path:         p.path,
		GUID:         p.info.GUIDString(),
		Age:          p.Age(),
		Version:      p.info.Version,
		Machine:      streams.MachineTypeName(p.dbi.Header.Machine),
		Streams:      p.msf.NumStreams(),
		Types:        p.types.Len(),
		ImageSize:    p.ImageSize(),
		NamedStreams: p.info.NamedStreams,
	}
	for i, h := range p.sections {
		index, err := safecast.Conv[uint16](i + 1)
		if err != nil {
			break
		}
		info.Sections = append(info.Sections, SectionInfo{
			Index:          index,
			Name:           h.SectionName(),
			VirtualAddress: h.VirtualAddress,
			VirtualSize:    h.VirtualSize,
		})
	}
	for _, mod := range p.dbi.Modules {
		info.Modules = append(info.Modules, ModuleInfo{
			Name:         mod.ModuleName,
			ObjectFile:   mod.ObjFileName,
			SymbolStream: mod.SymStream,
			SymbolSize:   mod.SymByteSize,
			LineSize:     mod.C13ByteSize,
			SourceFiles:  mod.SourceFileCount,
		})
	}
	return info
}
