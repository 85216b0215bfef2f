package pdb

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/go-kit/log/level"

	"github.com/jtang613/pdbsym/pkg/pdb/codeview"
	"github.com/jtang613/pdbsym/pkg/pdb/streams"
	"github.com/jtang613/pdbsym/pkg/symbolsource"
)

// Line numbers the compiler emits for code that has no source line.
const (
	hiddenLine    = 0xfeefee
	hiddenLineAlt = 0xf00f00
)

type lineRow struct {
	addr uint64
	line uint32
	file string
}

// lineTable holds the line rows of every module sorted by address. It is
// loaded on first use and kept only when loading completed.
type lineTable struct {
	mu   sync.Mutex
	rows []lineRow
}

// EnumerateLines returns the line rows in [start, start+length). When
// several rows share an address the first one in module order is kept.
func (p *PDB) EnumerateLines(ctx context.Context, start, length uint64) (map[uint64]symbolsource.LineRecord, error) {
	rows, err := p.lineRows(ctx)
	if err != nil {
		return nil, err
	}
	end := start + length
	if end < start {
		end = math.MaxUint64
	}
	i, _ := slices.BinarySearchFunc(rows, start, func(r lineRow, addr uint64) int {
		return cmp.Compare(r.addr, addr)
	})
	out := make(map[uint64]symbolsource.LineRecord)
	for ; i < len(rows) && rows[i].addr < end; i++ {
		r := rows[i]
		if _, ok := out[r.addr]; ok {
			continue
		}
		out[r.addr] = symbolsource.LineRecord{Address: r.addr, Line: r.line, File: r.file}
	}
	return out, nil
}

func (p *PDB) lineRows(ctx context.Context) ([]lineRow, error) {
	p.lines.mu.Lock()
	defer p.lines.mu.Unlock()
	if p.lines.rows != nil {
		return p.lines.rows, nil
	}
	rows, err := p.loadLines(ctx)
	if err != nil {
		return nil, err
	}
	p.lines.rows = rows
	return rows, nil
}

func (p *PDB) loadLines(ctx context.Context) ([]lineRow, error) {
	rows := make([]lineRow, 0)
	var hidden, orphaned int
	for i := range p.dbi.Modules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mod := &p.dbi.Modules[i]
		if mod.SymStream == streams.NilStream || mod.C13ByteSize == 0 {
			continue
		}
		data, err := p.msf.ReadStream(int(mod.SymStream))
		if err != nil {
			level.Warn(p.logger).Log("msg", "skipping module lines", "module", mod.ModuleName, "err", err)
			continue
		}
		begin := uint64(mod.SymByteSize) + uint64(mod.C11ByteSize)
		end := begin + uint64(mod.C13ByteSize)
		if end > uint64(len(data)) {
			level.Warn(p.logger).Log("msg", "module lines exceed stream", "module", mod.ModuleName, "size", len(data), "end", end)
			continue
		}
		ml, err := codeview.ParseC13(data[begin:end])
		if err != nil {
			level.Warn(p.logger).Log("msg", "module lines truncated", "module", mod.ModuleName, "err", err)
		}
		for _, l := range ml.Lines {
			if l.Line == hiddenLine || l.Line == hiddenLineAlt {
				hidden++
				continue
			}
			addr, ok := p.sections.RVA(l.Segment, l.Offset)
			file, fok := p.fileName(ml, l.FileID)
			if !ok || !fok {
				orphaned++
				continue
			}
			rows = append(rows, lineRow{addr: addr, line: l.Line, file: file})
		}
	}
	slices.SortStableFunc(rows, func(a, b lineRow) int {
		return cmp.Compare(a.addr, b.addr)
	})
	level.Debug(p.logger).Log("msg", "line table loaded", "rows", len(rows), "hidden", hidden, "orphaned", orphaned)
	return rows, nil
}

func (p *PDB) fileName(ml *codeview.ModuleLines, id uint32) (string, bool) {
	chk, ok := ml.Files[id]
	if !ok {
		return "", false
	}
	return p.names.String(chk.NameOffset)
}
