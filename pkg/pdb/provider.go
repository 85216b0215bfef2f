package pdb

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"

	"github.com/jtang613/pdbsym/pkg/pdb/codeview"
	"github.com/jtang613/pdbsym/pkg/pdb/streams"
	"github.com/jtang613/pdbsym/pkg/symbolsource"
)

// recordID identifies a symbol record by the stream holding it and its
// offset there. A record reached through a procedure reference gets the
// same ID as when it is reached by walking its module.
func recordID(stream uint16, offset uint32) uint64 {
	return uint64(stream)<<32 | uint64(offset)
}

// EnumerateSymbols walks the module streams depth first, then the publics,
// then the global procedure references and finally the global data of the
// symbol record stream.
func (p *PDB) EnumerateSymbols(ctx context.Context, visit func(symbolsource.SymbolRecord) bool) error {
	w := &walker{
		p:       p,
		ctx:     ctx,
		visit:   visit,
		modules: make(map[uint16][]byte),
		code:    make(map[uint64]uint64),
	}
	return w.run()
}

type walker struct {
	p       *PDB
	ctx     context.Context
	visit   func(symbolsource.SymbolRecord) bool
	modules map[uint16][]byte
	// code holds the length of every procedure emitted so far by address.
	code    map[uint64]uint64
	stopped bool
}

func (w *walker) run() error {
	for i := range w.p.dbi.Modules {
		if err := w.module(&w.p.dbi.Modules[i]); err != nil || w.stopped {
			return err
		}
	}

	stream := w.p.dbi.Header.SymRecordStream
	if stream == streams.NilStream {
		return nil
	}
	data, err := w.p.msf.ReadStream(int(stream))
	if err != nil {
		return fmt.Errorf("failed to read symbol record stream: %w", err)
	}
	globals, perr := codeview.ParseSymbols(data, 0)

	passes := []func(codeview.SymbolRecord){
		func(rec codeview.SymbolRecord) {
			if rec.Kind == codeview.S_PUB32 {
				w.emit(stream, rec)
			}
		},
		func(rec codeview.SymbolRecord) {
			if rec.Kind == codeview.S_PROCREF || rec.Kind == codeview.S_LPROCREF {
				w.follow(rec)
			}
		},
		func(rec codeview.SymbolRecord) {
			if codeview.IsDataSymbol(rec.Kind) {
				w.emit(stream, rec)
			}
		},
	}
	for _, pass := range passes {
		for _, rec := range globals {
			if err := w.ctx.Err(); err != nil {
				return err
			}
			if pass(rec); w.stopped {
				return nil
			}
		}
	}
	if perr != nil {
		return fmt.Errorf("failed to parse symbol record stream: %w", perr)
	}
	return nil
}

// moduleSymbols returns the symbol substream of a module stream, reading it
// at most once per walk.
func (w *walker) moduleSymbols(mod *streams.ModuleInfo) ([]byte, error) {
	if data, ok := w.modules[mod.SymStream]; ok {
		return data, nil
	}
	data, err := w.p.msf.ReadStream(int(mod.SymStream))
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols of module %s: %w", mod.ModuleName, err)
	}
	data = data[:min(len(data), int(mod.SymByteSize))]
	w.modules[mod.SymStream] = data
	return data, nil
}

func (w *walker) module(mod *streams.ModuleInfo) error {
	if !mod.HasSymbols() {
		return nil
	}
	logger := w.p.logger
	data, err := w.moduleSymbols(mod)
	if err != nil {
		level.Warn(logger).Log("msg", "skipping module", "module", mod.ModuleName, "err", err)
		return nil
	}
	if len(data) < 4 || data[0] != codeview.CVSignatureC13 {
		level.Warn(logger).Log("msg", "skipping module without C13 symbols", "module", mod.ModuleName)
		return nil
	}
	recs, perr := codeview.ParseSymbols(data, 4)

	depth := 0
	for _, rec := range recs {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		switch {
		case codeview.ClosesScope(rec.Kind):
			depth = max(depth-1, 0)
			continue
		case rec.Kind == codeview.S_BLOCK32 && depth == 0:
			continue
		}
		if codeview.OpensScope(rec.Kind) {
			depth++
		}
		if w.emit(mod.SymStream, rec); w.stopped {
			return nil
		}
	}
	if perr != nil {
		level.Warn(logger).Log("msg", "module symbols truncated", "module", mod.ModuleName, "err", perr)
	}
	if depth != 0 {
		level.Debug(logger).Log("msg", "unbalanced symbol scopes", "module", mod.ModuleName, "depth", depth)
	}
	return nil
}

// follow visits the module record a procedure reference points at.
func (w *walker) follow(ref codeview.SymbolRecord) {
	sym, err := codeview.ParseRefSym(ref.Data)
	if err != nil {
		return
	}
	if sym.Module == 0 || int(sym.Module) > len(w.p.dbi.Modules) {
		level.Debug(w.p.logger).Log("msg", "procedure reference to unknown module", "name", sym.Name, "module", sym.Module)
		return
	}
	mod := &w.p.dbi.Modules[sym.Module-1]
	if !mod.HasSymbols() {
		return
	}
	data, err := w.moduleSymbols(mod)
	if err == nil {
		var rec codeview.SymbolRecord
		if rec, err = codeview.RecordAt(data, sym.SymOff); err == nil {
			w.emit(mod.SymStream, rec)
			return
		}
	}
	level.Debug(w.p.logger).Log("msg", "dangling procedure reference", "name", sym.Name, "err", err)
}

func (w *walker) emit(stream uint16, rec codeview.SymbolRecord) {
	out, ok := w.p.convert(stream, rec, w.codeSize)
	if !ok {
		return
	}
	if out.Kind == symbolsource.KindFunction && out.HasAddress {
		w.code[out.Address] = out.Size
	}
	if !w.visit(out) {
		w.stopped = true
	}
}

func (w *walker) codeSize(rva uint64) uint64 { return w.code[rva] }

// convert turns a raw record into a provider record. Records that carry no
// symbol of interest report false. codeSize sizes function-typed data.
func (p *PDB) convert(stream uint16, rec codeview.SymbolRecord, codeSize func(rva uint64) uint64) (symbolsource.SymbolRecord, bool) {
	out := symbolsource.SymbolRecord{ID: recordID(stream, rec.Offset)}
	var (
		segment uint16
		offset  uint32
	)
	switch {
	case codeview.IsProcSymbol(rec.Kind):
		sym, err := codeview.ParseProcSym(rec.Data)
		if err != nil {
			return out, false
		}
		out.Kind, out.Name, out.Size = symbolsource.KindFunction, sym.Name, uint64(sym.Length)
		segment, offset = sym.Segment, sym.Offset
	case rec.Kind == codeview.S_BLOCK32:
		sym, err := codeview.ParseBlockSym(rec.Data)
		if err != nil {
			return out, false
		}
		out.Kind, out.Name, out.Size = symbolsource.KindBlock, sym.Name, uint64(sym.Length)
		segment, offset = sym.Segment, sym.Offset
	case rec.Kind == codeview.S_LABEL32:
		sym, err := codeview.ParseLabelSym(rec.Data)
		if err != nil {
			return out, false
		}
		out.Kind, out.Name = symbolsource.KindLabel, sym.Name
		segment, offset = sym.Segment, sym.Offset
	case codeview.IsDataSymbol(rec.Kind):
		sym, err := codeview.ParseDataSym(rec.Data)
		if err != nil {
			return out, false
		}
		out.Kind, out.Name = symbolsource.KindData, sym.Name
		segment, offset = sym.Segment, sym.Offset
		if p.types.Class(sym.TypeIndex) == streams.TypeFunction {
			if rva, ok := p.sections.RVA(segment, offset); ok {
				out.Size = codeSize(rva)
			}
		} else {
			out.Size, _ = p.types.Size(sym.TypeIndex)
		}
	case rec.Kind == codeview.S_PUB32:
		sym, err := codeview.ParsePubSym(rec.Data)
		if err != nil {
			return out, false
		}
		out.Kind, out.Name = symbolsource.KindPublic, sym.Name
		segment, offset = sym.Segment, sym.Offset
	default:
		return out, false
	}
	out.Offset = uint64(offset)
	out.Address, out.HasAddress = p.sections.RVA(segment, offset)
	out.UndecoratedName = Undecorate(out.Name)
	return out, true
}
