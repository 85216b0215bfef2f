package symbolsource

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const (
	outcomeInserted   = "inserted"
	outcomeReplaced   = "replaced"
	outcomeKept       = "kept"
	outcomeDuplicate  = "duplicate"
	outcomeUnresolved = "unresolved"
	outcomeUnnamed    = "unnamed"
	outcomeFiltered   = "filtered"

	passSymbols = "symbols"
	passLines   = "lines"

	// unknownImageSpan bounds the line pass when the image size is unknown.
	unknownImageSpan = 1 << 32
)

var importPrefixes = []string{
	"__imp__",
	"__imp_?",
	"_imp___",
	"__NULL_IMPORT_DESCRIPTOR",
	"__IMPORT_DESCRIPTOR_",
}

// builder runs the two population passes of a Source.
type builder struct {
	s      *Source
	logger log.Logger
}

func newBuilder(s *Source) *builder {
	return &builder{s: s, logger: s.logger}
}

func (b *builder) skipReason(rec SymbolRecord) string {
	if !rec.HasAddress || rec.Address == rec.Offset {
		return outcomeUnresolved
	}
	if rec.Name == "" {
		return outcomeUnnamed
	}
	if b.s.cfg.FilterImportSymbols && isImportArtifact(rec.Name) {
		return outcomeFiltered
	}
	return ""
}

func isImportArtifact(name string) bool {
	if name[0] == 0x7f {
		return true
	}
	for _, p := range importPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (b *builder) newRefresher() *rate.Sometimes {
	if b.s.cfg.RefreshInterval <= 0 {
		return &rate.Sometimes{Every: 1}
	}
	return &rate.Sometimes{Interval: b.s.cfg.RefreshInterval}
}

// loadSymbols is the symbol pass: it fills the address index and, once the
// provider is exhausted, publishes the name index.
func (b *builder) loadSymbols(ctx context.Context) error {
	s := b.s
	start := time.Now()
	refresh := b.newRefresher()
	visited := make(map[uint64]struct{})
	s.notifier.Refresh()

	err := s.provider.EnumerateSymbols(ctx, func(rec SymbolRecord) bool {
		if ctx.Err() != nil {
			return false
		}
		if rec.ID != 0 {
			if _, ok := visited[rec.ID]; ok {
				level.Debug(b.logger).Log("msg", "symbol record reached twice", "id", rec.ID, "name", rec.Name)
				s.metrics.SymbolRecords.WithLabelValues(outcomeDuplicate).Inc()
				return true
			}
			visited[rec.ID] = struct{}{}
		}
		if reason := b.skipReason(rec); reason != "" {
			s.metrics.SymbolRecords.WithLabelValues(reason).Inc()
			return true
		}

		entry := &SymbolEntry{
			Address:         rec.Address,
			Size:            rec.Size,
			DecoratedName:   rec.Name,
			UndecoratedName: rec.UndecoratedName,
			Public:          rec.Kind == KindPublic,
			Kind:            rec.Kind,
		}
		s.symMu.Lock()
		res := s.addrs.Insert(entry)
		s.symMu.Unlock()
		s.metrics.SymbolRecords.WithLabelValues(res.String()).Inc()

		refresh.Do(s.notifier.Refresh)
		return true
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		level.Warn(b.logger).Log("msg", "symbol enumeration failed, keeping partial results", "err", err)
		s.metrics.EnumerationErrors.WithLabelValues(passSymbols).Inc()
	}

	s.symMu.RLock()
	entries := make([]*SymbolEntry, 0, s.addrs.Len())
	s.addrs.Ascend(0, func(e *SymbolEntry) bool {
		entries = append(entries, e)
		return true
	})
	s.symMu.RUnlock()

	names := BuildNameIndex(entries)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.symMu.Lock()
	s.names = names
	s.symMu.Unlock()
	s.symbolsLoaded.Store(true)

	elapsed := time.Since(start)
	s.metrics.LoadDuration.WithLabelValues(passSymbols).Observe(elapsed.Seconds())
	level.Info(b.logger).Log("msg", "symbols loaded", "count", len(entries), "duration", elapsed)
	s.notifier.SymbolsReady(s.imageBase, len(entries))
	s.notifier.LogProgress(fmt.Sprintf("[%#x, %s] Loaded %d symbols in %.03fs", s.imageBase, s.moduleName, len(entries), elapsed.Seconds()))
	s.notifier.Refresh()
	return nil
}

// loadLines is the line pass: it walks the image in fixed-size chunks and
// keeps the first line record seen for every address.
func (b *builder) loadLines(ctx context.Context) error {
	s := b.s
	start := time.Now()
	end := s.imageSize
	if end == 0 {
		end = unknownImageSpan
	}
	chunk := s.cfg.LineChunkSize

	for base := uint64(0); base < end; base += chunk {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		recs, err := s.provider.EnumerateLines(ctx, base, min(chunk, end-base))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			level.Warn(b.logger).Log("msg", "line enumeration failed, keeping partial results", "start", fmt.Sprintf("%#x", base), "err", err)
			s.metrics.EnumerationErrors.WithLabelValues(passLines).Inc()
			break
		}
		b.applyLines(recs)
		if base+chunk < base {
			break
		}
	}

	if s.files.Len() == 1 {
		b.fixLineOverflow()
	}
	b.buildFileLines()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.linesLoaded.Store(true)

	s.lineMu.RLock()
	count := len(s.lines)
	s.lineMu.RUnlock()
	elapsed := time.Since(start)
	s.metrics.LoadDuration.WithLabelValues(passLines).Observe(elapsed.Seconds())
	level.Info(b.logger).Log("msg", "line infos loaded", "count", count, "files", s.files.Len(), "duration", elapsed)
	s.notifier.LogProgress(fmt.Sprintf("[%#x, %s] Loaded %d line infos in %.03fs", s.imageBase, s.moduleName, count, elapsed.Seconds()))
	s.notifier.Refresh()
	return nil
}

func (b *builder) applyLines(recs map[uint64]LineRecord) {
	s := b.s
	addrs := lo.Keys(recs)
	slices.Sort(addrs)

	entries := make([]LineEntry, len(addrs))
	for i, addr := range addrs {
		rec := recs[addr]
		entries[i] = LineEntry{Address: addr, Line: rec.Line, SourceFileIndex: s.files.Intern(rec.File)}
	}

	var inserted, kept int
	s.lineMu.Lock()
	for _, e := range entries {
		if _, ok := s.lines[e.Address]; ok {
			kept++
			continue
		}
		s.lines[e.Address] = e
		inserted++
	}
	s.lineMu.Unlock()
	s.metrics.LineRecords.WithLabelValues(outcomeInserted).Add(float64(inserted))
	s.metrics.LineRecords.WithLabelValues(outcomeKept).Add(float64(kept))
}

// lineOverflow undoes the wrap of 24-bit line numbers in single-file
// modules. It relies on lines growing with addresses.
type lineOverflow struct {
	maxLine   uint32
	overflows uint32
}

func (o *lineOverflow) apply(line uint32) (uint32, bool) {
	limit := 0x1000000*(o.overflows+1) - 1
	detected := line&0xfffff0 == 0 && o.maxLine&0xfffffff0 == limit&0xfffffff0
	if detected {
		o.overflows++
	}
	line += o.overflows*0xffffff + o.overflows
	o.maxLine = line
	return line, detected
}

func (b *builder) fixLineOverflow() {
	s := b.s
	s.lineMu.RLock()
	entries := lo.Values(s.lines)
	s.lineMu.RUnlock()
	slices.SortFunc(entries, func(a, b LineEntry) int {
		return cmp.Compare(a.Address, b.Address)
	})

	var o lineOverflow
	changed := entries[:0]
	for _, e := range entries {
		line, detected := o.apply(e.Line)
		if detected {
			s.notifier.LogProgress(fmt.Sprintf("[%#x, %s] Line number overflow detected (%d -> %d), adjusting", s.imageBase, s.moduleName, e.Line, line))
		}
		if line != e.Line {
			e.Line = line
			changed = append(changed, e)
		}
	}
	if len(changed) == 0 {
		return
	}
	s.lineMu.Lock()
	for _, e := range changed {
		s.lines[e.Address] = e
	}
	s.lineMu.Unlock()
}

// buildFileLines publishes the per-file line tables used by reverse lookup.
func (b *builder) buildFileLines() {
	s := b.s
	s.lineMu.RLock()
	byFile := make(map[uint32][]fileLine)
	for _, e := range s.lines {
		byFile[e.SourceFileIndex] = append(byFile[e.SourceFileIndex], fileLine{line: e.Line, addr: e.Address})
	}
	s.lineMu.RUnlock()

	for _, lines := range byFile {
		slices.SortFunc(lines, compareFileLines)
	}

	s.lineMu.Lock()
	s.fileLines = byFile
	s.lineMu.Unlock()
}

type fileLine struct {
	line uint32
	addr uint64
}

func compareFileLines(a, b fileLine) int {
	return cmp.Or(cmp.Compare(a.line, b.line), cmp.Compare(a.addr, b.addr))
}
