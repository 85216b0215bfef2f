package pdb

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/jtang613/pdbsym/pkg/symbolsource"
)

// resolver answers ResolveAddress from per-kind tables sorted by address.
// KindUnknown holds the records of every kind.
type resolver struct {
	mu     sync.Mutex
	byKind map[symbolsource.SymbolKind][]symbolsource.SymbolRecord
}

// ResolveAddress returns the record of the given kind with the greatest
// address not above addr whose extent, when known, covers addr.
// KindUnknown matches any kind.
func (p *PDB) ResolveAddress(ctx context.Context, addr uint64, kind symbolsource.SymbolKind) (symbolsource.SymbolRecord, bool, error) {
	tables, err := p.resolveTables(ctx)
	if err != nil {
		return symbolsource.SymbolRecord{}, false, err
	}
	recs := tables[kind]
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Address > addr })
	if i == 0 {
		return symbolsource.SymbolRecord{}, false, nil
	}
	rec := recs[i-1]
	if rec.Size > 0 && addr-rec.Address >= rec.Size {
		return symbolsource.SymbolRecord{}, false, nil
	}
	return rec, true, nil
}

func (p *PDB) resolveTables(ctx context.Context) (map[symbolsource.SymbolKind][]symbolsource.SymbolRecord, error) {
	r := &p.resolver
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byKind != nil {
		return r.byKind, nil
	}

	byKind := make(map[symbolsource.SymbolKind][]symbolsource.SymbolRecord)
	seen := make(map[uint64]struct{})
	err := p.EnumerateSymbols(ctx, func(rec symbolsource.SymbolRecord) bool {
		if !rec.HasAddress || rec.Address == rec.Offset || rec.Name == "" {
			return true
		}
		if _, ok := seen[rec.ID]; ok {
			return true
		}
		seen[rec.ID] = struct{}{}
		byKind[rec.Kind] = append(byKind[rec.Kind], rec)
		byKind[symbolsource.KindUnknown] = append(byKind[symbolsource.KindUnknown], rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	for _, recs := range byKind {
		slices.SortStableFunc(recs, func(a, b symbolsource.SymbolRecord) int {
			return cmp.Compare(a.Address, b.Address)
		})
	}
	r.byKind = byKind
	return byKind, nil
}
