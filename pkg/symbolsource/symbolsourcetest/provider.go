// Package symbolsourcetest provides a scripted symbolsource.Provider for
// tests.
package symbolsourcetest

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/jtang613/pdbsym/pkg/symbolsource"
)

// Provider replays fixed symbol and line records. The zero value is an empty
// provider.
type Provider struct {
	Symbols []symbolsource.SymbolRecord
	Lines   []symbolsource.LineRecord
	Size    uint64

	// SymbolsErr is returned after SymbolsErrAfter records were visited.
	SymbolsErr      error
	SymbolsErrAfter int
	// LinesErr is returned by the chunk containing LinesErrAt.
	LinesErr   error
	LinesErrAt uint64

	// Gate, when set, blocks every enumeration step until a value is
	// received or the context is cancelled.
	Gate chan struct{}

	mu         sync.Mutex
	closed     bool
	closeCount int
	lineCalls  int
}

var _ symbolsource.Provider = (*Provider)(nil)

// Opener returns an opener that hands out p for any path.
func (p *Provider) Opener() symbolsource.Opener {
	return symbolsource.OpenerFunc(func(string, *symbolsource.ValidationData) (symbolsource.Provider, error) {
		return p, nil
	})
}

// FailingOpener returns an opener that always fails with err.
func FailingOpener(err error) symbolsource.Opener {
	return symbolsource.OpenerFunc(func(path string, _ *symbolsource.ValidationData) (symbolsource.Provider, error) {
		return nil, errors.Wrap(err, path)
	})
}

func (p *Provider) ImageSize() uint64 { return p.Size }

func (p *Provider) wait(ctx context.Context) error {
	if p.Gate == nil {
		return nil
	}
	select {
	case <-p.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) EnumerateSymbols(ctx context.Context, visit func(symbolsource.SymbolRecord) bool) error {
	for i, rec := range p.Symbols {
		if p.SymbolsErr != nil && i == p.SymbolsErrAfter {
			return p.SymbolsErr
		}
		if err := p.wait(ctx); err != nil {
			return err
		}
		if !visit(rec) {
			return nil
		}
	}
	if p.SymbolsErr != nil && p.SymbolsErrAfter >= len(p.Symbols) {
		return p.SymbolsErr
	}
	return nil
}

func (p *Provider) EnumerateLines(ctx context.Context, start, length uint64) (map[uint64]symbolsource.LineRecord, error) {
	p.mu.Lock()
	p.lineCalls++
	p.mu.Unlock()
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if p.LinesErr != nil && p.LinesErrAt >= start && p.LinesErrAt-start < length {
		return nil, p.LinesErr
	}
	out := make(map[uint64]symbolsource.LineRecord)
	for _, l := range p.Lines {
		if l.Address < start || l.Address-start >= length {
			continue
		}
		if _, ok := out[l.Address]; ok {
			continue
		}
		out[l.Address] = l
	}
	return out, nil
}

func (p *Provider) ResolveAddress(_ context.Context, addr uint64, kind symbolsource.SymbolKind) (symbolsource.SymbolRecord, bool, error) {
	var best symbolsource.SymbolRecord
	found := false
	for _, rec := range p.Symbols {
		if rec.Kind != kind || !rec.HasAddress || rec.Address > addr {
			continue
		}
		if !found || rec.Address > best.Address {
			best, found = rec, true
		}
	}
	return best, found, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCount++
	return nil
}

// Closed reports whether Close was called and how many times.
func (p *Provider) Closed() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.closeCount
}

// LineCalls returns the number of EnumerateLines calls.
func (p *Provider) LineCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lineCalls
}

// Public builds a public symbol record at addr.
func Public(addr uint64, name string) symbolsource.SymbolRecord {
	return symbolsource.SymbolRecord{Kind: symbolsource.KindPublic, Name: name, Address: addr, HasAddress: true}
}

// Function builds a function symbol record at addr.
func Function(addr, size uint64, name string) symbolsource.SymbolRecord {
	return symbolsource.SymbolRecord{Kind: symbolsource.KindFunction, Name: name, Address: addr, HasAddress: true, Size: size}
}

// Data builds a data symbol record at addr.
func Data(addr, size uint64, name string) symbolsource.SymbolRecord {
	return symbolsource.SymbolRecord{Kind: symbolsource.KindData, Name: name, Address: addr, HasAddress: true, Size: size}
}
