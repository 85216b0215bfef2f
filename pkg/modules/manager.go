// Package modules keeps the symbol sources of every module mapped into a
// process and resolves absolute addresses against them.
package modules

import (
	"cmp"
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/spf13/afero"
	"go.uber.org/atomic"

	"github.com/jtang613/pdbsym/pkg/symbolsource"
)

var (
	ErrClosed        = errors.New("module manager is closed")
	ErrAlreadyLoaded = errors.New("a module is already loaded at this base")
	ErrNotLoaded     = errors.New("no module is loaded at this base")
)

// Module is one image mapped at Base.
type Module struct {
	Name   string
	Base   uint64
	Source *symbolsource.Source
}

// Size returns the image size known for the module.
func (m *Module) Size() uint64 { return m.Source.ImageSize() }

// unknownImageSpan is the extent assumed for images of unknown size.
const unknownImageSpan = 1 << 32

// Contains reports whether addr falls inside the image.
func (m *Module) Contains(addr uint64) bool {
	size := m.Size()
	if size == 0 {
		size = unknownImageSpan
	}
	return addr >= m.Base && addr-m.Base < size
}

// Resolution describes an absolute address.
type Resolution struct {
	Address   uint64                   `json:"address"`
	Module    string                   `json:"module"`
	Base      uint64                   `json:"base"`
	Symbol    symbolsource.SymbolEntry `json:"symbol"`
	HasSymbol bool                     `json:"has_symbol"`
	Line      symbolsource.LineInfo    `json:"line"`
	HasLine   bool                     `json:"has_line"`
}

// Options are the collaborators shared by every module of a Manager.
type Options struct {
	Fs         afero.Fs
	Logger     log.Logger
	Registerer prometheus.Registerer
	Notifier   symbolsource.Notifier
}

// Manager is a registry of loaded modules keyed by image base.
type Manager struct {
	cfg      Config
	opener   symbolsource.Opener
	fs       afero.Fs
	logger   log.Logger
	notifier symbolsource.Notifier

	metrics       *metrics
	sourceMetrics *symbolsource.Metrics

	modules *xsync.MapOf[uint64, *Module]
	cache   *lru.Cache[uint64, Resolution]
	closed  *atomic.Bool

	// regMu orders registry changes and their cache purge against
	// Resolve adding a result, so no result outlives its module.
	regMu sync.RWMutex
}

// New creates a Manager opening debug information through opener.
func New(cfg Config, opener symbolsource.Opener, opts Options) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := lru.New[uint64, Resolution](cfg.ResolveCacheSize)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Manager{
		cfg:           cfg,
		opener:        opener,
		fs:            opts.Fs,
		logger:        logger,
		notifier:      opts.Notifier,
		metrics:       newMetrics(opts.Registerer),
		sourceMetrics: symbolsource.NewMetrics(opts.Registerer),
		modules:       xsync.NewMapOf[uint64, *Module](),
		cache:         cache,
		closed:        atomic.NewBool(false),
	}, nil
}

// LoadRequest describes a module to load.
type LoadRequest struct {
	Name string
	Path string
	Base uint64
	// Size is the image size; zero takes it from the debug information.
	Size       uint64
	Validation *symbolsource.ValidationData
}

// Load opens the debug information of a module and registers it. Indices
// keep populating in the background after Load returns, until ctx is
// cancelled or the module is unloaded.
func (m *Manager) Load(ctx context.Context, req LoadRequest) (*Module, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if _, ok := m.modules.Load(req.Base); ok {
		return nil, errors.Wrapf(ErrAlreadyLoaded, "%#x", req.Base)
	}
	src, err := symbolsource.Open(ctx, m.opener, req.Path, symbolsource.Options{
		ModuleName: req.Name,
		ImageBase:  req.Base,
		ImageSize:  req.Size,
		Validation: req.Validation,
		Config:     m.cfg.Symbols,
		Logger:     m.logger,
		Metrics:    m.sourceMetrics,
		Notifier:   m.notifier,
		Fs:         m.fs,
	})
	if err != nil {
		return nil, err
	}
	mod := &Module{Name: src.ModuleName(), Base: req.Base, Source: src}
	m.regMu.Lock()
	if _, loaded := m.modules.LoadOrStore(req.Base, mod); loaded {
		m.regMu.Unlock()
		src.Close()
		return nil, errors.Wrapf(ErrAlreadyLoaded, "%#x", req.Base)
	}
	if m.closed.Load() {
		// Close may have listed the modules before this one was stored.
		m.modules.Delete(req.Base)
		m.regMu.Unlock()
		src.Close()
		return nil, ErrClosed
	}
	m.cache.Purge()
	m.regMu.Unlock()
	m.metrics.loaded.Inc()
	level.Info(m.logger).Log("msg", "module loaded", "module", mod.Name, "base", hex(mod.Base), "path", req.Path)
	return mod, nil
}

// Unload closes and forgets the module at base.
func (m *Manager) Unload(base uint64) error {
	m.regMu.Lock()
	mod, ok := m.modules.LoadAndDelete(base)
	if !ok {
		m.regMu.Unlock()
		return errors.Wrapf(ErrNotLoaded, "%#x", base)
	}
	m.cache.Purge()
	m.regMu.Unlock()
	m.metrics.loaded.Dec()
	level.Info(m.logger).Log("msg", "module unloaded", "module", mod.Name, "base", hex(base))
	return mod.Source.Close()
}

// Module returns the module loaded at base.
func (m *Manager) Module(base uint64) (*Module, bool) {
	return m.modules.Load(base)
}

// FindModule returns the module with the given name, ignoring case.
func (m *Manager) FindModule(name string) (*Module, bool) {
	var found *Module
	m.modules.Range(func(_ uint64, mod *Module) bool {
		if strings.EqualFold(mod.Name, name) {
			found = mod
			return false
		}
		return true
	})
	return found, found != nil
}

// FindModuleByAddr returns the module whose image contains addr.
func (m *Manager) FindModuleByAddr(addr uint64) (*Module, bool) {
	var found *Module
	m.modules.Range(func(_ uint64, mod *Module) bool {
		if mod.Contains(addr) {
			found = mod
			return false
		}
		return true
	})
	return found, found != nil
}

// Modules returns the loaded modules ordered by base.
func (m *Manager) Modules() []*Module {
	mods := make([]*Module, 0, m.modules.Size())
	m.modules.Range(func(_ uint64, mod *Module) bool {
		mods = append(mods, mod)
		return true
	})
	slices.SortFunc(mods, func(a, b *Module) int { return cmp.Compare(a.Base, b.Base) })
	return mods
}

// Wait blocks until every loaded module finished populating or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	for _, mod := range m.Modules() {
		if err := mod.Source.Wait(ctx); err != nil {
			return errors.Wrap(err, mod.Name)
		}
	}
	return nil
}

// Resolve describes the absolute address addr. The second result is false
// when no module contains addr.
func (m *Manager) Resolve(addr uint64) (Resolution, bool) {
	if r, ok := m.cache.Get(addr); ok {
		m.metrics.resolutions.WithLabelValues("hit").Inc()
		return r, true
	}
	mod, ok := m.FindModuleByAddr(addr)
	if !ok {
		m.metrics.resolutions.WithLabelValues("unmapped").Inc()
		return Resolution{Address: addr}, false
	}
	m.metrics.resolutions.WithLabelValues("miss").Inc()

	rva := addr - mod.Base
	r := Resolution{Address: addr, Module: mod.Name, Base: mod.Base}
	r.Symbol, r.HasSymbol = mod.Source.FindExactOrLower(rva)
	r.Line, r.HasLine = mod.Source.FindLineInfo(rva)
	if !r.HasLine && r.HasSymbol && r.Symbol.Displacement != 0 {
		// fall back to the line of the enclosing symbol
		r.Line, r.HasLine = mod.Source.FindLineInfo(r.Symbol.Address)
	}

	if mod.Source.SymbolsLoaded() && mod.Source.LinesLoaded() {
		m.regMu.RLock()
		if cur, ok := m.modules.Load(mod.Base); ok && cur == mod && mod.Source.IsOpen() {
			m.cache.Add(addr, r)
		}
		m.regMu.RUnlock()
	}
	return r, true
}

// Close closes every module. Load fails afterwards.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, mod := range m.Modules() {
		// a racing Load may have withdrawn its module already
		if err := m.Unload(mod.Base); err != nil && !errors.Is(err, ErrNotLoaded) {
			errs = append(errs, err)
		}
	}
	m.cache.Purge()
	return stderrors.Join(errs...)
}

func hex(v uint64) string { return fmt.Sprintf("%#x", v) }
