package symbolsource

import (
	"context"
	"slices"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/jtang613/pdbsym/pkg/sortedlru"
)

// Options describe the module a Source indexes and its collaborators.
type Options struct {
	ModuleName string
	ImageBase  uint64
	// ImageSize bounds the line pass and the negative cache. Zero asks the
	// provider through ImageSizer.
	ImageSize  uint64
	Validation *ValidationData
	// Config is used as is when non-zero, else DefaultConfig applies.
	Config   Config
	Logger   log.Logger
	Metrics  *Metrics
	Notifier Notifier
	// Fs is the filesystem source-file mappings are checked against.
	Fs afero.Fs
}

type lookupResult struct {
	entry SymbolEntry
	found bool
}

// Source holds the indices of one module. Query methods may be called from
// any goroutine while the indices are still being populated.
type Source struct {
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	cfg      Config

	path       string
	moduleName string
	imageBase  uint64
	imageSize  uint64

	providerMu sync.RWMutex
	provider   Provider

	// symMu guards addrs, names and negative.
	symMu    sync.RWMutex
	addrs    *AddressIndex
	names    *NameIndex
	negative *NegativeCache

	// lineMu guards lines and fileLines.
	lineMu    sync.RWMutex
	lines     map[uint64]LineEntry
	fileLines map[uint32][]fileLine

	files   *SourceFileTable
	lookups *sortedlru.Cache[uint64, lookupResult]

	open          *atomic.Bool
	symbolsLoaded *atomic.Bool
	linesLoaded   *atomic.Bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open opens the debug information at path through opener and starts
// populating the indices in the background. It returns once the provider is
// open; population continues until it completes, ctx is cancelled or the
// Source is closed.
func Open(ctx context.Context, opener Opener, path string, opts Options) (*Source, error) {
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, ErrEmptyPath
	}

	provider, err := opener.Open(path, opts.Validation)
	if err != nil {
		return nil, errors.Wrapf(err, "open debug information %s", path)
	}

	imageSize := opts.ImageSize
	if sizer, ok := provider.(ImageSizer); ok && imageSize == 0 {
		imageSize = sizer.ImageSize()
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	moduleName := opts.ModuleName
	if moduleName == "" {
		moduleName = path
	}
	logger = log.With(logger, "module", moduleName)
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	s := &Source{
		logger:        logger,
		metrics:       metrics,
		notifier:      notifier,
		cfg:           cfg,
		path:          path,
		moduleName:    moduleName,
		imageBase:     opts.ImageBase,
		imageSize:     imageSize,
		provider:      provider,
		addrs:         NewAddressIndex(),
		negative:      NewNegativeCache(imageSize),
		lines:         make(map[uint64]LineEntry),
		files:         NewSourceFileTable(opts.Fs),
		lookups:       sortedlru.New[uint64, lookupResult](cfg.LookupCacheSize),
		open:          atomic.NewBool(true),
		symbolsLoaded: atomic.NewBool(false),
		linesLoaded:   atomic.NewBool(false),
		done:          make(chan struct{}),
	}
	level.Debug(logger).Log("msg", "opened debug information", "path", path, "image_size", imageSize)

	ctx, s.cancel = context.WithCancel(ctx)
	s.start(ctx)
	return s, nil
}

func (s *Source) start(ctx context.Context) {
	b := newBuilder(s)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.loadSymbols(gctx) })
	if s.cfg.LoadLines {
		g.Go(func() error { return b.loadLines(gctx) })
	} else {
		s.linesLoaded.Store(true)
	}
	go func() {
		defer close(s.done)
		if err := g.Wait(); err != nil {
			level.Debug(s.logger).Log("msg", "population stopped", "err", err)
		}
	}()
}

// IsOpen reports whether the Source has not been closed.
func (s *Source) IsOpen() bool { return s.open.Load() }

// IsLoading reports whether a population pass is still running.
func (s *Source) IsLoading() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// SymbolsLoaded reports whether the symbol pass completed.
func (s *Source) SymbolsLoaded() bool { return s.symbolsLoaded.Load() }

// LinesLoaded reports whether the line pass completed.
func (s *Source) LinesLoaded() bool { return s.linesLoaded.Load() }

// Wait blocks until population has stopped or ctx is done.
func (s *Source) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops population without waiting for it. Indices keep whatever was
// inserted so far.
func (s *Source) Cancel() { s.cancel() }

// Close cancels population, waits for both passes to stop and releases the
// provider. Close is idempotent.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.open.Store(false)
		s.cancel()
		<-s.done

		s.providerMu.Lock()
		defer s.providerMu.Unlock()
		if err := s.provider.Close(); err != nil {
			s.closeErr = errors.Wrap(err, "close debug information")
		}
		level.Debug(s.logger).Log("msg", "closed debug information")
	})
	return s.closeErr
}

// LoadedSymbolPath returns the path the debug information was opened from.
func (s *Source) LoadedSymbolPath() string { return s.path }

func (s *Source) ModuleName() string { return s.moduleName }
func (s *Source) ImageBase() uint64  { return s.imageBase }
func (s *Source) ImageSize() uint64  { return s.imageSize }

// SymbolCount returns the number of entries in the address index.
func (s *Source) SymbolCount() int {
	s.symMu.RLock()
	defer s.symMu.RUnlock()
	return s.addrs.Len()
}

// FindExact returns the symbol starting exactly at rva. Misses are
// remembered once population has finished.
func (s *Source) FindExact(rva uint64) (SymbolEntry, bool) {
	if !s.IsOpen() {
		return SymbolEntry{}, false
	}
	// The loading state must be sampled before the lookup: a miss seen
	// while pass A runs says nothing about the finished index.
	loading := s.IsLoading()
	s.symMu.RLock()
	if s.negative.IsMarked(rva) {
		s.symMu.RUnlock()
		s.metrics.NegativeHits.Inc()
		return SymbolEntry{}, false
	}
	e, ok := s.addrs.FindExact(rva)
	s.symMu.RUnlock()
	if ok {
		return *e, true
	}
	if !loading {
		s.symMu.Lock()
		s.negative.Mark(rva)
		s.symMu.Unlock()
	}
	return SymbolEntry{}, false
}

// FindExactOrLower returns the symbol with the greatest address not above
// rva, with Displacement set to the distance from it.
func (s *Source) FindExactOrLower(rva uint64) (SymbolEntry, bool) {
	if !s.IsOpen() {
		return SymbolEntry{}, false
	}
	cacheable := s.SymbolsLoaded()
	if cacheable {
		if h, ok := s.lookups.Find(rva); ok {
			s.lookups.Acquire(h)
			s.metrics.LookupCache.WithLabelValues("hit").Inc()
			r := h.Value()
			return r.entry, r.found
		}
		s.metrics.LookupCache.WithLabelValues("miss").Inc()
	}

	s.symMu.RLock()
	e, disp, ok := s.addrs.FindExactOrLower(rva)
	s.symMu.RUnlock()

	var r lookupResult
	if ok {
		r = lookupResult{entry: *e, found: true}
		r.entry.Displacement = disp
	}
	if cacheable {
		s.lookups.Insert(rva, r)
	}
	return r.entry, r.found
}

func (s *Source) nameIndex() *NameIndex {
	s.symMu.RLock()
	defer s.symMu.RUnlock()
	return s.names
}

// FindByName returns a symbol whose decorated name matches name. It finds
// nothing until the symbol pass has completed.
func (s *Source) FindByName(name string, caseSensitive bool) (SymbolEntry, bool) {
	if !s.IsOpen() {
		return SymbolEntry{}, false
	}
	e, ok := s.nameIndex().FindExact(name, caseSensitive)
	if !ok {
		return SymbolEntry{}, false
	}
	return *e, true
}

// FindByPrefix calls visit for every symbol whose decorated name starts with
// prefix, in name order, until visit returns false.
func (s *Source) FindByPrefix(prefix string, caseSensitive bool, visit func(SymbolEntry) bool) {
	if !s.IsOpen() {
		return
	}
	s.nameIndex().FindByPrefix(prefix, caseSensitive, visit)
}

// Symbols returns an address-order iterator over the symbols indexed so far.
func (s *Source) Symbols() *SymbolIterator {
	return newSymbolIterator(s.addrs, &s.symMu)
}

// FindLineInfo returns the source line recorded for rva.
func (s *Source) FindLineInfo(rva uint64) (LineInfo, bool) {
	if !s.IsOpen() {
		return LineInfo{}, false
	}
	s.lineMu.RLock()
	e, ok := s.lines[rva]
	s.lineMu.RUnlock()
	if !ok {
		return LineInfo{}, false
	}
	path, ok := s.files.Path(e.SourceFileIndex)
	if !ok {
		return LineInfo{}, false
	}
	return LineInfo{Address: e.Address, Line: e.Line, SourceFile: s.files.ToDisk(path)}, true
}

// FindLineInfoByFile returns the lowest address recorded for line of file.
// file may be a debug-information path or a mapped disk path; it is matched
// ignoring case. Nothing is found until the line pass has completed.
func (s *Source) FindLineInfoByFile(file string, line uint32) (LineInfo, bool) {
	if !s.IsOpen() {
		return LineInfo{}, false
	}
	pdbPath := s.files.ToPdb(file)
	idx, ok := s.files.Find(pdbPath)
	if !ok {
		return LineInfo{}, false
	}

	s.lineMu.RLock()
	lines := s.fileLines[idx]
	s.lineMu.RUnlock()

	i, ok := slices.BinarySearchFunc(lines, line, func(fl fileLine, l uint32) int {
		switch {
		case fl.line < l:
			return -1
		case fl.line > l:
			return 1
		}
		return 0
	})
	if !ok {
		return LineInfo{}, false
	}
	path, _ := s.files.Path(idx)
	return LineInfo{Address: lines[i].addr, Line: line, SourceFile: s.files.ToDisk(path)}, true
}

// SourceFiles returns the distinct source files seen in line records, as
// recorded in the debug information.
func (s *Source) SourceFiles() []string { return s.files.Files() }

// MapSourceFilePdbToDisk links a source path from the debug information to a
// file on disk. See SourceFileTable.MapPdbToDisk.
func (s *Source) MapSourceFilePdbToDisk(pdbPath, diskPath string) error {
	if !s.IsOpen() {
		return ErrClosed
	}
	return s.files.MapPdbToDisk(pdbPath, diskPath)
}

// SourceFilePdbToDisk returns the disk path mapped to pdbPath.
func (s *Source) SourceFilePdbToDisk(pdbPath string) (string, bool) {
	return s.files.PdbToDisk(pdbPath)
}

// SourceFileDiskToPdb returns the debug-information path mapped to diskPath.
func (s *Source) SourceFileDiskToPdb(diskPath string) (string, bool) {
	return s.files.DiskToPdb(diskPath)
}

// Resolve asks the provider directly for the symbol of kind covering rva,
// bypassing the indices.
func (s *Source) Resolve(ctx context.Context, rva uint64, kind SymbolKind) (SymbolEntry, bool, error) {
	s.providerMu.RLock()
	defer s.providerMu.RUnlock()
	if !s.IsOpen() {
		return SymbolEntry{}, false, ErrClosed
	}
	rec, ok, err := s.provider.ResolveAddress(ctx, rva, kind)
	if err != nil || !ok {
		return SymbolEntry{}, false, err
	}
	return SymbolEntry{
		Address:         rec.Address,
		Size:            rec.Size,
		DecoratedName:   rec.Name,
		UndecoratedName: rec.UndecoratedName,
		Public:          rec.Kind == KindPublic,
		Kind:            rec.Kind,
		Displacement:    int64(rva - rec.Address),
	}, true, nil
}
