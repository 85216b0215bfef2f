package modules_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jtang613/pdbsym/pkg/modules"
	"github.com/jtang613/pdbsym/pkg/pdb"
	"github.com/jtang613/pdbsym/pkg/pdb/pdbtest"
	"github.com/jtang613/pdbsym/pkg/symbolsource"
	"github.com/jtang613/pdbsym/pkg/symbolsource/symbolsourcetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// providers hands out a distinct scripted provider per path.
func providers(byPath map[string]*symbolsourcetest.Provider) symbolsource.Opener {
	return symbolsource.OpenerFunc(func(path string, _ *symbolsource.ValidationData) (symbolsource.Provider, error) {
		p, ok := byPath[path]
		if !ok {
			return nil, errors.Errorf("no such file %s", path)
		}
		return p, nil
	})
}

func newProviders() map[string]*symbolsourcetest.Provider {
	return map[string]*symbolsourcetest.Provider{
		"kernel.pdb": {
			Size: 0x2000,
			Symbols: []symbolsource.SymbolRecord{
				symbolsourcetest.Function(0x1000, 0x40, "KeStart"),
				symbolsourcetest.Data(0x1800, 8, "KeTable"),
			},
			Lines: []symbolsource.LineRecord{
				{Address: 0x1000, Line: 3, File: `c:\k\start.c`},
				{Address: 0x1008, Line: 4, File: `c:\k\start.c`},
			},
		},
		"user.pdb": {
			Size: 0x1000,
			Symbols: []symbolsource.SymbolRecord{
				symbolsourcetest.Function(0x100, 0x10, "main"),
			},
		},
	}
}

func waitAll(t *testing.T, m *modules.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
}

func TestManagerLoadAndResolve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := modules.New(modules.DefaultConfig(), providers(newProviders()), modules.Options{Registerer: reg})
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	_, err = m.Load(ctx, modules.LoadRequest{Name: "Kernel.dll", Path: "kernel.pdb", Base: 0x10000})
	require.NoError(t, err)
	_, err = m.Load(ctx, modules.LoadRequest{Name: "user.exe", Path: "user.pdb", Base: 0x40000})
	require.NoError(t, err)
	waitAll(t, m)

	mods := m.Modules()
	require.Len(t, mods, 2)
	require.Equal(t, "Kernel.dll", mods[0].Name)
	require.Equal(t, uint64(0x2000), mods[0].Size())

	mod, ok := m.FindModule("KERNEL.DLL")
	require.True(t, ok)
	require.Equal(t, uint64(0x10000), mod.Base)

	_, ok = m.FindModuleByAddr(0x12000)
	require.False(t, ok)
	mod, ok = m.FindModuleByAddr(0x40fff)
	require.True(t, ok)
	require.Equal(t, "user.exe", mod.Name)

	r, ok := m.Resolve(0x11008)
	require.True(t, ok)
	require.Equal(t, "Kernel.dll", r.Module)
	require.True(t, r.HasSymbol)
	require.Equal(t, "KeStart", r.Symbol.Name())
	require.Equal(t, int64(8), r.Symbol.Displacement)
	require.True(t, r.HasLine)
	require.Equal(t, uint32(4), r.Line.Line)

	// no line at 0x1010, so the symbol start line is reported
	r, ok = m.Resolve(0x11010)
	require.True(t, ok)
	require.True(t, r.HasLine)
	require.Equal(t, uint32(3), r.Line.Line)

	r, ok = m.Resolve(0x40104)
	require.True(t, ok)
	require.Equal(t, "main", r.Symbol.Name())
	require.False(t, r.HasLine)

	_, ok = m.Resolve(0x90000)
	require.False(t, ok)

	_, ok = m.Resolve(0x11008)
	require.True(t, ok)

	require.Equal(t, 1.0, resolutions(t, reg, "hit"))
	require.Equal(t, 3.0, resolutions(t, reg, "miss"))
	require.Equal(t, 1.0, resolutions(t, reg, "unmapped"))
	require.Equal(t, 2.0, gauge(t, reg))
}

func resolutions(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "pdbsym_address_resolutions_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func gauge(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "pdbsym_modules_loaded" {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func TestManagerLoadErrors(t *testing.T) {
	p := newProviders()
	m, err := modules.New(modules.DefaultConfig(), providers(p), modules.Options{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.Load(ctx, modules.LoadRequest{Name: "k", Path: "kernel.pdb", Base: 0x10000})
	require.NoError(t, err)

	_, err = m.Load(ctx, modules.LoadRequest{Name: "u", Path: "user.pdb", Base: 0x10000})
	require.ErrorIs(t, err, modules.ErrAlreadyLoaded)

	_, err = m.Load(ctx, modules.LoadRequest{Name: "x", Path: "missing.pdb", Base: 0x80000})
	require.Error(t, err)
	_, ok := m.Module(0x80000)
	require.False(t, ok)

	require.ErrorIs(t, m.Unload(0x80000), modules.ErrNotLoaded)

	require.NoError(t, m.Close())
	closed, count := p["kernel.pdb"].Closed()
	require.True(t, closed)
	require.Equal(t, 1, count)
	require.Empty(t, m.Modules())

	_, err = m.Load(ctx, modules.LoadRequest{Name: "k", Path: "kernel.pdb", Base: 0x10000})
	require.ErrorIs(t, err, modules.ErrClosed)
	require.NoError(t, m.Close())
}

func TestManagerUnloadPurgesResolutions(t *testing.T) {
	m, err := modules.New(modules.DefaultConfig(), providers(newProviders()), modules.Options{})
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Load(context.Background(), modules.LoadRequest{Name: "k", Path: "kernel.pdb", Base: 0x10000})
	require.NoError(t, err)
	waitAll(t, m)

	r, ok := m.Resolve(0x11000)
	require.True(t, ok)
	require.True(t, r.HasSymbol)

	require.NoError(t, m.Unload(0x10000))
	_, ok = m.Resolve(0x11000)
	require.False(t, ok)
}

func TestManagerResolveRacingUnload(t *testing.T) {
	for i := 0; i < 100; i++ {
		m, err := modules.New(modules.DefaultConfig(), providers(newProviders()), modules.Options{})
		require.NoError(t, err)
		_, err = m.Load(context.Background(), modules.LoadRequest{Name: "k", Path: "kernel.pdb", Base: 0x10000})
		require.NoError(t, err)
		waitAll(t, m)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 32; j++ {
					m.Resolve(0x11004 + uint64(j))
				}
			}()
		}
		close(start)
		require.NoError(t, m.Unload(0x10000))
		wg.Wait()

		for j := 0; j < 32; j++ {
			_, ok := m.Resolve(0x11004 + uint64(j))
			require.False(t, ok, "iteration %d address %#x", i, 0x11004+j)
		}
		require.NoError(t, m.Close())
	}
}

func TestManagerLoadRacingClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		byPath := map[string]*symbolsourcetest.Provider{}
		for j := 0; j < 8; j++ {
			byPath[fmt.Sprintf("m%d.pdb", j)] = &symbolsourcetest.Provider{
				Size:    0x1000,
				Symbols: []symbolsource.SymbolRecord{symbolsourcetest.Function(0x10, 4, "f")},
			}
		}
		reg := prometheus.NewRegistry()
		m, err := modules.New(modules.DefaultConfig(), providers(byPath), modules.Options{Registerer: reg})
		require.NoError(t, err)

		errs := make([]error, len(byPath))
		var wg sync.WaitGroup
		start := make(chan struct{})
		for j := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[j] = m.Load(context.Background(), modules.LoadRequest{
					Name: fmt.Sprintf("m%d", j),
					Path: fmt.Sprintf("m%d.pdb", j),
					Base: uint64(j+1) << 20,
				})
			}()
		}
		close(start)
		require.NoError(t, m.Close())
		wg.Wait()

		for j, err := range errs {
			if err != nil {
				require.ErrorIs(t, err, modules.ErrClosed, "iteration %d module %d", i, j)
			}
		}
		require.Empty(t, m.Modules(), "iteration %d", i)
		require.Equal(t, 0.0, gauge(t, reg), "iteration %d", i)
		for j, err := range errs {
			if err == nil {
				closed, _ := byPath[fmt.Sprintf("m%d.pdb", j)].Closed()
				require.True(t, closed, "iteration %d module %d", i, j)
			}
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := modules.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.ResolveCacheSize = 0
	require.Error(t, cfg.Validate())

	_, err := modules.New(cfg, providers(nil), modules.Options{})
	require.Error(t, err)
}

func TestManagerOverPDB(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, pdbtest.Sample().WriteFile(fs, "/sym/sample.pdb"))

	m, err := modules.New(modules.DefaultConfig(), pdb.Opener(fs, nil), modules.Options{Fs: fs})
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Load(context.Background(), modules.LoadRequest{
		Name:       "sample.exe",
		Path:       "/sym/sample.pdb",
		Base:       0x140000000,
		Validation: &symbolsource.ValidationData{GUID: "12345678123456780102030405060708", Age: 3},
	})
	require.NoError(t, err)
	waitAll(t, m)

	r, ok := m.Resolve(0x140001206)
	require.True(t, ok)
	require.Equal(t, "main", r.Symbol.Name())
	require.Equal(t, int64(6), r.Symbol.Displacement)
	require.True(t, r.HasLine)
	require.Equal(t, uint32(7), r.Line.Line)
	require.Equal(t, `c:\src\b.cpp`, r.Line.SourceFile)

	_, err = m.Load(context.Background(), modules.LoadRequest{
		Name:       "stale.exe",
		Path:       "/sym/sample.pdb",
		Base:       0x150000000,
		Validation: &symbolsource.ValidationData{GUID: "12345678123456780102030405060708", Age: 4},
	})
	require.ErrorIs(t, err, symbolsource.ErrValidation)
}
