package symbolsource

import (
	"flag"
	"fmt"
	"time"
)

// Config tunes index population and lookups.
type Config struct {
	LineChunkSize       uint64        `yaml:"line_chunk_size" toml:"line_chunk_size"`
	RefreshInterval     time.Duration `yaml:"refresh_interval" toml:"refresh_interval"`
	LookupCacheSize     int           `yaml:"lookup_cache_size" toml:"lookup_cache_size"`
	FilterImportSymbols bool          `yaml:"filter_import_symbols" toml:"filter_import_symbols"`
	LoadLines           bool          `yaml:"load_lines" toml:"load_lines"`
}

const (
	defaultLineChunkSize   = 1 << 20
	defaultRefreshInterval = 500 * time.Millisecond
	defaultLookupCacheSize = 4096
)

// DefaultConfig returns the configuration RegisterFlags installs.
func DefaultConfig() Config {
	return Config{
		LineChunkSize:       defaultLineChunkSize,
		RefreshInterval:     defaultRefreshInterval,
		LookupCacheSize:     defaultLookupCacheSize,
		FilterImportSymbols: true,
		LoadLines:           true,
	}
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	d := DefaultConfig()
	f.Uint64Var(&cfg.LineChunkSize, "symbols.line-chunk-size", d.LineChunkSize, "Number of image bytes whose line records are requested at once.")
	f.DurationVar(&cfg.RefreshInterval, "symbols.refresh-interval", d.RefreshInterval, "Minimum interval between UI refresh notifications while symbols load.")
	f.IntVar(&cfg.LookupCacheSize, "symbols.lookup-cache-size", d.LookupCacheSize, "Number of nearest-symbol lookups remembered per module.")
	f.BoolVar(&cfg.FilterImportSymbols, "symbols.filter-imports", d.FilterImportSymbols, "Skip import thunks and import descriptor symbols.")
	f.BoolVar(&cfg.LoadLines, "symbols.load-lines", d.LoadLines, "Load source line information.")
}

func (cfg *Config) Validate() error {
	if cfg.LineChunkSize == 0 {
		return fmt.Errorf("invalid line-chunk-size value, must be positive")
	}
	if cfg.RefreshInterval < 0 {
		return fmt.Errorf("invalid refresh-interval value, must not be negative")
	}
	if cfg.LookupCacheSize < 1 {
		return fmt.Errorf("invalid lookup-cache-size value, must be positive")
	}
	return nil
}
