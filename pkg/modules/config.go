package modules

import (
	"flag"
	"fmt"

	"github.com/jtang613/pdbsym/pkg/symbolsource"
)

// Config configures a Manager and the Sources it opens.
type Config struct {
	ResolveCacheSize int                 `yaml:"resolve_cache_size" toml:"resolve_cache_size"`
	Symbols          symbolsource.Config `yaml:"symbols" toml:"symbols"`
}

const defaultResolveCacheSize = 8192

// DefaultConfig returns the configuration RegisterFlags installs.
func DefaultConfig() Config {
	return Config{
		ResolveCacheSize: defaultResolveCacheSize,
		Symbols:          symbolsource.DefaultConfig(),
	}
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.ResolveCacheSize, "modules.resolve-cache-size", defaultResolveCacheSize, "Number of absolute address resolutions remembered across modules.")
	cfg.Symbols.RegisterFlags(f)
}

func (cfg *Config) Validate() error {
	if cfg.ResolveCacheSize < 1 {
		return fmt.Errorf("invalid resolve-cache-size value, must be positive")
	}
	return cfg.Symbols.Validate()
}
