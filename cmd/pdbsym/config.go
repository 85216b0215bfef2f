package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/jtang613/pdbsym/pkg/modules"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

type config struct {
	LogLevel string `yaml:"log_level" toml:"log_level"`
	Output   string `yaml:"output" toml:"output"`
	Progress bool   `yaml:"progress" toml:"progress"`

	ModuleName string `yaml:"module_name" toml:"module_name"`
	Base       uint64 `yaml:"base" toml:"base"`
	GUID       string `yaml:"guid" toml:"guid"`
	Age        uint   `yaml:"age" toml:"age"`

	Modules modules.Config `yaml:"modules" toml:"modules"`
}

func (c *config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.LogLevel, "log-level", "warn", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error]")
	f.StringVar(&c.Output, "output", outputTable, "Output format: table or json.")
	f.BoolVar(&c.Progress, "progress", true, "Show a spinner and progress lines on stderr while symbols load.")
	f.StringVar(&c.ModuleName, "module-name", "", "Name of the module the PDB describes. Defaults to the PDB file name.")
	f.Uint64Var(&c.Base, "base", 0, "Image base of the module. Addresses printed and accepted are absolute.")
	f.StringVar(&c.GUID, "guid", "", "Reject the PDB unless its GUID matches.")
	f.UintVar(&c.Age, "age", 0, "Reject the PDB unless its age matches. Only checked together with -guid.")
	c.Modules.RegisterFlags(f)
}

func (c *config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level %q", c.LogLevel)
	}
	if c.Output != outputTable && c.Output != outputJSON {
		return fmt.Errorf("invalid output %q, must be %s or %s", c.Output, outputTable, outputJSON)
	}
	return c.Modules.Validate()
}

// loadConfigFile decodes a TOML or YAML file, chosen by extension, over c.
func loadConfigFile(fs afero.Fs, path string, c *config) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}
