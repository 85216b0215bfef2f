package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"fortio.org/safecast"
	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jtang613/pdbsym/pkg/modules"
	"github.com/jtang613/pdbsym/pkg/pdb"
	"github.com/jtang613/pdbsym/pkg/symbolsource"
)

type app struct {
	cfg        config
	configFile string

	fs     afero.Fs
	stdout io.Writer
	stderr io.Writer
	logger log.Logger
}

func newRootCmd(fs afero.Fs, stdout, stderr io.Writer) *cobra.Command {
	a := &app{fs: fs, stdout: stdout, stderr: stderr, logger: log.NewNopLogger()}

	root := &cobra.Command{
		Use:               "pdbsym [flags] <command>",
		Short:             "Query symbols and source lines of PDB files",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	gfs := flag.NewFlagSet("pdbsym", flag.ContinueOnError)
	a.cfg.RegisterFlags(gfs)
	root.PersistentFlags().AddGoFlagSet(gfs)
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "TOML or YAML configuration file. Flags given on the command line take precedence.")

	root.AddCommand(
		a.infoCmd(),
		a.symbolsCmd(),
		a.lookupCmd(),
		a.nameCmd(),
		a.lineCmd(),
		a.filesCmd(),
	)
	return root
}

// setup applies the config file below explicitly set flags and builds the
// logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.configFile != "" {
		set := make(map[string]string)
		cmd.Flags().Visit(func(f *pflag.Flag) { set[f.Name] = f.Value.String() })
		if err := loadConfigFile(a.fs, a.configFile, &a.cfg); err != nil {
			return err
		}
		for name, value := range set {
			if err := cmd.Flags().Set(name, value); err != nil {
				return err
			}
		}
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	a.logger = newLogger(a.stderr, a.cfg.LogLevel)
	return nil
}

func newLogger(w io.Writer, lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, levelFilter(lvl))
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func levelFilter(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "info":
		return level.AllowInfo()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowAll()
	}
}

func (a *app) notifier() symbolsource.Notifier {
	if !a.cfg.Progress {
		return symbolsource.NopNotifier{}
	}
	progress := color.New(color.FgCyan)
	ready := color.New(color.FgGreen)
	return symbolsource.NotifierFuncs{
		OnProgress: func(msg string) {
			fmt.Fprintf(a.stderr, "%s %s\n", progress.Sprint("progress"), msg)
		},
		OnSymbolsReady: func(imageBase uint64, count int) {
			fmt.Fprintf(a.stderr, "%s %d symbols at %#x\n", ready.Sprint("ready"), count, imageBase)
		},
	}
}

// session is one PDB loaded into a module manager.
type session struct {
	manager *modules.Manager
	module  *modules.Module
}

func (s *session) Close() error { return s.manager.Close() }

func (s *session) source() *symbolsource.Source { return s.module.Source }

// load opens path as a module at the configured base and waits for its
// indices to be populated.
func (a *app) load(ctx context.Context, path string) (*session, error) {
	var validation *symbolsource.ValidationData
	if a.cfg.GUID != "" {
		age, err := safecast.Conv[uint32](a.cfg.Age)
		if err != nil {
			return nil, fmt.Errorf("invalid age: %w", err)
		}
		validation = &symbolsource.ValidationData{GUID: a.cfg.GUID, Age: age}
	}
	name := a.cfg.ModuleName
	if name == "" {
		name = filepath.Base(path)
	}

	mgr, err := modules.New(a.cfg.Modules, pdb.Opener(a.fs, a.logger), modules.Options{
		Fs:       a.fs,
		Logger:   a.logger,
		Notifier: a.notifier(),
	})
	if err != nil {
		return nil, err
	}

	var spin *spinner.Spinner
	if a.cfg.Progress {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(a.stderr))
		spin.Suffix = " loading " + name
		spin.Start()
		defer spin.Stop()
	}

	mod, err := mgr.Load(ctx, modules.LoadRequest{
		Name:       name,
		Path:       path,
		Base:       a.cfg.Base,
		Validation: validation,
	})
	if err == nil {
		err = mgr.Wait(ctx)
	}
	if err != nil {
		mgr.Close()
		return nil, err
	}
	level.Debug(a.logger).Log("msg", "symbols loaded", "module", name, "symbols", mod.Source.SymbolCount())
	return &session{manager: mgr, module: mod}, nil
}

// render writes v as JSON, or header and rows as a table.
func (a *app) render(v any, header []string, rows [][]string) error {
	if a.cfg.Output == outputJSON {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(a.stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	table := tablewriter.NewWriter(a.stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(rows)
	table.Render()
	return nil
}
