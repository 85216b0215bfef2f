package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/jtang613/pdbsym/pkg/modules"
	"github.com/jtang613/pdbsym/pkg/pdb"
	"github.com/jtang613/pdbsym/pkg/symbolsource"
)

func hex(v uint64) string { return fmt.Sprintf("%#x", v) }

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <pdb>",
		Short: "Show PDB header, sections and compilands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pdb.Open(args[0], pdb.Options{Fs: a.fs, Logger: a.logger})
			if err != nil {
				return err
			}
			defer p.Close()
			info := p.Info()
			if a.cfg.Output == outputJSON {
				return a.render(info, nil, nil)
			}
			rows := [][]string{
				{"guid", info.GUID},
				{"age", strconv.FormatUint(uint64(info.Age), 10)},
				{"machine", info.Machine},
				{"version", strconv.FormatUint(uint64(info.Version), 10)},
				{"streams", strconv.Itoa(info.Streams)},
				{"types", strconv.Itoa(info.Types)},
				{"image size", hex(info.ImageSize)},
				{"sections", strings.Join(lo.Map(info.Sections, func(s pdb.SectionInfo, _ int) string { return s.Name }), " ")},
				{"modules", strconv.Itoa(len(info.Modules))},
			}
			return a.render(info, []string{"Field", "Value"}, rows)
		},
	}
}

// absolute moves entries from module-relative to absolute addresses.
func absolute(base uint64, entries []symbolsource.SymbolEntry) []symbolsource.SymbolEntry {
	return lo.Map(entries, func(e symbolsource.SymbolEntry, _ int) symbolsource.SymbolEntry {
		e.Address += base
		return e
	})
}

func symbolRow(e symbolsource.SymbolEntry, _ int) []string {
	return []string{
		hex(e.Address),
		hex(e.Size),
		e.Kind.String(),
		e.Name(),
		e.DecoratedName,
	}
}

var symbolHeader = []string{"Address", "Size", "Kind", "Name", "Decorated"}

func (a *app) symbolsCmd() *cobra.Command {
	var (
		prefix     string
		ignoreCase bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "symbols <pdb>",
		Short: "List indexed symbols in address order, or those matching a name prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			var entries []symbolsource.SymbolEntry
			full := func() bool { return limit > 0 && len(entries) >= limit }
			if prefix != "" {
				s.source().FindByPrefix(prefix, !ignoreCase, func(e symbolsource.SymbolEntry) bool {
					entries = append(entries, e)
					return !full()
				})
				slices.SortFunc(entries, func(x, y symbolsource.SymbolEntry) int {
					return strings.Compare(x.Name(), y.Name())
				})
			} else {
				it := s.source().Symbols()
				for !full() && it.Next() {
					entries = append(entries, it.At())
				}
				if err := it.Close(); err != nil {
					return err
				}
			}

			entries = absolute(s.module.Base, entries)
			return a.render(entries, symbolHeader, lo.Map(entries, symbolRow))
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list symbols whose name starts with this prefix.")
	cmd.Flags().BoolVarP(&ignoreCase, "ignore-case", "i", false, "Match the prefix ignoring case.")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many symbols. 0 lists all.")
	return cmd
}

func parseAddress(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", s)
	}
	return v, nil
}

func resolutionRow(r modules.Resolution, _ int) []string {
	symbol, line := "-", "-"
	if r.HasSymbol {
		symbol = r.Symbol.Name()
		if r.Symbol.Displacement > 0 {
			symbol += fmt.Sprintf("+%#x", r.Symbol.Displacement)
		}
	}
	if r.HasLine {
		line = fmt.Sprintf("%s:%d", r.Line.SourceFile, r.Line.Line)
	}
	return []string{hex(r.Address), lo.Ternary(r.Module == "", "-", r.Module), symbol, line}
}

func (a *app) lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <pdb> <address>...",
		Short: "Resolve absolute addresses to symbol, displacement and source line",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs := make([]uint64, 0, len(args)-1)
			for _, arg := range args[1:] {
				addr, err := parseAddress(arg)
				if err != nil {
					return err
				}
				addrs = append(addrs, addr)
			}

			s, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			results := lo.Map(addrs, func(addr uint64, _ int) modules.Resolution {
				r, _ := s.manager.Resolve(addr)
				return r
			})
			return a.render(results, []string{"Address", "Module", "Symbol", "Line"}, lo.Map(results, resolutionRow))
		},
	}
}

func (a *app) nameCmd() *cobra.Command {
	var ignoreCase bool
	cmd := &cobra.Command{
		Use:   "name <pdb> <name>...",
		Short: "Find symbols by exact name",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			var (
				entries []symbolsource.SymbolEntry
				missing []string
			)
			for _, name := range args[1:] {
				e, ok := s.source().FindByName(name, !ignoreCase)
				if !ok {
					missing = append(missing, name)
					continue
				}
				entries = append(entries, e)
			}
			entries = absolute(s.module.Base, entries)
			if err := a.render(entries, symbolHeader, lo.Map(entries, symbolRow)); err != nil {
				return err
			}
			if len(missing) > 0 {
				return errors.Errorf("symbols not found: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&ignoreCase, "ignore-case", "i", false, "Match names ignoring case.")
	return cmd
}

// parseFileLine splits "file:line". The file part may itself hold a drive
// letter colon.
func parseFileLine(s string) (string, uint32, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return "", 0, errors.Errorf("invalid location %q, want file:line", s)
	}
	line, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid line in %q", s)
	}
	return s[:i], uint32(line), nil
}

func (a *app) lineCmd() *cobra.Command {
	var mappings []string
	cmd := &cobra.Command{
		Use:   "line <pdb> <file:line>...",
		Short: "Find the lowest address recorded for source lines",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			for _, m := range mappings {
				pdbPath, diskPath, ok := strings.Cut(m, "=")
				if !ok {
					return errors.Errorf("invalid mapping %q, want pdb-path=disk-path", m)
				}
				if err := s.source().MapSourceFilePdbToDisk(pdbPath, diskPath); err != nil {
					return err
				}
			}

			var infos []symbolsource.LineInfo
			for _, arg := range args[1:] {
				file, line, err := parseFileLine(arg)
				if err != nil {
					return err
				}
				li, ok := s.source().FindLineInfoByFile(file, line)
				if !ok {
					return errors.Errorf("no code recorded for %s", arg)
				}
				li.Address += s.module.Base
				infos = append(infos, li)
			}
			return a.render(infos, []string{"Address", "File", "Line"}, lo.Map(infos, func(li symbolsource.LineInfo, _ int) []string {
				return []string{hex(li.Address), li.SourceFile, strconv.FormatUint(uint64(li.Line), 10)}
			}))
		},
	}
	cmd.Flags().StringArrayVar(&mappings, "map", nil, "Map a source path recorded in the PDB to a file on disk, as pdb-path=disk-path. Repeatable.")
	return cmd
}

func (a *app) filesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <pdb>",
		Short: "List the source files referenced by line information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			files := lo.Uniq(s.source().SourceFiles())
			slices.Sort(files)
			return a.render(files, []string{"File"}, lo.Map(files, func(f string, _ int) []string { return []string{f} }))
		},
	}
}
