package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"changewatch/internal/monitor"
	"changewatch/internal/querybuilder"
	"changewatch/internal/registry"
)

// builderFlags assemble a query either from a saved builder JSON file or
// from --entity/--filter/--field flags.
type builderFlags struct {
	spec    string
	entity  string
	filters []string
	fields  []string
	limit   int
	offset  int
}

func (f *builderFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.spec, "spec", "", "builder JSON file (\"-\" for stdin); other builder flags are ignored")
	fl.StringVar(&f.entity, "entity", registry.DefaultEntity, "entity to query")
	fl.StringArrayVar(&f.filters, "filter", nil, "filter as name=value (repeatable)")
	fl.StringArrayVar(&f.fields, "field", nil, "selected field path (repeatable; default: entity defaults)")
	fl.IntVar(&f.limit, "limit", querybuilder.DefaultLimit, "page size")
	fl.IntVar(&f.offset, "offset", 0, "page offset")
}

func (f *builderFlags) build(stdin io.Reader) (*querybuilder.Builder, error) {
	if f.spec != "" {
		var b []byte
		var err error
		if f.spec == "-" {
			b, err = io.ReadAll(stdin)
		} else {
			b, err = os.ReadFile(f.spec)
		}
		if err != nil {
			return nil, err
		}
		return querybuilder.FromJSON(b)
	}
	qb, err := querybuilder.New(f.entity, f.limit, f.offset)
	if err != nil {
		return nil, err
	}
	ent := qb.Entity()
	for _, raw := range f.filters {
		name, val, ok := strings.Cut(raw, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("filter %q: want name=value", raw)
		}
		def, _ := ent.Filter(name)
		qb.AddFilter(name, querybuilder.ParseValue(val, def.Type))
	}
	if len(f.fields) > 0 {
		qb.SelectFields(f.fields)
	}
	return qb, nil
}

func newQueryCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Explore entities and build queries",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "entities",
			Short: "List queryable entities",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var ents []registry.Entity
				var rows [][]string
				for _, name := range registry.Names() {
					e, err := registry.Lookup(name)
					if err != nil {
						return err
					}
					ents = append(ents, e)
					rows = append(rows, []string{e.Name, e.Root, e.IDField, e.Description})
				}
				return opts.printer(cmd).Table(ents, []string{"NAME", "ROOT", "ID", "DESCRIPTION"}, rows)
			},
		},
		&cobra.Command{
			Use:   "filters <entity>",
			Short: "List the filters of an entity",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				defs, err := registry.Filters(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "filters", err)
				}
				rows := make([][]string, 0, len(defs))
				for _, d := range defs {
					rows = append(rows, []string{d.Name, string(d.Type), d.Label, d.Example})
				}
				return opts.printer(cmd).Table(defs, []string{"NAME", "TYPE", "LABEL", "EXAMPLE"}, rows)
			},
		},
		&cobra.Command{
			Use:   "fields <entity>",
			Short: "List the selectable fields of an entity",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				defs, err := registry.Fields(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "fields", err)
				}
				rows := make([][]string, 0, len(defs))
				for _, d := range defs {
					rows = append(rows, []string{d.Path, d.Description})
				}
				return opts.printer(cmd).Table(defs, []string{"PATH", "DESCRIPTION"}, rows)
			},
		},
		newQueryPreviewCommand(opts),
		newQueryTestCommand(opts),
	)
	return cmd
}

func newQueryPreviewCommand(opts *RootOptions) *cobra.Command {
	bf := &builderFlags{}
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Compile a query without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			qb, err := bf.build(cmd.InOrStdin())
			if err != nil {
				return WrapExitError(ExitCommandError, "build query", err)
			}
			pv := qb.Preview()
			p := opts.printer(cmd)
			if p.json() {
				return p.JSON(pv)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, pv.Query)
			warnUnknown(cmd.ErrOrStderr(), pv.UnknownFilters, pv.UnknownFields)
			return nil
		},
	}
	bf.register(cmd)
	return cmd
}

func newQueryTestCommand(opts *RootOptions) *cobra.Command {
	bf := &builderFlags{}
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run a query against the read API with a small page",
		Long: fmt.Sprintf(`Run a query against the read API. The page size is capped at %d and
the first %d records are printed.`, monitor.TestQueryLimit, monitor.TestSampleSize),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			qb, err := bf.build(cmd.InOrStdin())
			if err != nil {
				return WrapExitError(ExitCommandError, "build query", err)
			}
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.TestQuery(cmd.Context(), qb)
			if err != nil {
				return WrapExitError(ExitFailure, "query test", err)
			}
			p := opts.printer(cmd)
			if p.json() {
				return p.JSON(res)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s records in %s\n", fmtCount(res.Total), res.Took.Round(time.Millisecond))
			return printSamples(p, res.Samples)
		},
	}
	bf.register(cmd)
	return cmd
}

func warnUnknown(w io.Writer, filters, fields []string) {
	if len(filters) > 0 {
		fmt.Fprintf(w, "warning: filters not in the registry: %s\n", strings.Join(filters, ", "))
	}
	if len(fields) > 0 {
		fmt.Fprintf(w, "warning: fields not in the registry: %s\n", strings.Join(fields, ", "))
	}
}

func printSamples(p printer, samples []monitor.Sample) error {
	for _, s := range samples {
		b, err := json.Marshal(s.Record)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.w, "- %s %s\n", s.ID, b)
	}
	return nil
}
