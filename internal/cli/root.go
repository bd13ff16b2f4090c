// Package cli is the changewatch command line: process modes on the root
// command plus administrative subcommands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"changewatch/internal/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Format     string // "text" | "json"

	Once     bool
	Daemon   bool
	Interval string
	Test     int64
	Limit    int

	// NewApp builds the application (tests swap it).
	NewApp func(app.Options) (*app.App, error)
	Getenv func(string) string
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{NewApp: app.New}

	cmd := &cobra.Command{
		Use:   "changewatch",
		Short: "Watch saved queries for new, changed and removed records",
		Long: `changewatch re-runs saved read-API queries on a schedule, diffs the
results against the previous run and sends a Telegram summary of what
changed.

Without a mode flag it runs one sweep of every due subscription.

Examples:
  changewatch --once
  changewatch --daemon --interval 10m
  changewatch --test 42 --limit 5`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMode(cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", "./changewatch.yaml", "path to config file (yaml or json, optional)")
	pf.StringVar(&opts.EnvFile, "env-file", "", "dotenv file loaded before the config (default ./.env when present)")
	pf.StringVar(&opts.Format, "format", "text", "output format (text|json)")

	f := cmd.Flags()
	f.BoolVar(&opts.Once, "once", false, "run one sweep of due subscriptions and exit (default)")
	f.BoolVar(&opts.Daemon, "daemon", false, "sweep on an interval until interrupted")
	f.StringVar(&opts.Interval, "interval", "", "daemon sweep interval, e.g. 5m, @every 1h or a cron expression")
	f.Int64Var(&opts.Test, "test", 0, "dry-run subscription `id`: execute and diff without saving or notifying")
	f.IntVar(&opts.Limit, "limit", 0, "records to print with --test")
	cmd.MarkFlagsMutuallyExclusive("once", "daemon", "test")

	cmd.AddCommand(newUsersCommand(opts))
	cmd.AddCommand(newSubsCommand(opts))
	cmd.AddCommand(newExecutionsCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		code := GetExitCode(err)
		if code == ExitSuccess {
			code = ExitFailure
		}
		return code
	}
	return ExitSuccess
}

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{format: o.Format, w: cmd.OutOrStdout()}
}

func (o *RootOptions) open(listen bool) (*app.App, error) {
	a, err := o.NewApp(app.Options{
		ConfigPath: o.ConfigPath,
		EnvFile:    o.EnvFile,
		Interval:   o.Interval,
		Listen:     listen,
		Getenv:     o.Getenv,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "startup failed", err)
	}
	return a, nil
}

func runMode(cmd *cobra.Command, opts *RootOptions) error {
	if opts.Interval != "" && !opts.Daemon {
		return WrapExitError(ExitCommandError, "--interval needs --daemon", nil)
	}
	if opts.Limit != 0 && opts.Test == 0 {
		return WrapExitError(ExitCommandError, "--limit needs --test", nil)
	}
	switch {
	case opts.Daemon:
		return runDaemon(cmd, opts)
	case opts.Test != 0:
		return runTest(cmd, opts)
	default:
		return runOnce(cmd, opts)
	}
}

func runOnce(cmd *cobra.Command, opts *RootOptions) error {
	a, err := opts.open(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	n, err := a.RunOnce(ctx)
	p := opts.printer(cmd)
	if p.json() {
		out := map[string]any{"changed": n}
		if err != nil {
			out["error"] = err.Error()
		}
		_ = p.JSON(out)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%d subscription(s) changed\n", n)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "sweep finished with errors", err)
	}
	return nil
}

func runDaemon(cmd *cobra.Command, opts *RootOptions) error {
	a, err := opts.open(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	if err := a.RunDaemon(ctx); err != nil {
		return WrapExitError(ExitFailure, "daemon stopped", err)
	}
	return nil
}

func runTest(cmd *cobra.Command, opts *RootOptions) error {
	a, err := opts.open(false)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.DryRun(cmd.Context(), opts.Test, opts.Limit)
	if err != nil {
		return WrapExitError(exitCodeFor(err), "dry run of subscription "+strconv.FormatInt(opts.Test, 10), err)
	}
	return printDryRun(opts.printer(cmd), rep)
}

// signalContext cancels on SIGINT/SIGTERM with the matching stop reason as
// cause.
func signalContext(parent context.Context) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case s := <-ch:
			if s == syscall.SIGTERM {
				cancel(app.StopSIGTERM)
			} else {
				cancel(app.StopSIGINT)
			}
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(ch)
		cancel(nil)
	}
}
