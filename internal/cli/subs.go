package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"changewatch/internal/app"
	"changewatch/internal/storage"
	"changewatch/internal/subscription"
	"changewatch/internal/task/scheduler"
)

func newSubsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subs",
		Aliases: []string{"subscriptions"},
		Short:   "Manage subscriptions",
	}
	cmd.AddCommand(
		newSubsCreateCommand(opts),
		newSubsFromBuilderCommand(opts),
		newSubsListCommand(opts),
		newSubsShowCommand(opts),
		newSubsUpdateCommand(opts, "enable", "Enable a subscription", storage.Store.UpdateSubscription, func(_ *app.App, s *subscription.Subscription) { s.Enabled = true }),
		newSubsUpdateCommand(opts, "disable", "Disable a subscription", storage.Store.UpdateSubscription, func(_ *app.App, s *subscription.Subscription) { s.Enabled = false }),
		newSubsUpdateCommand(opts, "reactivate", "Clear an auto-pause and the error streak", storage.Store.UpdateBackoff, func(a *app.App, s *subscription.Subscription) { a.Policy().Reactivate(s) }),
		newSubsDeleteCommand(opts),
		newSubsRunCommand(opts),
	)
	return cmd
}

// scheduleFlags are shared by create and from-builder.
type scheduleFlags struct {
	user        int64
	name        string
	description string
	frequency   string
	hour        int
	maxErrors   int
	disabled    bool
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.Int64Var(&f.user, "user", 0, "owner user id")
	fl.StringVar(&f.name, "name", "", "display name")
	fl.StringVar(&f.description, "description", "", "free-text description")
	fl.StringVar(&f.frequency, "frequency", string(scheduler.Daily), "daily, weekly or monthly")
	fl.IntVar(&f.hour, "hour", scheduler.DefaultHour, "preferred hour of day (0-23)")
	fl.IntVar(&f.maxErrors, "max-errors", subscription.DefaultMaxErrors, "consecutive failures before auto-pause")
	fl.BoolVar(&f.disabled, "disabled", false, "create disabled")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("name")
}

func (f *scheduleFlags) apply(cmd *cobra.Command, s *subscription.Subscription) error {
	if f.hour < 0 || f.hour > 23 {
		return WrapExitError(ExitCommandError, fmt.Sprintf("--hour %d out of range 0-23", f.hour), nil)
	}
	freq, ok := scheduler.ParseFrequency(f.frequency)
	if !ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: unknown frequency %q; it will be scheduled monthly\n", f.frequency)
	}
	s.UserID = f.user
	s.Name = strings.TrimSpace(f.name)
	s.Description = f.description
	s.Frequency = freq
	s.PreferredHour = f.hour
	s.MaxErrors = f.maxErrors
	s.Enabled = !f.disabled
	return nil
}

func createSubscription(cmd *cobra.Command, opts *RootOptions, s *subscription.Subscription) error {
	a, err := opts.open(false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()
	if _, err := a.Store().GetUser(ctx, s.UserID); err != nil {
		return WrapExitError(exitCodeFor(err), "owner", err)
	}
	if err := a.Store().CreateSubscription(ctx, s); err != nil {
		return WrapExitError(exitCodeFor(err), "create subscription", err)
	}
	p := opts.printer(cmd)
	if p.json() {
		return p.JSON(viewSubscription(s, true))
	}
	fmt.Fprintf(p.w, "subscription #%d %q created (%s at %02d:00)\n", s.ID, s.Name, s.Frequency, s.PreferredHour)
	return nil
}

func newSubsCreateCommand(opts *RootOptions) *cobra.Command {
	sf := &scheduleFlags{}
	var query, queryFile, idField string
	var compare []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a subscription from query text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (query == "") == (queryFile == "") {
				return WrapExitError(ExitCommandError, "exactly one of --query or --query-file is required", nil)
			}
			if queryFile != "" {
				b, err := os.ReadFile(queryFile)
				if err != nil {
					return WrapExitError(ExitCommandError, "query file", err)
				}
				query = string(b)
			}
			s := &subscription.Subscription{Query: query, IDField: idField, CompareFields: compare}
			if err := sf.apply(cmd, s); err != nil {
				return err
			}
			return createSubscription(cmd, opts, s)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&query, "query", "", "query text")
	cmd.Flags().StringVar(&queryFile, "query-file", "", "file holding the query text")
	cmd.Flags().StringVar(&idField, "id-field", "id", "record identifier field")
	cmd.Flags().StringSliceVar(&compare, "compare", nil, "fields compared to detect modifications (default: whole record)")
	return cmd
}

func newSubsFromBuilderCommand(opts *RootOptions) *cobra.Command {
	sf := &scheduleFlags{}
	bf := &builderFlags{}
	cmd := &cobra.Command{
		Use:   "from-builder",
		Short: "Create a subscription from a query builder spec",
		Long: `Create a subscription from a query builder spec. The builder JSON is
stored with the subscription and its selected fields become the compare
fields.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			qb, err := bf.build(cmd.InOrStdin())
			if err != nil {
				return WrapExitError(ExitCommandError, "build query", err)
			}
			spec, err := qb.MarshalJSON()
			if err != nil {
				return err
			}
			warnUnknown(cmd.ErrOrStderr(), qb.UnknownFilters(), qb.Entity().UnknownFields(qb.Fields()))
			s := &subscription.Subscription{
				Query:         qb.Build(),
				QuerySpec:     spec,
				IDField:       qb.Entity().IDField,
				CompareFields: qb.Fields(),
			}
			if err := sf.apply(cmd, s); err != nil {
				return err
			}
			return createSubscription(cmd, opts, s)
		},
	}
	sf.register(cmd)
	bf.register(cmd)
	return cmd
}

func newSubsListCommand(opts *RootOptions) *cobra.Command {
	var f storage.SubscriptionFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			subs, err := a.Store().ListSubscriptions(cmd.Context(), f)
			if err != nil {
				return WrapExitError(ExitFailure, "list subscriptions", err)
			}
			views := make([]subscriptionView, 0, len(subs))
			rows := make([][]string, 0, len(subs))
			for i := range subs {
				s := &subs[i]
				views = append(views, viewSubscription(s, false))
				rows = append(rows, []string{
					strconv.FormatInt(s.ID, 10),
					strconv.FormatInt(s.UserID, 10),
					s.Name,
					s.Status(),
					fmt.Sprintf("%s@%02d", s.Frequency, s.PreferredHour),
					fmtCount(s.LastCheckCount),
					fmtWhen(s.LastCheck),
					fmtWhen(s.NextRun),
					fmt.Sprintf("%d/%d", s.ConsecutiveErrors, s.MaxErrors),
				})
			}
			return opts.printer(cmd).Table(views, []string{"ID", "USER", "NAME", "STATUS", "SCHEDULE", "RECORDS", "LAST CHECK", "NEXT RUN", "ERRORS"}, rows)
		},
	}
	cmd.Flags().Int64Var(&f.UserID, "user", 0, "only subscriptions of this user")
	cmd.Flags().BoolVar(&f.OnlyPaused, "paused", false, "only auto-paused subscriptions")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows (0 for all)")
	return cmd
}

func newSubsShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArgs(cmd, args)
			if err != nil {
				return err
			}
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			s, err := a.Store().GetSubscription(cmd.Context(), id)
			if err != nil {
				return WrapExitError(exitCodeFor(err), "show", err)
			}
			v := viewSubscription(s, true)
			compare := "(whole record)"
			if len(s.CompareFields) > 0 {
				compare = strings.Join(s.CompareFields, ", ")
			}
			return opts.printer(cmd).Fields(v, [][2]string{
				{"id", strconv.FormatInt(s.ID, 10)},
				{"user", strconv.FormatInt(s.UserID, 10)},
				{"name", s.Name},
				{"status", s.Status()},
				{"schedule", fmt.Sprintf("%s at %02d:00", s.Frequency, s.PreferredHour)},
				{"id field", s.EffectiveIDField()},
				{"compare", compare},
				{"records", fmtCount(s.LastCheckCount)},
				{"last check", fmtWhen(s.LastCheck)},
				{"next run", fmtWhen(s.NextRun)},
				{"errors", fmt.Sprintf("%d/%d %s", s.ConsecutiveErrors, s.MaxErrors, s.LastError)},
				{"query", "\n" + s.Query},
			})
		},
	}
}

// saveFunc is the store write an update command uses.
type saveFunc func(st storage.Store, ctx context.Context, s *subscription.Subscription) error

func newSubsUpdateCommand(opts *RootOptions, use, short string, save saveFunc, mutate func(*app.App, *subscription.Subscription)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArgs(cmd, args)
			if err != nil {
				return err
			}
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			return updateSubscription(cmd.Context(), a, id, save, func(s *subscription.Subscription) {
				mutate(a, s)
			}, opts.printer(cmd))
		},
	}
}

func updateSubscription(ctx context.Context, a *app.App, id int64, save saveFunc, mutate func(*subscription.Subscription), p printer) error {
	s, err := a.Store().GetSubscription(ctx, id)
	if err != nil {
		return WrapExitError(exitCodeFor(err), "update", err)
	}
	mutate(s)
	if err := save(a.Store(), ctx, s); err != nil {
		return WrapExitError(exitCodeFor(err), "update", err)
	}
	if p.json() {
		return p.JSON(viewSubscription(s, false))
	}
	fmt.Fprintf(p.w, "subscription #%d is %s\n", s.ID, s.Status())
	return nil
}

func newSubsDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a subscription and its executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArgs(cmd, args)
			if err != nil {
				return err
			}
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Store().DeleteSubscription(cmd.Context(), id); err != nil {
				return WrapExitError(exitCodeFor(err), "delete", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subscription #%d deleted\n", id)
			return nil
		},
	}
}

func newSubsRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Execute a subscription now, regardless of its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArgs(cmd, args)
			if err != nil {
				return err
			}
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.RunSubscription(cmd.Context(), id)
			if err != nil {
				return WrapExitError(exitCodeFor(err), "run", err)
			}
			p := opts.printer(cmd)
			if p.json() {
				return p.JSON(viewExecution(res.Execution, false))
			}
			ex := res.Execution
			if ex.State == subscription.StateFailed {
				fmt.Fprintf(p.w, "execution #%d failed: %s\n", ex.ID, ex.Error)
				if res.Paused {
					fmt.Fprintln(p.w, "the subscription is now auto-paused")
				}
				return WrapExitError(ExitFailure, "run", errors.New(ex.Error))
			}
			fmt.Fprintf(p.w, "execution #%d: %s records, %d new, %d modified, %d removed, notified=%t\n",
				ex.ID, fmtCount(ex.CurrentCount), ex.Created, ex.Modified, ex.Removed, ex.NotificationSent)
			return nil
		},
	}
}
