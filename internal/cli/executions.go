package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"changewatch/internal/changes"
	"changewatch/internal/storage"
	"changewatch/internal/subscription"
)

type executionView struct {
	ID               int64         `json:"id"`
	SubscriptionID   int64         `json:"subscription_id"`
	State            string        `json:"state"`
	StartedAt        string        `json:"started_at"`
	FinishedAt       *string       `json:"finished_at,omitempty"`
	DurationMS       int64         `json:"duration_ms"`
	PreviousCount    int           `json:"previous_count"`
	CurrentCount     int           `json:"current_count"`
	Created          int           `json:"created"`
	Modified         int           `json:"modified"`
	Removed          int           `json:"removed"`
	NotificationSent bool          `json:"notification_sent"`
	Error            string        `json:"error,omitempty"`
	Detail           *changes.Diff `json:"detail,omitempty"`
	Message          string        `json:"message,omitempty"`
}

func viewExecution(e *subscription.Execution, withDetail bool) executionView {
	v := executionView{
		ID:               e.ID,
		SubscriptionID:   e.SubscriptionID,
		State:            string(e.State),
		StartedAt:        e.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:       rfc3339(e.FinishedAt),
		DurationMS:       e.Duration().Milliseconds(),
		PreviousCount:    e.PreviousCount,
		CurrentCount:     e.CurrentCount,
		Created:          e.Created,
		Modified:         e.Modified,
		Removed:          e.Removed,
		NotificationSent: e.NotificationSent,
		Error:            e.Error,
	}
	if withDetail {
		v.Detail = e.Detail
		v.Message = e.Message
	}
	return v
}

func newExecutionsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "executions",
		Aliases: []string{"execs"},
		Short:   "Inspect execution history",
	}
	cmd.AddCommand(newExecutionsListCommand(opts), newExecutionsShowCommand(opts))
	return cmd
}

func newExecutionsListCommand(opts *RootOptions) *cobra.Command {
	var f storage.ExecutionFilter
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch subscription.ExecutionState(state) {
			case "", subscription.StateRunning, subscription.StateCompleted, subscription.StateFailed:
				f.State = subscription.ExecutionState(state)
			default:
				return WrapExitError(ExitCommandError, fmt.Sprintf("unknown state %q", state), nil)
			}
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			execs, err := a.Store().ListExecutions(cmd.Context(), f)
			if err != nil {
				return WrapExitError(ExitFailure, "list executions", err)
			}
			views := make([]executionView, 0, len(execs))
			rows := make([][]string, 0, len(execs))
			for i := range execs {
				e := &execs[i]
				views = append(views, viewExecution(e, false))
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10),
					strconv.FormatInt(e.SubscriptionID, 10),
					string(e.State),
					fmtWhen(&e.StartedAt),
					e.Duration().Round(time.Millisecond).String(),
					fmtCount(e.CurrentCount),
					fmt.Sprintf("+%d ~%d -%d", e.Created, e.Modified, e.Removed),
					strconv.FormatBool(e.NotificationSent),
					e.Error,
				})
			}
			return opts.printer(cmd).Table(views, []string{"ID", "SUB", "STATE", "STARTED", "TOOK", "RECORDS", "CHANGES", "NOTIFIED", "ERROR"}, rows)
		},
	}
	cmd.Flags().Int64Var(&f.SubscriptionID, "sub", 0, "only executions of this subscription")
	cmd.Flags().StringVar(&state, "state", "", "running, completed or failed")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func newExecutionsShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one execution with its stored change detail",
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
			e, err := a.Store().GetExecution(cmd.Context(), id)
			if err != nil {
				return WrapExitError(exitCodeFor(err), "show", err)
			}
			v := viewExecution(e, true)
			p := opts.printer(cmd)
			if p.json() {
				return p.JSON(v)
			}
			if err := p.Fields(v, [][2]string{
				{"id", strconv.FormatInt(e.ID, 10)},
				{"subscription", strconv.FormatInt(e.SubscriptionID, 10)},
				{"state", string(e.State)},
				{"started", fmtWhen(&e.StartedAt)},
				{"took", e.Duration().Round(time.Millisecond).String()},
				{"records", fmt.Sprintf("%s (was %s)", fmtCount(e.CurrentCount), fmtCount(e.PreviousCount))},
				{"changes", fmt.Sprintf("+%d ~%d -%d", e.Created, e.Modified, e.Removed)},
				{"notified", strconv.FormatBool(e.NotificationSent)},
				{"error", e.Error},
			}); err != nil {
				return err
			}
			switch {
			case e.Detail != nil:
				fmt.Fprintln(p.w, "detail:")
				return p.JSON(e.Detail)
			case e.Created+e.Modified+e.Removed > 0:
				fmt.Fprintln(p.w, "detail not stored (too many changes)")
			}
			return nil
		},
	}
}
