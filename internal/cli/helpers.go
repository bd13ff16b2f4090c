package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"changewatch/internal/monitor"
	"changewatch/internal/registry"
	"changewatch/internal/storage"
	"changewatch/internal/subscription"
)

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrDuplicateEmail),
		errors.Is(err, registry.ErrUnsupportedEntity),
		errors.Is(err, monitor.ErrInFlight):
		return ExitCommandError
	default:
		return ExitFailure
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(raw), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid id %q", raw), nil)
	}
	return id, nil
}

// idArgs parses the single positional id of cmd.
func idArgs(cmd *cobra.Command, args []string) (int64, error) {
	if len(args) != 1 {
		return 0, WrapExitError(ExitCommandError, cmd.UseLine(), nil)
	}
	return parseID(args[0])
}

func printDryRun(p printer, rep *monitor.DryRunReport) error {
	if p.json() {
		return p.JSON(rep)
	}
	sub := rep.Subscription
	fmt.Fprintf(p.w, "#%d %s: %s records in %s\n", sub.ID, sub.Name, fmtCount(rep.Total), rep.Took.Round(time.Millisecond))
	if rep.Diff == nil {
		fmt.Fprintln(p.w, "no stored snapshot; a real run would report every record as new")
	} else {
		fmt.Fprintf(p.w, "vs stored snapshot: %d new, %d modified, %d removed\n",
			len(rep.Diff.Created), len(rep.Diff.Modified), len(rep.Diff.Removed))
	}
	return printSamples(p, rep.Samples)
}

type subscriptionView struct {
	ID                int64    `json:"id"`
	UserID            int64    `json:"user_id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	Status            string   `json:"status"`
	Frequency         string   `json:"frequency"`
	PreferredHour     int      `json:"preferred_hour"`
	IDField           string   `json:"id_field"`
	CompareFields     []string `json:"compare_fields,omitempty"`
	ConsecutiveErrors int      `json:"consecutive_errors"`
	MaxErrors         int      `json:"max_errors"`
	LastError         string   `json:"last_error,omitempty"`
	LastCheck         *string  `json:"last_check,omitempty"`
	LastCheckCount    int      `json:"last_check_count"`
	NextRun           *string  `json:"next_run,omitempty"`
	Query             string   `json:"query,omitempty"`
}

func rfc3339(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func viewSubscription(s *subscription.Subscription, withQuery bool) subscriptionView {
	v := subscriptionView{
		ID:                s.ID,
		UserID:            s.UserID,
		Name:              s.Name,
		Description:       s.Description,
		Status:            s.Status(),
		Frequency:         string(s.Frequency),
		PreferredHour:     s.PreferredHour,
		IDField:           s.EffectiveIDField(),
		CompareFields:     s.CompareFields,
		ConsecutiveErrors: s.ConsecutiveErrors,
		MaxErrors:         s.MaxErrors,
		LastError:         s.LastError,
		LastCheck:         rfc3339(s.LastCheck),
		LastCheckCount:    s.LastCheckCount,
		NextRun:           rfc3339(s.NextRun),
	}
	if withQuery {
		v.Query = s.Query
	}
	return v
}
