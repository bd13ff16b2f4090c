package notifier

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"changewatch/internal/changes"
	"changewatch/pkg/tgui"
)

// DefaultSummaryLimit is how many records of each kind a summary lists.
const DefaultSummaryLimit = 5

// AmountField is shown next to created records when present.
const AmountField = "amount"

// SummaryOptions tunes FormatChanges.
type SummaryOptions struct {
	IDField string
	Limit   int
	Now     time.Time
}

// FormatChanges renders d as Telegram HTML.
func FormatChanges(name string, d changes.Diff, opt SummaryOptions) string {
	limit := opt.Limit
	if limit <= 0 {
		limit = DefaultSummaryLimit
	}
	now := opt.Now
	if now.IsZero() {
		now = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s\n\n", tgui.B(name))

	if n := len(d.Created); n > 0 {
		fmt.Fprintf(&b, "➕ <b>%d new</b>\n", n)
		for _, r := range d.Created[:min(n, limit)] {
			line := "  • ID " + tgui.Esc(recordID(r, opt.IDField)).String()
			if amt, ok := formatAmount(r[AmountField]); ok {
				line += ": " + amt + " €"
			}
			b.WriteString(line + "\n")
		}
		writeMore(&b, n, limit)
		b.WriteString("\n")
	}
	if n := len(d.Modified); n > 0 {
		fmt.Fprintf(&b, "✏️ <b>%d modified</b>\n", n)
		for _, m := range d.Modified[:min(n, limit)] {
			b.WriteString("  • ID " + tgui.Esc(recordID(m.After, opt.IDField)).String() + "\n")
		}
		writeMore(&b, n, limit)
		b.WriteString("\n")
	}
	if n := len(d.Removed); n > 0 {
		fmt.Fprintf(&b, "➖ <b>%d removed</b>\n", n)
		for _, r := range d.Removed[:min(n, limit)] {
			b.WriteString("  • ID " + tgui.Esc(recordID(r, opt.IDField)).String() + "\n")
		}
		writeMore(&b, n, limit)
		b.WriteString("\n")
	}
	b.WriteString("📅 " + now.Format("2006-01-02 15:04"))
	return b.String()
}

func writeMore(b *strings.Builder, n, limit int) {
	if n > limit {
		fmt.Fprintf(b, "  <i>... and %d more</i>\n", n-limit)
	}
}

func recordID(r changes.Record, idField string) string {
	for _, k := range []string{idField, changes.DefaultIDField} {
		if k == "" {
			continue
		}
		if v, ok := r[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return "?"
}

func formatAmount(v any) (string, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return "", false
		}
		f = p
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return "", false
		}
		f = p
	default:
		return "", false
	}
	if f == 0 {
		return "", false
	}
	return humanize.FormatFloat("#,###.##", f), true
}
