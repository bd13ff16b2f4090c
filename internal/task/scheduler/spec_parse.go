package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed trigger definition: either a cron expression or a
// fixed interval.
type Schedule struct {
	Cron  string
	Every time.Duration
}

// IsInterval reports whether s fires on a fixed interval.
func (s Schedule) IsInterval() bool { return s.Every > 0 }

// CronSpec returns the expression handed to robfig/cron.
func (s Schedule) CronSpec() string {
	if s.IsInterval() {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

func (s Schedule) String() string { return s.CronSpec() }

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseSchedule accepts:
//   - cron expressions: "*/5 * * * *", "@hourly", "@every 10m", "cron:0 7 * * *"
//   - Go durations: "5m", "1h30m", "interval:90s"
//   - HH:MM intervals: "00:05" is five minutes
//   - bare seconds: "300"
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Schedule{}, fmt.Errorf("cron expression required after 'cron:'")
		}
		return Schedule{Cron: expr}, nil
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseEvery(s[len("every:"):])
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return Schedule{Cron: s}, nil
	}
	sch, err := parseEvery(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:05', or a duration like '5m')", raw)
	}
	return sch, nil
}

// Every returns an interval schedule.
func Every(d time.Duration) Schedule { return Schedule{Every: d} }

func parseEvery(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else if n, err := strconv.Atoi(v); err == nil {
		d = time.Duration(n) * time.Second
	} else {
		pd, err := time.ParseDuration(v)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid interval %q", v)
		}
		d = pd
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Schedule{Every: d}, nil
}
