package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		cron  string
		every time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", cron: "*/5 * * * *"},
		{name: "prefixed cron", raw: "cron:0 7 * * *", cron: "0 7 * * *"},
		{name: "descriptor", raw: "@hourly", cron: "@hourly"},
		{name: "duration", raw: "10m", every: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", every: 45 * time.Second},
		{name: "hhmm", raw: "01:30", every: 90 * time.Minute},
		{name: "seconds", raw: "300", every: 5 * time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
			if got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0", "-5m", "00:75"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestScheduleCronSpec(t *testing.T) {
	t.Parallel()
	if got := Every(5 * time.Minute).CronSpec(); got != "@every 5m0s" {
		t.Fatalf("CronSpec = %q", got)
	}
	if got := (Schedule{Cron: "@daily"}).CronSpec(); got != "@daily" {
		t.Fatalf("CronSpec = %q", got)
	}
}
