package scheduler

import (
	"strings"
	"time"
)

// Frequency is a subscription's cadence class.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// DefaultHour is the preferred hour when a subscription names none.
const DefaultHour = 8

// Known reports whether f is one of the defined classes.
func (f Frequency) Known() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// ParseFrequency normalizes s. Unknown values are returned as-is with
// ok=false; NextRun treats them as monthly.
func ParseFrequency(s string) (Frequency, bool) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	return f, f.Known()
}

// NextRun returns the next slot for freq at hour:00:00 in now's location.
//
//   - daily: today at hour, or tomorrow once that instant is <= now.
//   - weekly: the coming Monday at hour; today when now is a Monday before
//     the slot.
//   - monthly (and anything unrecognized): the 1st of next month at hour.
//
// hour is clamped to 0..23.
func NextRun(freq Frequency, hour int, now time.Time) time.Time {
	if hour < 0 {
		hour = 0
	}
	if hour > 23 {
		hour = 23
	}
	y, m, d := now.Date()
	loc := now.Location()
	slot := time.Date(y, m, d, hour, 0, 0, 0, loc)

	switch freq {
	case Daily:
		if !slot.After(now) {
			slot = slot.AddDate(0, 0, 1)
		}
		return slot
	case Weekly:
		// Monday is 0 in this count.
		sinceMonday := (int(now.Weekday()) + 6) % 7
		days := (7 - sinceMonday) % 7
		if days == 0 && !slot.After(now) {
			days = 7
		}
		return slot.AddDate(0, 0, days)
	default:
		// time.Date normalizes month 13 into January of the next year.
		return time.Date(y, m+1, 1, hour, 0, 0, 0, loc)
	}
}
