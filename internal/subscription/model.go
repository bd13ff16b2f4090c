// Package subscription defines the persisted records of the watcher
// (users, subscriptions, executions) and the failure backoff policy.
package subscription

import (
	"encoding/json"
	"time"

	"changewatch/internal/changes"
	"changewatch/internal/task/scheduler"
)

// Subscription is a saved query plus its run state.
type Subscription struct {
	ID          int64
	UserID      int64
	Name        string
	Description string

	Query         string
	QuerySpec     json.RawMessage // builder JSON the query was compiled from, if any
	IDField       string
	CompareFields []string

	Frequency     scheduler.Frequency
	PreferredHour int

	Enabled           bool
	AutoPaused        bool
	ConsecutiveErrors int
	MaxErrors         int
	LastError         string

	Snapshot       changes.Snapshot
	SnapshotHash   string
	LastCheck      *time.Time
	LastCheckCount int
	NextRun        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Runnable reports whether a sweep may pick s up.
func (s *Subscription) Runnable() bool { return s.Enabled && !s.AutoPaused }

// Due reports whether s is runnable and its next run is unset or <= now.
func (s *Subscription) Due(now time.Time) bool {
	return s.Runnable() && (s.NextRun == nil || !s.NextRun.After(now))
}

// EffectiveIDField falls back to "id".
func (s *Subscription) EffectiveIDField() string {
	if s.IDField == "" {
		return changes.DefaultIDField
	}
	return s.IDField
}

// Status is a short label for listings.
func (s *Subscription) Status() string {
	switch {
	case s.AutoPaused:
		return "paused"
	case !s.Enabled:
		return "disabled"
	default:
		return "active"
	}
}

// User owns subscriptions and receives their notifications.
type User struct {
	ID               int64
	Email            string
	Name             string
	TelegramChatID   int64
	TelegramUsername string
	TelegramVerified bool
	LinkToken        string
	LinkTokenExpires *time.Time
	Active           bool
	CreatedAt        time.Time
}

// Notifiable reports whether the user can receive change messages.
func (u *User) Notifiable() bool {
	return u != nil && u.Active && u.TelegramVerified && u.TelegramChatID != 0
}

type ExecutionState string

const (
	StateRunning   ExecutionState = "running"
	StateCompleted ExecutionState = "completed"
	StateFailed    ExecutionState = "failed"
)

// Execution is the audit record of one run.
type Execution struct {
	ID               int64
	SubscriptionID   int64
	StartedAt        time.Time
	FinishedAt       *time.Time
	State            ExecutionState
	PreviousCount    int
	CurrentCount     int
	Created          int
	Modified         int
	Removed          int
	NotificationSent bool
	Error            string
	Detail           *changes.Diff
	Message          string
}

// Duration is zero while the execution is running.
func (e *Execution) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}
