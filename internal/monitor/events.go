package monitor

import (
	"time"

	"changewatch/internal/eventbus"
	"changewatch/internal/subscription"
)

const (
	EventCompleted = "execution.completed"
	EventFailed    = "execution.failed"
	EventPaused    = "subscription.paused"
	EventSwept     = "sweep.finished"
)

// ExecutionEvent is published for terminal executions and pauses.
type ExecutionEvent struct {
	SubscriptionID int64  `json:"subscription_id"`
	Name           string `json:"name"`
	ExecutionID    int64  `json:"execution_id,omitempty"`
	State          string `json:"state,omitempty"`
	Created        int    `json:"created,omitempty"`
	Modified       int    `json:"modified,omitempty"`
	Removed        int    `json:"removed,omitempty"`
	Notified       bool   `json:"notified,omitempty"`
	Error          string `json:"error,omitempty"`
}

// SweepEvent summarizes one RunDue pass.
type SweepEvent struct {
	Due      int           `json:"due"`
	Changed  int           `json:"changed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

func (r *Runner) publish(typ string, sub *subscription.Subscription, ex *subscription.Execution, errText string) {
	if r.opt.Bus == nil {
		return
	}
	ev := ExecutionEvent{SubscriptionID: sub.ID, Name: sub.Name, Error: errText}
	if ex != nil {
		ev.ExecutionID = ex.ID
		ev.State = string(ex.State)
		ev.Created, ev.Modified, ev.Removed = ex.Created, ex.Modified, ex.Removed
		ev.Notified = ex.NotificationSent
	}
	r.opt.Bus.Publish(eventbus.Event{Type: typ, Time: r.opt.Now(), Data: ev})
}
