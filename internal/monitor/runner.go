package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"changewatch/internal/changes"
	"changewatch/internal/eventbus"
	"changewatch/internal/executor"
	"changewatch/internal/metrics"
	"changewatch/internal/notifier"
	"changewatch/internal/subscription"
	"changewatch/internal/task/engine"
	"changewatch/internal/task/scheduler"
	kit "changewatch/internal/transport"
	logx "changewatch/pkg/logx"
)

var (
	// ErrInFlight is returned when the subscription already has a running
	// execution in this process.
	ErrInFlight = errors.New("subscription already running")
	// ErrNotDue is returned by a sweep check when the subscription was run,
	// paused or disabled after the sweep listed it.
	ErrNotDue = errors.New("subscription no longer due")
)

const (
	DefaultDetailLimit = 100
	DefaultExecTimeout = 60 * time.Second
)

// Store is the persistence the runner needs.
type Store interface {
	GetSubscription(ctx context.Context, id int64) (*subscription.Subscription, error)
	GetUser(ctx context.Context, id int64) (*subscription.User, error)
	DueSubscriptions(ctx context.Context, now time.Time) ([]subscription.Subscription, error)
	StartExecution(ctx context.Context, subID int64, startedAt time.Time, previousCount int) (*subscription.Execution, error)
	CompleteExecution(ctx context.Context, e *subscription.Execution, s *subscription.Subscription) error
	FailExecution(ctx context.Context, e *subscription.Execution, s *subscription.Subscription, pauseAt int) (bool, error)
	AbortExecution(ctx context.Context, id int64, finishedAt time.Time, msg string) error
}

// Deliverer sends a change summary and reports the final outcome.
type Deliverer interface {
	Deliver(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error
}

// Alerter queues operator alerts.
type Alerter interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Submitter hands tasks to the worker pool.
type Submitter interface {
	Submit(ctx context.Context, t engine.Task) error
}

type Options struct {
	Store    Store
	Executor executor.Executor
	// Deliverer may be nil; changes are then recorded but not sent.
	Deliverer Deliverer
	// Alerts and OperatorChatID route auto-pause alerts. Optional.
	Alerts         Alerter
	OperatorChatID int64
	// Engine runs sweep and run-now tasks. Without it RunDue processes
	// subscriptions one by one on the calling goroutine.
	Engine Submitter

	Policy       subscription.Policy
	ExecTimeout  time.Duration
	DetailLimit  int
	SummaryLimit int
	Location     *time.Location

	Metrics *metrics.Recorder
	Bus     eventbus.Bus
	Log     logx.Logger
	Now     func() time.Time
}

type Runner struct {
	opt Options
	log logx.Logger

	mu     sync.Mutex
	leases map[int64]struct{}
}

func New(opt Options) *Runner {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.ExecTimeout <= 0 {
		opt.ExecTimeout = DefaultExecTimeout
	}
	if opt.DetailLimit <= 0 {
		opt.DetailLimit = DefaultDetailLimit
	}
	if opt.SummaryLimit <= 0 {
		opt.SummaryLimit = notifier.DefaultSummaryLimit
	}
	if opt.Location == nil {
		opt.Location = time.UTC
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Runner{
		opt:    opt,
		log:    opt.Log.With(logx.String("comp", "monitor")),
		leases: map[int64]struct{}{},
	}
}

// Result is the outcome of one execution.
type Result struct {
	Execution *subscription.Execution
	Diff      changes.Diff
	Paused    bool
}

// Changed reports whether the execution completed with changes.
func (r *Result) Changed() bool {
	return r != nil && r.Execution != nil && r.Execution.State == subscription.StateCompleted && !r.Diff.Empty()
}

func (r *Runner) acquire(id int64) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.leases[id]; busy {
		return nil, ErrInFlight
	}
	r.leases[id] = struct{}{}
	return func() {
		r.mu.Lock()
		delete(r.leases, id)
		r.mu.Unlock()
	}, nil
}

// Busy reports whether id currently holds a lease.
func (r *Runner) Busy(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.leases[id]
	return ok
}

// Process runs one execution of subscription id. The row is read after the
// lease is taken. The returned error is non-nil only when no terminal
// execution could be recorded (lease held, cancelled before start, store
// failure); a failed query is reported through Result.Execution.State.
func (r *Runner) Process(ctx context.Context, id int64) (*Result, error) {
	return r.process(ctx, id, time.Time{})
}

// process runs id like Process. A non-zero due skips the run with ErrNotDue
// unless the row read under the lease is still due at that time.
func (r *Runner) process(ctx context.Context, id int64, due time.Time) (*Result, error) {
	release, err := r.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub, err := r.opt.Store.GetSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load subscription %d: %w", id, err)
	}
	if !due.IsZero() && !sub.Due(due) {
		return nil, ErrNotDue
	}

	// From here on the run finishes regardless of the caller.
	wctx := context.WithoutCancel(ctx)
	started := r.opt.Now().UTC()
	ex, err := r.opt.Store.StartExecution(wctx, sub.ID, started, sub.LastCheckCount)
	if err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}
	log := r.log.With(
		logx.Int64("sub", sub.ID),
		logx.Int64("exec", ex.ID),
		logx.String("run", uuid.NewString()),
	)
	log.Debug("execution started", logx.String("name", sub.Name))

	callCtx, cancel := context.WithTimeout(wctx, r.opt.ExecTimeout)
	tree, err := r.opt.Executor.Execute(callCtx, sub.Query)
	cancel()
	if err != nil {
		return r.fail(wctx, log, sub, ex, err)
	}

	current := changes.Extract(tree, sub.EffectiveIDField())
	hash := changes.Hash(current)
	var diff changes.Diff
	if sub.SnapshotHash == "" || hash != sub.SnapshotHash {
		diff = changes.Compare(current, sub.Snapshot, sub.CompareFields)
	}
	return r.complete(wctx, log, sub, ex, current, hash, diff)
}

func (r *Runner) complete(ctx context.Context, log logx.Logger, sub *subscription.Subscription, ex *subscription.Execution, current changes.Snapshot, hash string, diff changes.Diff) (*Result, error) {
	ex.CurrentCount = current.Len()
	ex.Created, ex.Modified, ex.Removed = len(diff.Created), len(diff.Modified), len(diff.Removed)

	if total := diff.Total(); total > 0 {
		log.Info("changes detected",
			logx.Int("created", ex.Created), logx.Int("modified", ex.Modified), logx.Int("removed", ex.Removed))
		r.notify(ctx, log, sub, ex, diff)
		if total <= r.opt.DetailLimit {
			d := diff
			ex.Detail = &d
		}
	} else {
		log.Debug("no changes", logx.Int("records", ex.CurrentCount))
	}

	now := r.opt.Now()
	checked := now.UTC()
	next := scheduler.NextRun(sub.Frequency, sub.PreferredHour, now.In(r.opt.Location)).UTC()
	sub.Snapshot = current
	sub.SnapshotHash = hash
	sub.LastCheck = &checked
	sub.LastCheckCount = ex.CurrentCount
	sub.NextRun = &next
	r.opt.Policy.OnSuccess(sub)

	ex.State = subscription.StateCompleted
	ex.FinishedAt = &checked
	if err := r.opt.Store.CompleteExecution(ctx, ex, sub); err != nil {
		log.Error("completion write failed", logx.Err(err))
		r.abort(ctx, log, ex, err)
		return nil, fmt.Errorf("complete execution: %w", err)
	}

	r.opt.Metrics.Execution(string(ex.State), ex.Duration())
	r.opt.Metrics.Changes(ex.Created, ex.Modified, ex.Removed)
	r.publish(EventCompleted, sub, ex, "")
	return &Result{Execution: ex, Diff: diff}, nil
}

// notify sends the summary when the owner can receive it. The outcome is
// recorded on ex and never fails the run.
func (r *Runner) notify(ctx context.Context, log logx.Logger, sub *subscription.Subscription, ex *subscription.Execution, diff changes.Diff) {
	if r.opt.Deliverer == nil {
		r.opt.Metrics.Notification("skipped")
		return
	}
	owner, err := r.opt.Store.GetUser(ctx, sub.UserID)
	if err != nil || !owner.Notifiable() {
		log.Warn("owner has no verified chat; not notifying", logx.Int64("user", sub.UserID), logx.Err(err))
		r.opt.Metrics.Notification("skipped")
		return
	}
	msg := notifier.FormatChanges(sub.Name, diff, notifier.SummaryOptions{
		IDField: sub.EffectiveIDField(),
		Limit:   r.opt.SummaryLimit,
		Now:     r.opt.Now().In(r.opt.Location),
	})
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if err := r.opt.Deliverer.Deliver(ctx, kit.ChatTarget{ChatID: owner.TelegramChatID}, msg, opt); err != nil {
		log.Warn("notification failed", logx.Int64("chat", owner.TelegramChatID), logx.Err(err))
		r.opt.Metrics.Notification("failed")
		return
	}
	ex.NotificationSent = true
	ex.Message = msg
	r.opt.Metrics.Notification("sent")
	log.Info("notification sent", logx.Int64("chat", owner.TelegramChatID))
}

func (r *Runner) fail(ctx context.Context, log logx.Logger, sub *subscription.Subscription, ex *subscription.Execution, cause error) (*Result, error) {
	log.Error("execution failed", logx.Err(cause))
	sub.LastError = cause.Error()

	finished := r.opt.Now().UTC()
	ex.State = subscription.StateFailed
	ex.Error = cause.Error()
	ex.FinishedAt = &finished
	paused, err := r.opt.Store.FailExecution(ctx, ex, sub, r.opt.Policy.Threshold(sub))
	if err != nil {
		log.Error("failure write failed", logx.Err(err))
		r.abort(ctx, log, ex, cause)
		return nil, fmt.Errorf("fail execution: %w", err)
	}

	r.opt.Metrics.Execution(string(ex.State), ex.Duration())
	r.publish(EventFailed, sub, ex, cause.Error())
	if paused {
		r.paused(ctx, log, sub)
	}
	return &Result{Execution: ex, Paused: paused}, nil
}

func (r *Runner) paused(ctx context.Context, log logx.Logger, sub *subscription.Subscription) {
	log.Warn("subscription paused after consecutive errors",
		logx.Int("errors", sub.ConsecutiveErrors), logx.String("last_error", sub.LastError))
	r.opt.Metrics.Pause()
	r.publish(EventPaused, sub, nil, sub.LastError)
	if r.opt.Alerts == nil || r.opt.OperatorChatID == 0 {
		return
	}
	err := r.opt.Alerts.Notify(ctx, kit.Notification{
		Channel:  "telegram",
		Priority: 7,
		Target:   kit.ChatTarget{ChatID: r.opt.OperatorChatID},
		Text:     fmt.Sprintf("subscription %d (%s) paused after %d consecutive errors: %s", sub.ID, sub.Name, sub.ConsecutiveErrors, sub.LastError),
	})
	if err != nil {
		log.Debug("pause alert not queued", logx.Err(err))
	}
}

// abort marks ex failed so it does not stay running after a terminal write
// error.
func (r *Runner) abort(ctx context.Context, log logx.Logger, ex *subscription.Execution, cause error) {
	if err := r.opt.Store.AbortExecution(ctx, ex.ID, r.opt.Now().UTC(), cause.Error()); err != nil {
		log.Error("abort write failed", logx.Err(err))
	}
}
