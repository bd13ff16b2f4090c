package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"changewatch/internal/eventbus"
	"changewatch/internal/subscription"
	"changewatch/internal/task/engine"
	logx "changewatch/pkg/logx"
)

const (
	taskCheck  = "subscription.check"
	taskRunNow = "subscription.run_now"
)

func concurrencyKey(id int64) string { return fmt.Sprintf("subscription:%d", id) }

// Outcome is delivered by RunNow.
type Outcome struct {
	Result *Result
	Err    error
}

// sweepTally is shared by the tasks of one sweep.
type sweepTally struct {
	mu      sync.Mutex
	changed int
	failed  int
	skipped int
	errs    *multierror.Error
}

func (t *sweepTally) add(res *Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case errors.Is(err, ErrInFlight), errors.Is(err, ErrNotDue), errors.Is(err, engine.ErrOverlapSkip), errors.Is(err, context.Canceled):
		t.skipped++
	case err != nil:
		t.errs = multierror.Append(t.errs, err)
	case res.Changed():
		t.changed++
	case res.Execution.State == subscription.StateFailed:
		t.failed++
	}
}

// pending tracks a submitted task: 0 queued, 1 started, 2 cancelled or
// dropped. Whoever moves it out of 0 closes done, started tasks once they
// finish.
type pending struct {
	state atomic.Int32
	done  chan struct{}
}

func (p *pending) start() bool { return p.state.CompareAndSwap(0, 1) }

func (p *pending) cancel() bool {
	if p.state.CompareAndSwap(0, 2) {
		close(p.done)
		return true
	}
	return false
}

// RunDue processes every due subscription and returns how many had
// changes. Failures of single subscriptions are recorded on their
// executions; the returned error aggregates store failures and is
// ctx.Err() when the sweep was interrupted. On cancellation queued
// subscriptions are skipped while running ones finish.
func (r *Runner) RunDue(ctx context.Context, now time.Time) (int, error) {
	start := r.opt.Now()
	subs, err := r.opt.Store.DueSubscriptions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due subscriptions: %w", err)
	}
	r.opt.Metrics.Sweep(len(subs))
	r.log.Info("sweep started", logx.Int("due", len(subs)))

	tally := &sweepTally{}
	if r.opt.Engine == nil {
		r.runSequential(ctx, subs, now, tally)
	} else {
		r.runPooled(ctx, subs, now, tally)
	}
	if err := ctx.Err(); err != nil {
		tally.errs = multierror.Append(tally.errs, err)
	}

	ev := SweepEvent{Due: len(subs), Changed: tally.changed, Failed: tally.failed, Skipped: tally.skipped, Duration: r.opt.Now().Sub(start)}
	r.log.Info("sweep finished",
		logx.Int("due", ev.Due), logx.Int("changed", ev.Changed), logx.Int("failed", ev.Failed),
		logx.Int("skipped", ev.Skipped), logx.Duration("took", ev.Duration))
	if r.opt.Bus != nil {
		r.opt.Bus.Publish(eventbus.Event{Type: EventSwept, Time: r.opt.Now(), Data: ev})
	}
	return tally.changed, tally.errs.ErrorOrNil()
}

func (r *Runner) runSequential(ctx context.Context, subs []subscription.Subscription, now time.Time, tally *sweepTally) {
	for i := range subs {
		if ctx.Err() != nil {
			tally.mu.Lock()
			tally.skipped += len(subs) - i
			tally.mu.Unlock()
			return
		}
		res, err := r.process(ctx, subs[i].ID, now)
		tally.add(res, err)
	}
}

func (r *Runner) runPooled(ctx context.Context, subs []subscription.Subscription, now time.Time, tally *sweepTally) {
	var pend []*pending
	for i := range subs {
		if ctx.Err() != nil {
			tally.mu.Lock()
			tally.skipped += len(subs) - i
			tally.mu.Unlock()
			break
		}
		sub := &subs[i]
		p := &pending{done: make(chan struct{})}
		err := r.opt.Engine.Submit(ctx, engine.Task{
			Name:           taskCheck,
			ConcurrencyKey: concurrencyKey(sub.ID),
			Opt:            engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
			Run: func(tctx context.Context) error {
				if ctx.Err() != nil {
					if p.cancel() {
						tally.add(nil, context.Canceled)
					}
					return nil
				}
				if !p.start() {
					return nil
				}
				defer close(p.done)
				res, err := r.process(tctx, sub.ID, now)
				tally.add(res, err)
				return engine.NoRetry(err)
			},
			OnDrop: func(err error) {
				if p.cancel() {
					tally.add(nil, context.Canceled)
				}
			},
		})
		if err != nil {
			if errors.Is(err, engine.ErrOverlapSkip) || ctx.Err() != nil {
				tally.add(nil, engine.ErrOverlapSkip)
				continue
			}
			tally.add(nil, fmt.Errorf("submit subscription %d: %w", sub.ID, err))
			continue
		}
		pend = append(pend, p)
	}

	for i, p := range pend {
		select {
		case <-p.done:
			continue
		case <-ctx.Done():
		}
		for _, q := range pend[i:] {
			if q.cancel() {
				tally.add(nil, context.Canceled)
			}
		}
		for _, q := range pend[i:] {
			<-q.done
		}
		return
	}
}

// RunNow queues a manual run of subscription id on the worker pool, even
// when it is paused or disabled. The channel receives exactly one Outcome.
func (r *Runner) RunNow(ctx context.Context, id int64) (<-chan Outcome, error) {
	if _, err := r.opt.Store.GetSubscription(ctx, id); err != nil {
		return nil, err
	}
	if r.Busy(id) {
		return nil, ErrInFlight
	}
	out := make(chan Outcome, 1)
	if r.opt.Engine == nil {
		go func() {
			res, err := r.Process(context.WithoutCancel(ctx), id)
			out <- Outcome{Result: res, Err: err}
		}()
		return out, nil
	}
	err := r.opt.Engine.Submit(ctx, engine.Task{
		Name:           taskRunNow,
		ConcurrencyKey: concurrencyKey(id),
		Opt:            engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		Run: func(tctx context.Context) error {
			res, err := r.Process(tctx, id)
			out <- Outcome{Result: res, Err: err}
			return engine.NoRetry(err)
		},
		OnDrop: func(err error) { out <- Outcome{Err: err} },
	})
	if errors.Is(err, engine.ErrOverlapSkip) {
		return nil, ErrInFlight
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
