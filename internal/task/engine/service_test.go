package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/internal/eventbus"
	logx "changewatch/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestDisabledAndStopped(t *testing.T) {
	t.Parallel()
	run := func(context.Context) error { return nil }

	off := New(Config{}, logx.Nop(), nil)
	off.Start(context.Background())
	assert.ErrorIs(t, off.Enqueue(Task{Name: "x", Run: run}), ErrDisabled)

	idle := New(Config{Enabled: true}, logx.Nop(), nil)
	assert.ErrorIs(t, idle.Enqueue(Task{Name: "x", Run: run}), ErrStopped)
	assert.Error(t, idle.Enqueue(Task{Name: "", Run: run}))
}

func TestRunsAndRecordsHistory(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 2}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	done := make(chan struct{})
	require.NoError(t, s.Submit(context.Background(), Task{Name: "check", Run: func(context.Context) error {
		close(done)
		return nil
	}}))
	<-done

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, 2*time.Second, 10*time.Millisecond)
	h := s.Snapshot().History[0]
	assert.Equal(t, "check", h.Name)
	assert.Equal(t, 1, h.Attempts)
	assert.Empty(t, h.Error)

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !seen["task.finished"] {
		select {
		case ev := <-events:
			seen[ev.Type] = true
		case <-timeout:
			t.Fatal("no task.finished event")
		}
	}
	assert.True(t, seen["task.started"])
}

func TestOverlapSkipPerKey(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	started := make(chan struct{})
	slow := Task{
		Name:           "sub",
		ConcurrencyKey: "subscription:1",
		Opt:            TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	require.NoError(t, s.Enqueue(slow))
	<-started

	again := slow
	again.Run = func(context.Context) error { return nil }
	assert.ErrorIs(t, s.Enqueue(again), ErrOverlapSkip)

	other := again
	other.ConcurrencyKey = "subscription:2"
	assert.NoError(t, s.Enqueue(other))
	close(release)
}

func TestRetriesAndNoRetry(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 2})

	var calls atomic.Int32
	require.NoError(t, s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("boom")
			}
			return nil
		},
	}))
	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, s.Snapshot().History[0].Error)

	var permanent atomic.Int32
	require.NoError(t, s.Enqueue(Task{
		Name: "permanent",
		Run: func(context.Context) error {
			permanent.Add(1)
			return NoRetry(errors.New("bad input"))
		},
	}))
	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), permanent.Load())
	assert.Equal(t, "bad input", s.Snapshot().History[1].Error)
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	require.NoError(t, s.Enqueue(Task{Name: "bad", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error {
		panic("kaboom")
	}}))
	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, s.Snapshot().History[0].Error, "kaboom")

	ok := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "after", Run: func(context.Context) error { close(ok); return nil }}))
	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "a", Run: func(context.Context) error { close(started); <-block; return nil }}))
	<-started
	require.NoError(t, s.Enqueue(Task{Name: "b", Run: func(context.Context) error { return nil }}))
	assert.ErrorIs(t, s.Enqueue(Task{Name: "c", Run: func(context.Context) error { return nil }}), ErrQueueFull)
	assert.Equal(t, uint64(1), s.Snapshot().DroppedQueueFull)
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0}
	assert.Equal(t, 100*time.Millisecond, backoffDelay(opt, 1, nil))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(opt, 3, nil))
	assert.Equal(t, time.Second, backoffDelay(opt, 10, nil))
	assert.Equal(t, time.Second, backoffDelayWithHint(opt, 1, RetryAfter(errors.New("429"), time.Minute), nil))
}

func TestOnDropWhenStoppedWithQueuedTasks(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}))
	<-started

	dropped := make(chan error, 1)
	require.NoError(t, s.Enqueue(Task{
		Name:   "waiting",
		Run:    func(context.Context) error { return nil },
		Opt:    TaskOptions{Overlap: OverlapSkipIfRunning},
		OnDrop: func(err error) { dropped <- err },
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	close(release)

	select {
	case err := <-dropped:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("OnDrop not called")
	}
	assert.False(t, s.stateFor("", "waiting").Busy())
}
