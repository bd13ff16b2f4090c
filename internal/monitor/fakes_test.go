package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"changewatch/internal/jsontree"
	"changewatch/internal/storage"
	"changewatch/internal/subscription"
	kit "changewatch/internal/transport"
)

type memStore struct {
	mu    sync.Mutex
	subs  map[int64]*subscription.Subscription
	users map[int64]*subscription.User
	execs map[int64]*subscription.Execution
	seq   int64

	completeErr error
	writes      int
	aborted     []int64
}

func newMemStore() *memStore {
	return &memStore{
		subs:  map[int64]*subscription.Subscription{},
		users: map[int64]*subscription.User{},
		execs: map[int64]*subscription.Execution{},
	}
}

func (m *memStore) addSub(s subscription.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.subs[s.ID] = &cp
}

func (m *memStore) addUser(u subscription.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.ID] = &cp
}

func (m *memStore) sub(id int64) subscription.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.subs[id]
}

func (m *memStore) GetSubscription(_ context.Context, id int64) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetUser(_ context.Context, id int64) (*subscription.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) DueSubscriptions(_ context.Context, now time.Time) ([]subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []subscription.Subscription
	for id := int64(1); id <= int64(len(m.subs))+100; id++ {
		if s, ok := m.subs[id]; ok && s.Due(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) StartExecution(_ context.Context, subID int64, startedAt time.Time, prev int) (*subscription.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e := &subscription.Execution{ID: m.seq, SubscriptionID: subID, StartedAt: startedAt, State: subscription.StateRunning, PreviousCount: prev}
	cp := *e
	m.execs[e.ID] = &cp
	m.writes++
	return e, nil
}

func (m *memStore) finish(e *subscription.Execution, s *subscription.Subscription) {
	ecp, scp := *e, *s
	m.execs[e.ID] = &ecp
	m.subs[s.ID] = &scp
	m.writes++
}

// CompleteExecution writes run state onto the stored row; admin columns and
// the pause flag keep their stored values.
func (m *memStore) CompleteExecution(_ context.Context, e *subscription.Execution, s *subscription.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	cur := *m.subs[s.ID]
	cur.Snapshot, cur.SnapshotHash = s.Snapshot, s.SnapshotHash
	cur.LastCheck, cur.LastCheckCount, cur.NextRun = s.LastCheck, s.LastCheckCount, s.NextRun
	cur.ConsecutiveErrors, cur.LastError = 0, ""
	m.finish(e, &cur)
	return nil
}

// FailExecution counts on the stored row like the SQL store does.
func (m *memStore) FailExecution(_ context.Context, e *subscription.Execution, s *subscription.Subscription, pauseAt int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := *m.subs[s.ID]
	cur.ConsecutiveErrors++
	cur.LastError = s.LastError
	paused := !cur.AutoPaused && cur.ConsecutiveErrors >= pauseAt
	if paused {
		cur.AutoPaused = true
	}
	s.ConsecutiveErrors, s.AutoPaused = cur.ConsecutiveErrors, cur.AutoPaused
	m.finish(e, &cur)
	return paused, nil
}

// reactivate resets the backoff columns as UpdateBackoff does.
func (m *memStore) reactivate(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subscription.Policy{}.Reactivate(m.subs[id])
}

func (m *memStore) AbortExecution(_ context.Context, id int64, finishedAt time.Time, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.execs[id]
	e.State, e.FinishedAt, e.Error = subscription.StateFailed, &finishedAt, msg
	m.aborted = append(m.aborted, id)
	return nil
}

func (m *memStore) exec(id int64) subscription.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.execs[id]
}

// fakeExecutor answers every query with the current response.
type fakeExecutor struct {
	mu      sync.Mutex
	body    string
	err     error
	queries []string
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeExecutor) set(body string, err error) {
	f.mu.Lock()
	f.body, f.err = body, err
	f.mu.Unlock()
}

func (f *fakeExecutor) Execute(ctx context.Context, query string) (jsontree.Value, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	body, err, gate, entered := f.body, f.err, f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return jsontree.Value{}, ctx.Err()
		}
	}
	if err != nil {
		return jsontree.Value{}, err
	}
	return jsontree.Parse([]byte(body))
}

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeDeliverer struct {
	mu   sync.Mutex
	err  error
	sent []sent
}

func (f *fakeDeliverer) Deliver(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{to: to, text: text})
	return nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeAlerts struct {
	mu  sync.Mutex
	got []kit.Notification
}

func (f *fakeAlerts) Notify(_ context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return nil
}

var errUpstream = errors.New("read api: connection refused")
