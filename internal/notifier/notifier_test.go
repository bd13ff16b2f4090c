package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/internal/changes"
	kit "changewatch/internal/transport"
	logx "changewatch/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	fails int
	sent  []string
	calls int
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("telegram: 502")
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func fastConfig() Config {
	return Config{Enabled: true, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{fails: 2}
	s := New(fastConfig(), ad, logx.Nop(), nil, nil)
	require.NoError(t, s.Deliver(context.Background(), kit.ChatTarget{ChatID: 1}, "hello", nil))
	assert.Equal(t, 3, ad.calls)
	assert.Equal(t, []string{"hello"}, ad.texts())
	assert.Len(t, s.Snapshot(), 1)
}

func TestDeliverReportsFinalFailure(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{fails: 10}
	s := New(fastConfig(), ad, logx.Nop(), nil, nil)
	err := s.Deliver(context.Background(), kit.ChatTarget{ChatID: 1}, "hello", nil)
	assert.EqualError(t, err, "telegram: 502")
	assert.Equal(t, 3, ad.calls)

	none := New(fastConfig(), nil, logx.Nop(), nil, nil)
	assert.ErrorIs(t, none.Deliver(context.Background(), kit.ChatTarget{ChatID: 1}, "x", nil), ErrNoTransport)
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (d *memDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = until
	return nil
}

func (d *memDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.m[key]
	return u, ok, nil
}

func TestNotifyDedupsAndPrefixes(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	cfg := fastConfig()
	cfg.DedupWindow = time.Minute
	cfg.PersistDedup = true
	store := &memDedup{m: map[string]time.Time{}}
	s := New(cfg, ad, logx.Nop(), nil, store)
	s.Start(context.Background())

	n := kit.Notification{Channel: "telegram", Priority: 7, Target: kit.ChatTarget{ChatID: 9}, Text: "subscription 3 paused"}
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), n))

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)

	assert.Equal(t, []string{"⚠️ subscription 3 paused"}, ad.texts())
	store.mu.Lock()
	assert.Len(t, store.m, 1)
	store.mu.Unlock()
	assert.ErrorIs(t, s.Notify(context.Background(), n), ErrStopped)
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeAdapter{}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), kit.Notification{Text: "x"}), ErrDisabled)
}

func TestFormatChangesGolden(t *testing.T) {
	t.Parallel()
	d := changes.Diff{
		Created: []changes.Record{
			{"id": json.Number("1"), "amount": json.Number("1234.5")},
			{"id": json.Number("2")},
			{"id": json.Number("3")},
			{"id": json.Number("4")},
			{"id": json.Number("5")},
			{"id": json.Number("6")},
			{"id": json.Number("7")},
		},
		Modified: []changes.Modification{{Before: changes.Record{"id": "g-9"}, After: changes.Record{"id": "g-9"}}},
		Removed:  []changes.Record{{"code": "X"}},
	}
	out := FormatChanges("Grants <2024>", d, SummaryOptions{Now: time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)})
	g := goldie.New(t)
	g.Assert(t, "summary", []byte(out))
}

func TestFormatChangesUsesIDField(t *testing.T) {
	t.Parallel()
	d := changes.Diff{Created: []changes.Record{{"code": "A-1", "amount": "oops"}}}
	out := FormatChanges("x", d, SummaryOptions{IDField: "code", Limit: 1})
	assert.Contains(t, out, "  • ID A-1\n")
	assert.NotContains(t, out, "more")
	assert.NotContains(t, out, "modified")
}
