package monitor

import (
	"context"
	"sort"
	"time"

	"changewatch/internal/changes"
	"changewatch/internal/querybuilder"
	"changewatch/internal/subscription"
	logx "changewatch/pkg/logx"
)

const (
	// TestQueryLimit caps the page size of ad-hoc query tests.
	TestQueryLimit = 100
	// TestSampleSize is how many records a query test returns.
	TestSampleSize = 10
)

// Sample is one extracted record with its identifier.
type Sample struct {
	ID     string         `json:"id"`
	Record changes.Record `json:"record"`
}

// DryRunReport describes what a run would find. Diff is nil when the
// subscription has no snapshot yet.
type DryRunReport struct {
	Subscription *subscription.Subscription `json:"-"`
	Total        int                        `json:"total"`
	Samples      []Sample                   `json:"samples"`
	Diff         *changes.Diff              `json:"diff,omitempty"`
	Took         time.Duration              `json:"took"`
}

// DryRun executes subscription id and diffs the result against its stored
// snapshot without writing anything or sending notifications. limit bounds
// the returned samples; <= 0 means 100.
func (r *Runner) DryRun(ctx context.Context, id int64, limit int) (*DryRunReport, error) {
	sub, err := r.opt.Store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = TestQueryLimit
	}
	callCtx, cancel := context.WithTimeout(ctx, r.opt.ExecTimeout)
	defer cancel()
	start := time.Now()
	tree, err := r.opt.Executor.Execute(callCtx, sub.Query)
	took := time.Since(start)
	if err != nil {
		return nil, err
	}
	current := changes.Extract(tree, sub.EffectiveIDField())
	rep := &DryRunReport{
		Subscription: sub,
		Total:        current.Len(),
		Samples:      samples(current, limit),
		Took:         took,
	}
	if sub.Snapshot.Len() > 0 {
		d := changes.Compare(current, sub.Snapshot, sub.CompareFields)
		rep.Diff = &d
	}
	r.log.Info("dry run", logx.Int64("sub", id), logx.Int("records", rep.Total), logx.Duration("took", took))
	return rep, nil
}

// QueryTest is the result of TestQuery.
type QueryTest struct {
	Query   string        `json:"query"`
	Total   int           `json:"total"`
	Samples []Sample      `json:"samples"`
	Took    time.Duration `json:"took"`
}

// TestQuery executes b with its page size capped at TestQueryLimit and
// returns the first TestSampleSize records. b is not modified.
func (r *Runner) TestQuery(ctx context.Context, b *querybuilder.Builder) (*QueryTest, error) {
	query, err := cappedQuery(b)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.opt.ExecTimeout)
	defer cancel()
	start := time.Now()
	tree, err := r.opt.Executor.Execute(callCtx, query)
	took := time.Since(start)
	if err != nil {
		return &QueryTest{Query: query, Took: took}, err
	}
	recs := changes.Extract(tree, b.Entity().IDField)
	return &QueryTest{Query: query, Total: recs.Len(), Samples: samples(recs, TestSampleSize), Took: took}, nil
}

func cappedQuery(b *querybuilder.Builder) (string, error) {
	if b.Limit() <= TestQueryLimit {
		return b.Build(), nil
	}
	raw, err := b.MarshalJSON()
	if err != nil {
		return "", err
	}
	cp, err := querybuilder.FromJSON(raw)
	if err != nil {
		return "", err
	}
	return cp.SetPagination(TestQueryLimit, b.Offset()).Build(), nil
}

// samples returns up to n records in id order.
func samples(s changes.Snapshot, n int) []Sample {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > n {
		ids = ids[:n]
	}
	out := make([]Sample, 0, len(ids))
	for _, id := range ids {
		out = append(out, Sample{ID: id, Record: s[id]})
	}
	return out
}
