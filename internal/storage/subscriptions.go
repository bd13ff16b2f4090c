package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"changewatch/internal/changes"
	"changewatch/internal/subscription"
	"changewatch/internal/task/scheduler"
)

const subCols = `id, user_id, name, description, query_text, query_spec, id_field, compare_fields,
	frequency, preferred_hour, enabled, auto_paused, consecutive_errors, max_errors, last_error,
	snapshot, snapshot_hash, last_check, last_check_count, next_run, created_at, updated_at`

func scanSubscription(r rowScanner) (*subscription.Subscription, error) {
	var (
		s                              subscription.Subscription
		spec, compare, lastErr, snap   sql.NullString
		hash, lastCheck, nextRun, freq sql.NullString
		created, updated               string
	)
	if err := r.Scan(&s.ID, &s.UserID, &s.Name, &s.Description, &s.Query, &spec, &s.IDField, &compare,
		&freq, &s.PreferredHour, &s.Enabled, &s.AutoPaused, &s.ConsecutiveErrors, &s.MaxErrors, &lastErr,
		&snap, &hash, &lastCheck, &s.LastCheckCount, &nextRun, &created, &updated); err != nil {
		return nil, err
	}
	if spec.Valid && spec.String != "" {
		s.QuerySpec = []byte(spec.String)
	}
	if err := decodeJSON(compare, &s.CompareFields); err != nil {
		return nil, fmt.Errorf("subscription %d compare_fields: %w", s.ID, err)
	}
	snapshot, err := changes.DecodeSnapshot([]byte(snap.String))
	if err != nil {
		return nil, fmt.Errorf("subscription %d: %w", s.ID, err)
	}
	s.Snapshot = snapshot
	s.Frequency = scheduler.Frequency(freq.String)
	s.LastError = lastErr.String
	s.SnapshotHash = hash.String
	if s.LastCheck, err = parseTimePtr(lastCheck); err != nil {
		return nil, err
	}
	if s.NextRun, err = parseTimePtr(nextRun); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &s, nil
}

func querySubscriptions(ctx context.Context, q querier, query string, args ...any) ([]subscription.Subscription, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []subscription.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if strings.TrimSpace(sub.Query) == "" {
		return fmt.Errorf("subscription query is required")
	}
	if sub.IDField == "" {
		sub.IDField = changes.DefaultIDField
	}
	if sub.Frequency == "" {
		sub.Frequency = scheduler.Daily
	}
	if sub.MaxErrors <= 0 {
		sub.MaxErrors = subscription.DefaultMaxErrors
	}
	now := s.now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now

	args, err := subscriptionArgs(sub)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(user_id, name, description, query_text, query_spec, id_field, compare_fields,
			frequency, preferred_hour, enabled, auto_paused, consecutive_errors, max_errors, last_error,
			snapshot, snapshot_hash, last_check, last_check_count, next_run, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		append(args, fmtTime(sub.CreatedAt), fmtTime(sub.UpdatedAt))...,
	)
	if err != nil {
		return err
	}
	sub.ID, err = res.LastInsertId()
	return err
}

// subscriptionArgs returns every column but the timestamps, in insert order.
func subscriptionArgs(sub *subscription.Subscription) ([]any, error) {
	spec, err := jsonText(sub.QuerySpec)
	if err != nil {
		return nil, err
	}
	compare, err := jsonText(sub.CompareFields)
	if err != nil {
		return nil, err
	}
	snap, err := jsonText(sub.Snapshot)
	if err != nil {
		return nil, err
	}
	return []any{
		sub.UserID, sub.Name, sub.Description, sub.Query, spec, sub.IDField, compare,
		string(sub.Frequency), sub.PreferredHour, boolInt(sub.Enabled), boolInt(sub.AutoPaused),
		sub.ConsecutiveErrors, sub.MaxErrors, nullStr(sub.LastError),
		snap, nullStr(sub.SnapshotHash), fmtTimePtr(sub.LastCheck), sub.LastCheckCount, fmtTimePtr(sub.NextRun),
	}, nil
}

func (s *sqlStore) GetSubscription(ctx context.Context, id int64) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `SELECT `+subCols+` FROM subscriptions WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "subscription", id)
	}
	return sub, nil
}

func (s *sqlStore) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]subscription.Subscription, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.OnlyPaused {
		where = append(where, "auto_paused = 1")
	}
	if f.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*f.Enabled))
	}
	q := `SELECT ` + subCols + ` FROM subscriptions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return querySubscriptions(ctx, s.db, q, args...)
}

func (s *sqlStore) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	sub.UpdatedAt = s.now().UTC()
	spec, err := jsonText(sub.QuerySpec)
	if err != nil {
		return err
	}
	compare, err := jsonText(sub.CompareFields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET user_id = ?, name = ?, description = ?, query_text = ?, query_spec = ?,
			id_field = ?, compare_fields = ?, frequency = ?, preferred_hour = ?, enabled = ?, max_errors = ?,
			updated_at = ?
		 WHERE id = ?`,
		sub.UserID, sub.Name, sub.Description, sub.Query, spec, sub.IDField, compare,
		string(sub.Frequency), sub.PreferredHour, boolInt(sub.Enabled), sub.MaxErrors,
		fmtTime(sub.UpdatedAt), sub.ID,
	)
	if err != nil {
		return err
	}
	return ensureAffected(ctx, s.db, res, "subscriptions", sub.ID)
}

func (s *sqlStore) UpdateBackoff(ctx context.Context, sub *subscription.Subscription) error {
	sub.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET enabled = ?, auto_paused = ?, consecutive_errors = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		boolInt(sub.Enabled), boolInt(sub.AutoPaused), sub.ConsecutiveErrors, nullStr(sub.LastError),
		fmtTime(sub.UpdatedAt), sub.ID,
	)
	if err != nil {
		return err
	}
	return ensureAffected(ctx, s.db, res, "subscriptions", sub.ID)
}

func (s *sqlStore) DeleteSubscription(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE subscription_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (s *sqlStore) DueSubscriptions(ctx context.Context, now time.Time) ([]subscription.Subscription, error) {
	return querySubscriptions(ctx, s.db,
		`SELECT `+subCols+` FROM subscriptions
		 WHERE enabled = 1 AND auto_paused = 0 AND (next_run IS NULL OR next_run <= ?)
		 ORDER BY id`,
		fmtTime(now),
	)
}
