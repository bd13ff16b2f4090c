package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"changewatch/internal/changes"
	"changewatch/internal/subscription"
)

const execCols = `id, subscription_id, started_at, finished_at, state, previous_count, current_count,
	created_count, modified_count, removed_count, notification_sent, error_message, detail, message`

func scanExecution(r rowScanner) (*subscription.Execution, error) {
	var (
		e                        subscription.Execution
		started                  string
		finished, errMsg, detail sql.NullString
		msg                      sql.NullString
		state                    string
	)
	if err := r.Scan(&e.ID, &e.SubscriptionID, &started, &finished, &state, &e.PreviousCount, &e.CurrentCount,
		&e.Created, &e.Modified, &e.Removed, &e.NotificationSent, &errMsg, &detail, &msg); err != nil {
		return nil, err
	}
	e.State = subscription.ExecutionState(state)
	e.Error = errMsg.String
	e.Message = msg.String
	var err error
	if e.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if e.FinishedAt, err = parseTimePtr(finished); err != nil {
		return nil, err
	}
	if detail.Valid && detail.String != "" {
		var d changes.Diff
		if err := decodeJSON(detail, &d); err != nil {
			return nil, fmt.Errorf("execution %d detail: %w", e.ID, err)
		}
		e.Detail = &d
	}
	return &e, nil
}

func (s *sqlStore) StartExecution(ctx context.Context, subID int64, startedAt time.Time, previousCount int) (*subscription.Execution, error) {
	e := &subscription.Execution{
		SubscriptionID: subID,
		StartedAt:      startedAt.UTC(),
		State:          subscription.StateRunning,
		PreviousCount:  previousCount,
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(subscription_id, started_at, state, previous_count) VALUES(?,?,?,?)`,
		subID, fmtTime(e.StartedAt), string(e.State), previousCount,
	)
	if err != nil {
		return nil, err
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return e, nil
}

func finishExecution(ctx context.Context, q querier, e *subscription.Execution) error {
	detail, err := jsonText(e.Detail)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE executions SET finished_at = ?, state = ?, current_count = ?, created_count = ?,
			modified_count = ?, removed_count = ?, notification_sent = ?, error_message = ?, detail = ?, message = ?
		 WHERE id = ?`,
		fmtTimePtr(e.FinishedAt), string(e.State), e.CurrentCount, e.Created, e.Modified, e.Removed,
		boolInt(e.NotificationSent), nullStr(e.Error), detail, nullStr(e.Message), e.ID,
	)
	if err != nil {
		return err
	}
	return ensureAffected(ctx, q, res, "executions", e.ID)
}

func (s *sqlStore) CompleteExecution(ctx context.Context, e *subscription.Execution, sub *subscription.Subscription) error {
	snap, err := jsonText(sub.Snapshot)
	if err != nil {
		return err
	}
	sub.UpdatedAt = s.now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := finishExecution(ctx, tx, e); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE subscriptions SET snapshot = ?, snapshot_hash = ?, last_check = ?, last_check_count = ?,
				next_run = ?, consecutive_errors = 0, last_error = NULL, updated_at = ?
			 WHERE id = ?`,
			snap, nullStr(sub.SnapshotHash), fmtTimePtr(sub.LastCheck), sub.LastCheckCount,
			fmtTimePtr(sub.NextRun), fmtTime(sub.UpdatedAt), sub.ID,
		)
		if err != nil {
			return err
		}
		return ensureAffected(ctx, tx, res, "subscriptions", sub.ID)
	})
}

func (s *sqlStore) FailExecution(ctx context.Context, e *subscription.Execution, sub *subscription.Subscription, pauseAt int) (bool, error) {
	sub.UpdatedAt = s.now().UTC()
	var paused bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := finishExecution(ctx, tx, e); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE subscriptions SET consecutive_errors = consecutive_errors + 1, last_error = ?, updated_at = ?
			 WHERE id = ?`,
			nullStr(sub.LastError), fmtTime(sub.UpdatedAt), sub.ID,
		)
		if err != nil {
			return err
		}
		if err := ensureAffected(ctx, tx, res, "subscriptions", sub.ID); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE subscriptions SET auto_paused = 1 WHERE id = ? AND auto_paused = 0 AND consecutive_errors >= ?`,
			sub.ID, pauseAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		paused = n > 0
		return tx.QueryRowContext(ctx,
			`SELECT consecutive_errors, auto_paused FROM subscriptions WHERE id = ?`, sub.ID,
		).Scan(&sub.ConsecutiveErrors, &sub.AutoPaused)
	})
	if err != nil {
		return false, err
	}
	return paused, nil
}

func (s *sqlStore) AbortExecution(ctx context.Context, id int64, finishedAt time.Time, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE executions SET state = ?, finished_at = ?, error_message = ? WHERE id = ? AND state = ?`,
		string(subscription.StateFailed), fmtTime(finishedAt), nullStr(msg), id, string(subscription.StateRunning),
	)
	return err
}

func (s *sqlStore) GetExecution(ctx context.Context, id int64) (*subscription.Execution, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx, `SELECT `+execCols+` FROM executions WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "execution", id)
	}
	return e, nil
}

func (s *sqlStore) ListExecutions(ctx context.Context, f ExecutionFilter) ([]subscription.Execution, error) {
	var (
		where []string
		args  []any
	)
	if f.SubscriptionID != 0 {
		where = append(where, "subscription_id = ?")
		args = append(args, f.SubscriptionID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + execCols + ` FROM executions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY id DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []subscription.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
