package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	logx "changewatch/pkg/logx"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type sqlStore struct {
	db      *sql.DB
	dialect string
	log     logx.Logger
	now     func() time.Time

	opCount    atomic.Uint64
	pruneEvery uint64
}

func newSQLStore(db *sql.DB, dialect string, log logx.Logger) *sqlStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqlStore{
		db:         db,
		dialect:    dialect,
		log:        log.With(logx.String("comp", "storage")),
		now:        time.Now,
		pruneEvery: 500,
	}
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			return multierror.Append(err, rerr)
		}
		return err
	}
	return tx.Commit()
}

// ensureAffected maps a zero-row update to ErrNotFound. MySQL reports
// matched-but-unchanged rows as 0 affected, so existence is checked again.
func ensureAffected(ctx context.Context, q querier, res sql.Result, table string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}
	var one int
	err = q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	return err
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return err
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, action, target, ok, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		fmtTime(e.At), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Action, e.Target, boolInt(e.OK), nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	q := `INSERT INTO notifier_dedup(dedup_key, until_ms) VALUES(?,?)
		 ON CONFLICT(dedup_key) DO UPDATE SET until_ms=excluded.until_ms`
	if s.dialect == dialectMySQL {
		q = `INSERT INTO notifier_dedup(dedup_key, until_ms) VALUES(?,?)
		 ON DUPLICATE KEY UPDATE until_ms=VALUES(until_ms)`
	}
	_, err := s.db.ExecContext(ctx, q, key, until.UnixMilli())
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if _, perr := s.db.ExecContext(pctx, `DELETE FROM notifier_dedup WHERE until_ms < ?`, s.now().UnixMilli()); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until_ms FROM notifier_dedup WHERE dedup_key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
