package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/internal/subscription"
	logx "changewatch/pkg/logx"
)

func newMockStore(t *testing.T, dialect string) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := newSQLStore(db, dialect, logx.Nop())
	st.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return st, mock
}

func TestCompleteExecutionRollsBack(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t, dialectSQLite)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE executions SET finished_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE subscriptions SET snapshot").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	finished := time.Date(2024, 3, 1, 9, 0, 1, 0, time.UTC)
	exec := &subscription.Execution{ID: 7, State: subscription.StateCompleted, FinishedAt: &finished}
	sub := &subscription.Subscription{ID: 3}
	err := st.CompleteExecution(context.Background(), exec, sub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailExecutionCountsInSQL(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t, dialectSQLite)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE executions SET finished_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE subscriptions SET consecutive_errors = consecutive_errors \+ 1`).
		WithArgs("timeout", "2024-03-01T09:00:00.000000Z", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE subscriptions SET auto_paused = 1").
		WithArgs(int64(3), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT consecutive_errors, auto_paused FROM subscriptions").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"consecutive_errors", "auto_paused"}).AddRow(3, 1))
	mock.ExpectCommit()

	exec := &subscription.Execution{ID: 7, State: subscription.StateFailed, Error: "timeout"}
	sub := &subscription.Subscription{ID: 3, LastError: "timeout"}
	paused, err := st.FailExecution(context.Background(), exec, sub, 3)
	require.NoError(t, err)
	assert.True(t, paused)
	assert.Equal(t, 3, sub.ConsecutiveErrors)
	assert.True(t, sub.AutoPaused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteExecutionLeavesPauseFlag(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t, dialectSQLite)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE executions SET finished_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`next_run = \?, consecutive_errors = 0, last_error = NULL, updated_at = \?\s+WHERE id = \?`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 0, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	exec := &subscription.Execution{ID: 7, State: subscription.StateCompleted}
	sub := &subscription.Subscription{ID: 3, AutoPaused: true, ConsecutiveErrors: 3}
	require.NoError(t, st.CompleteExecution(context.Background(), exec, sub))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSubscriptionNotFoundOnMySQL(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t, dialectMySQL)
	mock.ExpectExec("UPDATE subscriptions SET user_id").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM subscriptions WHERE id").WillReturnRows(sqlmock.NewRows([]string{"1"}))

	err := st.UpdateSubscription(context.Background(), &subscription.Subscription{ID: 5, Query: "q"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSubscriptionUnchangedRowOnMySQL(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t, dialectMySQL)
	mock.ExpectExec("UPDATE subscriptions SET user_id").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM subscriptions WHERE id").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	require.NoError(t, st.UpdateSubscription(context.Background(), &subscription.Subscription{ID: 5, Query: "q"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutDedupMySQLUpsert(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t, dialectMySQL)
	mock.ExpectExec("ON DUPLICATE KEY UPDATE").WithArgs("k", int64(1000)).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, st.PutDedup(context.Background(), "k", time.UnixMilli(1000)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDueSubscriptionsPropagatesQueryError(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t, dialectSQLite)
	mock.ExpectQuery("FROM subscriptions").WillReturnError(errors.New("locked"))
	_, err := st.DueSubscriptions(context.Background(), time.Now())
	assert.EqualError(t, err, "locked")
}
