package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return NewFromSqlx(sqlx.NewDb(raw, "postgres"), logger.NewNoopLogger()), mock
}

func TestWithTxRunsHooksAfterCommit(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var ran []string
	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		db.AfterCommit(ctx, func(context.Context) { ran = append(ran, "first") })
		_, err := db.ExecContext(ctx, "UPDATE subscriptions SET active = true")
		require.NoError(t, err)
		assert.Empty(t, ran, "hooks must wait for the commit")
		db.AfterCommit(ctx, func(context.Context) { ran = append(ran, "second") })
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollbackDropsHooks(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	ran := false
	boom := errors.New("boom")
	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		db.AfterCommit(ctx, func(context.Context) { ran = true })
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNestedTxUsesSavepoints(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var ran []string
	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		db.AfterCommit(ctx, func(context.Context) { ran = append(ran, "outer") })

		inner := db.WithTx(ctx, func(ctx context.Context) error {
			db.AfterCommit(ctx, func(context.Context) { ran = append(ran, "rolled back") })
			return errors.New("inner failure")
		})
		assert.Error(t, inner)

		return db.WithTx(ctx, func(ctx context.Context) error {
			db.AfterCommit(ctx, func(context.Context) { ran = append(ran, "released") })
			return nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "released"}, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAfterCommitWithoutTxRunsImmediately(t *testing.T) {
	db, _ := newMockDB(t)

	ran := false
	db.AfterCommit(context.Background(), func(context.Context) { ran = true })
	assert.True(t, ran)
}
