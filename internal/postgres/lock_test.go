package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashToInt64IsStableAndPositive(t *testing.T) {
	key := SubscriptionLockKey("subs_123")
	assert.Equal(t, hashToInt64(key), hashToInt64(key))
	assert.GreaterOrEqual(t, hashToInt64(key), int64(0))
	assert.NotEqual(t, hashToInt64(key), hashToInt64(SubscriptionLockKey("subs_124")))
}

func TestAdvisoryLockerAcquireAndRelease(t *testing.T) {
	db, mock := newMockDB(t)
	locker := NewAdvisoryLocker(db, logger.NewNoopLogger())
	key := SubscriptionLockKey("subs_1")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WithArgs(hashToInt64(key)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).
		WithArgs(hashToInt64(key)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	release, err := locker.TryLock(context.Background(), key)
	require.NoError(t, err)

	release()
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockerFailsFastWhenHeld(t *testing.T) {
	db, mock := newMockDB(t)
	locker := NewAdvisoryLocker(db, logger.NewNoopLogger())
	key := SubscriptionLockKey("subs_1")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WithArgs(hashToInt64(key)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	release, err := locker.TryLock(context.Background(), key)
	assert.Nil(t, release)
	assert.True(t, ierr.Is(err, ierr.ErrLockHeld))
	assert.True(t, ierr.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
