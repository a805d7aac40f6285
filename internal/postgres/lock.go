package postgres

import (
	"context"
	"hash/fnv"
	"sync"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
)

// Locker hands out single-writer locks that are not tied to any row
type Locker interface {
	// TryLock acquires key without blocking. A held lock fails with
	// ErrLockHeld marked retryable. release is safe to call more than once.
	TryLock(ctx context.Context, key string) (release func(), err error)
}

// AdvisoryLocker implements Locker with PostgreSQL session advisory locks.
// Each lock pins a dedicated connection until it is released.
type AdvisoryLocker struct {
	db     *DB
	logger *logger.Logger
}

func NewAdvisoryLocker(db *DB, logger *logger.Logger) Locker {
	return &AdvisoryLocker{db: db, logger: logger}
}

// SubscriptionLockKey is the lock key for all work on one subscription
func SubscriptionLockKey(subscriptionID string) string {
	return "subscription:" + subscriptionID
}

func (l *AdvisoryLocker) TryLock(ctx context.Context, key string) (func(), error) {
	lockID := hashToInt64(key)

	conn, err := l.db.DB.DB.Conn(ctx)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Could not get a connection for the advisory lock").
			WithReportableDetails(map[string]any{"lock_key": key}).
			MarkAll(ierr.ErrDatabase, ierr.ErrRetryable)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, ierr.WithError(err).
			WithHint("Could not acquire the advisory lock").
			WithReportableDetails(map[string]any{"lock_key": key}).
			MarkAll(ierr.ErrDatabase, ierr.ErrRetryable)
	}

	if !acquired {
		_ = conn.Close()
		return nil, ierr.NewError("lock held by another process").
			WithHintf("%s is already being processed, retry later", key).
			WithReportableDetails(map[string]any{"lock_key": key}).
			MarkAll(ierr.ErrLockHeld, ierr.ErrRetryable)
	}

	l.logger.Debugw("acquired advisory lock", "lock_key", key, "lock_id", lockID)

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			// the caller's ctx may already be done, unlocking must still happen
			if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockID); err != nil {
				l.logger.Errorw("failed to release advisory lock", "lock_key", key, "error", err)
			}
			_ = conn.Close()
		})
	}

	return release, nil
}

// hashToInt64 converts a string key to an int64 using FNV-1a hash
// with the sign bit cleared.
func hashToInt64(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
