package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flexprice/lifecycle/internal/types"
	"github.com/jmoiron/sqlx"
)

// TxKey is the context key type for storing transaction
type TxKey struct{}

// Tx wraps sqlx.Tx to support nested transactions using savepoints
type Tx struct {
	*sqlx.Tx
	savepointID int
	ID          string // Unique ID for tracing

	// parent is the context the outermost transaction was started from,
	// after-commit hooks run on it once the transaction is gone
	parent context.Context
	hooks  []func(ctx context.Context)
	// marks holds len(hooks) at every open savepoint so a rollback to the
	// savepoint drops the hooks registered after it
	marks []int
}

// GetTx retrieves a transaction from the context if it exists
func GetTx(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(TxKey{}).(*Tx)
	return tx, ok && tx != nil
}

// WithoutTx returns ctx with any transaction hidden, so queries run on the pool.
// Work that may outlive the transaction has to use it.
func WithoutTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, TxKey{}, (*Tx)(nil))
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context) (context.Context, *Tx, error) {
	if tx, ok := GetTx(ctx); ok {
		// Create a new savepoint for nested transaction
		tx.savepointID++
		savepoint := fmt.Sprintf("sp_%d", tx.savepointID)

		db.logger.Debugw("creating savepoint",
			"tx_id", tx.ID,
			"savepoint", savepoint,
		)

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %s", savepoint)); err != nil {
			tx.savepointID--
			return ctx, nil, fmt.Errorf("failed to create savepoint: %w", err)
		}
		tx.marks = append(tx.marks, len(tx.hooks))
		return ctx, tx, nil
	}

	sqlxTx, err := db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
		ReadOnly:  false,
	})
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{
		Tx:     sqlxTx,
		ID:     types.GenerateUUID(),
		parent: ctx,
	}

	db.logger.Debugw("starting new transaction", "tx_id", tx.ID)

	ctx = context.WithValue(ctx, TxKey{}, tx)
	return ctx, tx, nil
}

// CommitTx commits the current transaction level
func (db *DB) CommitTx(ctx context.Context) error {
	tx, ok := GetTx(ctx)
	if !ok {
		return fmt.Errorf("no transaction in context")
	}

	if tx.savepointID > 0 {
		savepoint := fmt.Sprintf("sp_%d", tx.savepointID)

		db.logger.Debugw("releasing savepoint",
			"tx_id", tx.ID,
			"savepoint", savepoint,
		)

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", savepoint)); err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		tx.savepointID--
		tx.marks = tx.marks[:len(tx.marks)-1]
		return nil
	}

	db.logger.Debugw("committing transaction", "tx_id", tx.ID)

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.runHooks(tx)
	return nil
}

// RollbackTx rolls back the current transaction level
func (db *DB) RollbackTx(ctx context.Context) error {
	tx, ok := GetTx(ctx)
	if !ok {
		return fmt.Errorf("no transaction in context")
	}

	if tx.savepointID > 0 {
		savepoint := fmt.Sprintf("sp_%d", tx.savepointID)

		db.logger.Debugw("rolling back to savepoint",
			"tx_id", tx.ID,
			"savepoint", savepoint,
		)

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", savepoint)); err != nil {
			return fmt.Errorf("failed to rollback to savepoint: %w", err)
		}
		tx.savepointID--
		mark := tx.marks[len(tx.marks)-1]
		tx.marks = tx.marks[:len(tx.marks)-1]
		tx.hooks = tx.hooks[:mark]
		return nil
	}

	db.logger.Debugw("rolling back transaction", "tx_id", tx.ID)

	tx.hooks = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// WithTx executes a function within a transaction
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}

	// Handle panics by rolling back
	defer func() {
		if r := recover(); r != nil {
			db.logger.Errorw("panic in transaction",
				"tx_id", tx.ID,
				"panic", r,
			)
			_ = db.RollbackTx(ctx)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		db.logger.Debugw("transaction failed",
			"tx_id", tx.ID,
			"error", err,
		)
		if rbErr := db.RollbackTx(ctx); rbErr != nil {
			return fmt.Errorf("error rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := db.CommitTx(ctx); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// AfterCommit registers fn to run once the outermost transaction commits.
// Without a transaction in ctx fn runs right away.
func (db *DB) AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	tx, ok := GetTx(ctx)
	if !ok {
		fn(ctx)
		return
	}
	tx.hooks = append(tx.hooks, fn)
}

func (db *DB) runHooks(tx *Tx) {
	hooks := tx.hooks
	tx.hooks = nil
	ctx := context.WithoutCancel(tx.parent)
	for _, hook := range hooks {
		hook(ctx)
	}
}
