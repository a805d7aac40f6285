package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/fx"
)

// IClient is the transactional surface services depend on
type IClient interface {
	// WithTx runs fn inside a transaction, nesting through savepoints
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// AfterCommit runs fn once the outermost transaction in ctx commits,
	// or immediately when ctx carries no transaction
	AfterCommit(ctx context.Context, fn func(ctx context.Context))
}

// DB wraps sqlx.DB to provide transaction management
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

// Querier interface defines all database operations
// Both *sqlx.DB and *sqlx.Tx implement these methods
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Module provides the postgres connection to the fx graph
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			NewDB,
			func(db *DB) IClient { return db },
			NewAdvisoryLocker,
		),
		fx.Invoke(func(lc fx.Lifecycle, db *DB) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					db.Close()
					return nil
				},
			})
		}),
	)
}

// NewDB creates a new DB instance
func NewDB(config *config.Configuration, logger *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", config.Postgres.GetDSN())
	if err != nil {
		return nil, err
	}

	if config.Postgres.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.Postgres.MaxOpenConns)
	}
	if config.Postgres.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}
	if config.Postgres.ConnMaxLifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(config.Postgres.ConnMaxLifetimeMinutes) * time.Minute)
	}

	return &DB{DB: db, logger: logger}, nil
}

// NewFromSqlx wraps an existing connection, used by tests with sqlmock
func NewFromSqlx(db *sqlx.DB, logger *logger.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection
func (db *DB) Close() {
	if err := db.DB.Close(); err != nil {
		db.logger.Errorw("error closing database", "error", err)
	}
}

// GetQuerier returns either the transaction from context or the base DB
func (db *DB) GetQuerier(ctx context.Context) Querier {
	if tx, ok := GetTx(ctx); ok {
		return NewTracedQuerier(tx.Tx, db.logger, tx.ID)
	}
	return NewTracedQuerier(db.DB, db.logger, "")
}

// ExecContext runs on the transaction in ctx when there is one
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.GetQuerier(ctx).ExecContext(ctx, query, args...)
}

// GetContext runs on the transaction in ctx when there is one
func (db *DB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return db.GetQuerier(ctx).GetContext(ctx, dest, query, args...)
}

// SelectContext runs on the transaction in ctx when there is one
func (db *DB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return db.GetQuerier(ctx).SelectContext(ctx, dest, query, args...)
}

// NamedExecContext binds named parameters and executes on the current querier
func (db *DB) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	return sqlx.NamedExecContext(ctx, db.GetQuerier(ctx), query, arg)
}

// NamedQueryContext binds named parameters and queries on the current querier
func (db *DB) NamedQueryContext(ctx context.Context, query string, arg interface{}) (*sqlx.Rows, error) {
	return sqlx.NamedQueryContext(ctx, db.GetQuerier(ctx), query, arg)
}
