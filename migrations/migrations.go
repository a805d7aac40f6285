// Package migrations embeds the goose SQL migrations of the lifecycle schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"strconv"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

const dialect = "postgres"

func setup() error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect(dialect); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to set the migration dialect").
			Mark(ierr.ErrSystem)
	}
	return nil
}

// Run executes a goose command (up, down, status, redo, version) against db
func Run(ctx context.Context, db *sql.DB, command string, args ...string) error {
	if db == nil {
		return ierr.NewError("db is required").
			WithHint("A database connection is required to run migrations").
			Mark(ierr.ErrValidation)
	}
	if err := setup(); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		return ierr.WithError(err).
			WithHintf("goose %s failed", command).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// MigrateTo moves the schema up or down to version
func MigrateTo(ctx context.Context, db *sql.DB, version string) error {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Invalid version %q, expected YYYYMMDDHHMMSS", version).
			Mark(ierr.ErrValidation)
	}
	if err := setup(); err != nil {
		return err
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to read the schema version").
			Mark(ierr.ErrDatabase)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		err = goose.UpToContext(ctx, db, ".", target)
	default:
		err = goose.DownToContext(ctx, db, ".", target)
	}
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to migrate from %d to %d", current, target).
			Mark(ierr.ErrDatabase)
	}
	return nil
}
