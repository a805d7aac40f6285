package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// translate maps driver errors onto the domain sentinels
func translate(err error, entity, op string, details map[string]any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ierr.WithError(err).
			WithHintf("%s not found", entity).
			WithReportableDetails(details).
			Mark(ierr.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ierr.WithError(err).
			WithHintf("%s already exists", entity).
			WithReportableDetails(details).
			Mark(ierr.ErrAlreadyExists)
	}
	return ierr.WithError(err).
		WithMessage(fmt.Sprintf("failed to %s %s", op, entity)).
		WithHintf("Could not %s %s", op, entity).
		WithReportableDetails(details).
		Mark(ierr.ErrDatabase)
}

// namedGet runs a named query and scans exactly one row into dest
func namedGet(rows *sqlx.Rows, dest interface{}) error {
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	return rows.StructScan(dest)
}

// namedSelect scans every row of a named query
func namedSelect[T any](rows *sqlx.Rows) ([]*T, error) {
	defer rows.Close()
	out := make([]*T, 0)
	for rows.Next() {
		var v T
		if err := rows.StructScan(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// requireAffected turns an update that matched nothing into sql.ErrNoRows
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func tenantParams(ctx context.Context, params map[string]interface{}) map[string]interface{} {
	params["tenant_id"] = types.GetTenantID(ctx)
	return params
}
