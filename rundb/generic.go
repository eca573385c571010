package rundb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/rundb/internal/columns"
	"github.com/jswidler/tenantrun/tenantctx"
)

// Opinionated helpers for the job tables. Columns with special meaning:
// `id` - primary key, required
// `metadata` - jsonb; when a tenant is in the context, reads are limited to rows whose
// metadata tenantId matches it
// `created_at`, `updated_at` - managed here

type GetContexter interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type ExecContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type NamedExecContexter interface {
	NamedExecContext(ctx context.Context, query string, args interface{}) (sql.Result, error)
}

type SelectContexter interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// tenantClause returns a where clause restricting rows to the ambient tenant, with its
// placeholder numbered n, or "" when no tenant is set.
func tenantClause(ctx context.Context, n int) (string, []any) {
	tenantId := tenantctx.TenantId(ctx)
	if tenantId == "" {
		return "", nil
	}
	return fmt.Sprintf(` AND "metadata"->>'tenantId' = $%d`, n), []any{tenantId}
}

func byId[T any](ctx context.Context, db GetContexter, table string, id string) (*T, error) {
	clause, args := tenantClause(ctx, 2)
	query := fmt.Sprintf(`SELECT * FROM "%s" WHERE "id" = $1%s`, table, clause)
	return queryOne[T](ctx, db, query, append([]any{id}, args...)...)
}

func updateById[T any](ctx context.Context, db GetContexter, table string, row *T) error {
	cols := columns.Of(row).Without("created_at", "metadata")

	if _, found := cols.Get("updated_at"); !found {
		return errors.Wrap(ErrNotUpdateable)
	}
	cols.Set("updated_at", time.Now().UTC())

	id, _ := cols.Get("id")
	if id == nil {
		return errors.Wrap(ErrDatabaseError, errors.WithMessage("failed to update row, no id"))
	}
	cols = cols.Without("id")

	query := fmt.Sprintf(`UPDATE "%s" SET (%s)=(%s) WHERE id=$1 RETURNING *`, table, cols.Columns(), cols.ColumnsPlaceholder(2))
	params := append([]any{id}, cols.Values()...)

	var r T
	if err := db.GetContext(ctx, &r, query, params...); err != nil {
		if err == sql.ErrNoRows {
			return errors.Wrap(ErrNotFound, errors.WithCause(err))
		}
		return classify(err, errors.WithMessagef("failed to update %s with id %s", table, id))
	}

	*row = r
	return nil
}

func queryOne[T any](ctx context.Context, db GetContexter, query string, args ...interface{}) (*T, error) {
	var val T
	e := db.GetContext(ctx, &val, query, args...)
	if e != nil {
		if e == sql.ErrNoRows {
			return nil, errors.Wrap(ErrNotFound, errors.WithCause(e))
		}
		return nil, errors.Wrap(ErrDatabaseError, errors.WithCause(e))
	}
	return &val, nil
}

func queryMany[T any](ctx context.Context, db SelectContexter, query string, args ...interface{}) ([]*T, error) {
	var val []*T
	e := db.SelectContext(ctx, &val, query, args...)
	if e != nil {
		return nil, errors.Wrap(ErrDatabaseError, errors.WithCause(e))
	}
	return val, nil
}

func stamp(cols columns.Columns, now time.Time) {
	if _, found := cols.Get("created_at"); found {
		cols.Set("created_at", now)
	}
	if _, found := cols.Get("updated_at"); found {
		cols.Set("updated_at", now)
	}
}

func insert[T any](ctx context.Context, db GetContexter, table string, row *T) error {
	cols := columns.Of(row)
	stamp(cols, time.Now().UTC())

	query := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s) RETURNING *`, table, cols.Columns(), cols.ColumnsPlaceholder(1))

	var r T
	if err := db.GetContext(ctx, &r, query, cols.Values()...); err != nil {
		return classify(err)
	}

	*row = r
	return nil
}

func insertBulk[T any](ctx context.Context, db NamedExecContexter, table string, rows []*T) error {
	if len(rows) == 0 {
		return nil
	}

	var cols columns.Columns
	rowsInsert := make([]map[string]any, 0, len(rows))

	now := time.Now().UTC()
	for _, row := range rows {
		cols = columns.Of(row)
		stamp(cols, now)
		rowsInsert = append(rowsInsert, cols.Map())
	}

	query := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`, table, cols.Columns(), cols.ColumnsNamedPlaceholder())

	if _, err := db.NamedExecContext(ctx, query, rowsInsert); err != nil {
		return classify(err)
	}
	return nil
}

func delete(ctx context.Context, db ExecContexter, query string, args ...interface{}) error {
	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		if pqCode(err) == invalidForeignKeyErr {
			return errors.Wrap(ErrDeleteViolatesForeignKey, errors.WithCause(err))
		}
		return errors.Wrap(ErrDatabaseError, errors.WithCause(err))
	}
	return nil
}
