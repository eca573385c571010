package rundb

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/logger"
)

type txStmts = func(ctx context.Context, tx *sqlx.Tx) error

// useTx runs stmts in the transaction already carried by ctx, or in a new one that is
// committed when stmts succeed.
func (db *Db) useTx(ctx context.Context, stmts txStmts) (err error) {
	tx := getTx(ctx)
	if tx != nil {
		return stmts(ctx, tx)
	}

	tx, err = db.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(ErrDatabaseError, errors.WithCause(err))
	}
	ctx = setTx(ctx, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err == nil {
			if err = tx.Commit(); err != nil {
				err = errors.Wrap(ErrDatabaseError, errors.WithCause(err))
			}
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Ctx(ctx).Warn().
				Err(errors.Wrap(ErrDatabaseError, errors.WithCause(rbErr))).
				Msg("db rollback failed")
		}
	}()

	err = stmts(ctx, tx)
	return
}

type txKeyType int

const txKey txKeyType = iota

func setTx(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

func getTx(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey).(*sqlx.Tx)
	return tx
}
