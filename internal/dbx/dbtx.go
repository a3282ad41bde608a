// Package dbx holds the small database plumbing the repositories build on:
// DBTX, satisfied by both *sql.DB and *sql.Tx so a repository can be bound to
// either, and WithTx, which scopes one unit of pipeline work (a promoted file,
// a settled car) to one transaction.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the query surface the repositories need. A repository bound to a
// *sql.Tx joins whatever transaction the caller opened.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction: commit on nil error, rollback on error
// or panic. Panics are rethrown after the rollback.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    if err := assets.NewPostgresRepository(tx).Create(ctx, a); err != nil {
//	        return err
//	    }
//	    return staged.NewPostgresRepository(tx).Delete(ctx, id)
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
