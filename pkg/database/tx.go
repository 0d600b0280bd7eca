package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

type txKey struct{}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// WithTx runs fn inside a transaction carried by the returned context.
// Nested calls join the outer transaction. When the context carries a
// tenant schema, the transaction is scoped to it with SET LOCAL search_path.
//
// Usage in services:
//
//	err := s.db.WithTx(ctx, func(ctx context.Context) error {
//	    req, err := s.requests.GetForUpdate(ctx, id)
//	    ...
//	    return s.requests.Update(ctx, req)
//	})
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				db.log.Error().Err(rbErr).Msg("rollback failed")
			}
		}
	}()

	if _, scoped := tenant.FromContext(ctx); scoped {
		schema, serr := tenant.TenantSchema(ctx)
		if serr != nil {
			return serr
		}
		// SET LOCAL does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL search_path TO %s, public", pq.QuoteIdentifier(schema))
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set search_path to %s: %w", schema, err)
		}
	}

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Run executes fn against the ambient transaction if there is one. Outside a
// transaction, tenant-scoped calls get a short transaction of their own so
// the search_path applies; untenanted calls go straight to the pool.
func (db *DB) Run(ctx context.Context, fn func(q Querier) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(tx)
	}
	if _, scoped := tenant.FromContext(ctx); !scoped {
		return fn(db.DB)
	}
	return db.WithTx(ctx, func(ctx context.Context) error {
		return fn(txFromContext(ctx))
	})
}

func txFromContext(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
