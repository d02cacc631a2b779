package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// Tx is the unit of work handed to every claim and review operation.
// It embeds the pgx transaction so repositories can use it directly, and
// collects hooks that must only run once the work is durable.
type Tx struct {
	pgx.Tx
	afterCommit []func()
}

// AfterCommit registers fn to run after a successful commit.
// Hooks are dropped when the transaction rolls back.
func (tx *Tx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

// TxFn is a function that executes within a database transaction.
type TxFn func(tx *Tx) error

// InTx runs fn inside a transaction. The transaction is committed if fn
// returns nil and rolled back on error or panic.
func (db *DB) InTx(ctx context.Context, fn TxFn) (err error) {
	pgTx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &Tx{Tx: pgTx}

	defer func() {
		if p := recover(); p != nil {
			rollback(ctx, pgTx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		rollback(ctx, pgTx)
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for _, hook := range tx.afterCommit {
		hook()
	}

	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("failed to rollback transaction", "error", err)
	}
}
