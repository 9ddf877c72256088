package database

import (
	"context"
	"fmt"
)

// InTx runs fn inside a transaction carried on the context. When ctx already
// holds a transaction, fn joins it and the outer owner decides the outcome.
func InTx(ctx context.Context, conn Connection, fn func(ctx context.Context) error) (err error) {
	if st, ok := txStateFrom(ctx); ok {
		return fn(withTx(ctx, st.tx, false))
	}

	tx, err := conn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(withTx(ctx, tx, true)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
