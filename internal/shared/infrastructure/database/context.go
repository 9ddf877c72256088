package database

import "context"

type txKey struct{}

// txState is the transaction carried on a context. owned is false for
// callers that joined a transaction opened further up the stack.
type txState struct {
	tx    Transaction
	owned bool
}

func withTx(ctx context.Context, tx Transaction, owned bool) context.Context {
	return context.WithValue(ctx, txKey{}, txState{tx: tx, owned: owned})
}

func txStateFrom(ctx context.Context) (txState, bool) {
	st, ok := ctx.Value(txKey{}).(txState)
	return st, ok && st.tx != nil
}

// TxFromContext returns the transaction opened by InTx, or nil.
func TxFromContext(ctx context.Context) Transaction {
	st, _ := txStateFrom(ctx)
	return st.tx
}

// ExecutorFromContext returns the transaction on ctx, or conn when there is
// none, so repositories work the same inside and outside InTx.
func ExecutorFromContext(ctx context.Context, conn Connection) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return conn
}
