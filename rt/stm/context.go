package stm

import "context"

type txnKey struct{}

func withTxn(ctx context.Context, tx *Txn) context.Context {
	return context.WithValue(ctx, txnKey{}, tx)
}

// FromContext returns the transaction running in ctx, or nil. A context kept
// from an attempt which has ended carries no transaction.
func FromContext(ctx context.Context) *Txn {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txnKey{}).(*Txn)
	if tx == nil || tx.released.Load() {
		return nil
	}
	return tx
}

// InTransaction reports whether ctx carries a running transaction.
func InTransaction(ctx context.Context) bool {
	return FromContext(ctx) != nil
}
