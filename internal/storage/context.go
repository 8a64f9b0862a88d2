package storage

import "context"

type txKey struct {
	owner any
}

type txEntry struct {
	tx    Tx
	hooks []func()
}

// ContextWithTx returns a context carrying tx, opened by store owner.
// Store implementations call it before handing the context to the transaction body.
func ContextWithTx(ctx context.Context, owner any, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{owner: owner}, &txEntry{tx: tx})
}

// TxFromContext returns the transaction of store owner carried by ctx, if any.
func TxFromContext(ctx context.Context, owner any) (Tx, bool) {
	e, ok := ctx.Value(txKey{owner: owner}).(*txEntry)
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// AfterCommit registers fn to run once the transaction of owner carried by ctx
// commits. Nothing runs if it rolls back. It reports false, without registering
// fn, when ctx carries no such transaction.
func AfterCommit(ctx context.Context, owner any, fn func()) bool {
	e, ok := ctx.Value(txKey{owner: owner}).(*txEntry)
	if !ok {
		return false
	}
	e.hooks = append(e.hooks, fn)
	return true
}

// RunCommitHooks runs the functions registered with AfterCommit on ctx, in
// registration order. Store implementations call it after a successful commit.
func RunCommitHooks(ctx context.Context, owner any) {
	e, ok := ctx.Value(txKey{owner: owner}).(*txEntry)
	if !ok {
		return
	}
	hooks := e.hooks
	e.hooks = nil
	for _, fn := range hooks {
		fn()
	}
}
