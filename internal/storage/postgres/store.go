package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"compliance-ledger/internal/observability"
	"compliance-ledger/internal/storage"
)

const (
	defaultMaxRetries = 5
	retryBackoff      = 10 * time.Millisecond
)

// Store is a PostgreSQL implementation of storage.Store.
// Read-write transactions run at SERIALIZABLE isolation and are retried on
// serialization failures, so the body must not have effects outside tx; use
// storage.AfterCommit for those.
type Store struct {
	pool       *Pool
	maxRetries int
}

// NewStore creates a new PostgreSQL ledger store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool, maxRetries: defaultMaxRetries}
}

// Update runs fn in a SERIALIZABLE read-write transaction, joining one already carried by ctx.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if tx, ok := storage.TxFromContext(ctx, s); ok {
		if tx.(*pgTx).readOnly {
			return storage.ErrReadOnly
		}
		return fn(ctx, tx)
	}
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite}, false, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if tx, ok := storage.TxFromContext(ctx, s); ok {
		return fn(ctx, tx)
	}
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, true, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, readOnly bool, fn func(ctx context.Context, tx storage.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.attempt(ctx, opts, readOnly, fn)
		if !isRetryableError(err) || attempt >= s.maxRetries {
			return err
		}
		observability.RecordTxRetry("postgres")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * retryBackoff):
		}
	}
}

func (s *Store) attempt(ctx context.Context, opts pgx.TxOptions, readOnly bool, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	ptx := &pgTx{tx: tx, readOnly: readOnly}
	txCtx := storage.ContextWithTx(ctx, s, ptx)
	if err := fn(txCtx, ptx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	storage.RunCommitHooks(txCtx, s)
	return nil
}

// pgTx implements storage.Tx over a pgx transaction.
type pgTx struct {
	tx           pgx.Tx
	readOnly     bool
	outboxLocked bool
}

func (t *pgTx) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

// Compile-time interface checks.
var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*pgTx)(nil)
)
