package memory

import (
	"context"
	"sync"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

type holderKey struct {
	contract domain.Address
	holder   domain.Address
}

type nonceKey struct {
	contract domain.Address
	nonce    uint64
}

type requestKey struct {
	caller domain.Address
	nonce  string
}

// state is the ledger held by a Store.
type state struct {
	tokens    map[domain.Address]domain.TokenState
	balances  map[holderKey]uint64
	transfers map[nonceKey]domain.PendingTransfer
	sales     map[domain.Address]domain.SaleState
	mints     map[nonceKey]domain.PendingMint
	rejected  map[holderKey]uint64
	native    map[domain.Address]uint64
	events    []domain.Event
	cursors   map[string]uint64
	requests  map[requestKey]int64
}

func newState() *state {
	return &state{
		tokens:    make(map[domain.Address]domain.TokenState),
		balances:  make(map[holderKey]uint64),
		transfers: make(map[nonceKey]domain.PendingTransfer),
		sales:     make(map[domain.Address]domain.SaleState),
		mints:     make(map[nonceKey]domain.PendingMint),
		rejected:  make(map[holderKey]uint64),
		native:    make(map[domain.Address]uint64),
		cursors:   make(map[string]uint64),
		requests:  make(map[requestKey]int64),
	}
}

// Store is an in-memory implementation of storage.Store.
// Writers are serialized and hold the write lock for the whole transaction, so
// readers never see a partial update. A failed body is undone from the
// transaction's undo log.
type Store struct {
	mu      sync.RWMutex
	current *state
}

// NewStore creates a new empty in-memory store.
func NewStore() *Store {
	return &Store{current: newState()}
}

// Update runs fn in a read-write transaction, joining one already carried by ctx.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if tx, ok := storage.TxFromContext(ctx, s); ok {
		if tx.(*memTx).readOnly {
			return storage.ErrReadOnly
		}
		return fn(ctx, tx)
	}

	txCtx, err := s.update(ctx, fn)
	if err != nil {
		return err
	}
	storage.RunCommitHooks(txCtx, s)
	return nil
}

func (s *Store) update(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.current}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	txCtx := storage.ContextWithTx(ctx, s, tx)
	if err := fn(txCtx, tx); err != nil {
		return nil, err
	}
	committed = true
	return txCtx, nil
}

// View runs fn against the current state. Writes through tx fail with ErrReadOnly.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if tx, ok := storage.TxFromContext(ctx, s); ok {
		return fn(ctx, tx)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx := &memTx{st: s.current, readOnly: true}
	return fn(storage.ContextWithTx(ctx, s, tx), tx)
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)
