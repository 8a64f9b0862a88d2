package storage

import (
	"context"

	"compliance-ledger/internal/domain"
)

// Store runs ledger operations inside transactions.
//
// A call made with a context returned by a running transaction of the same store
// joins that transaction instead of starting a new one. This is how a sale approval
// mints tokens and moves escrowed value in a single atomic unit.
type Store interface {
	// Update runs fn in a read-write transaction. fn's error aborts every write made through tx.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	TokenTx
	SaleTx
	NativeTx
	OutboxTx
	RequestTx
}

// TokenTx provides access to token instance state, balances and pending transfers.
type TokenTx interface {
	// TokenState returns the state of a token instance. Returns ErrNotFound if not deployed.
	TokenState(ctx context.Context, token domain.Address) (*domain.TokenState, error)

	// PutTokenState inserts or replaces the state of a token instance.
	PutTokenState(ctx context.Context, s *domain.TokenState) error

	// Balance returns the token balance of holder, 0 if none was ever set.
	Balance(ctx context.Context, token, holder domain.Address) (uint64, error)

	// SetBalance sets the token balance of holder.
	SetBalance(ctx context.Context, token, holder domain.Address, amount uint64) error

	// Balances returns all non-zero balances of a token instance.
	Balances(ctx context.Context, token domain.Address) (map[domain.Address]uint64, error)

	// PendingTransfer returns the pending transfer with nonce. Returns ErrNotFound if absent.
	PendingTransfer(ctx context.Context, token domain.Address, nonce uint64) (*domain.PendingTransfer, error)

	// InsertPendingTransfer adds a pending transfer. Returns ErrDuplicateKey if the nonce exists.
	InsertPendingTransfer(ctx context.Context, token domain.Address, p *domain.PendingTransfer) error

	// DeletePendingTransfer removes a pending transfer. Returns ErrNotFound if absent.
	DeletePendingTransfer(ctx context.Context, token domain.Address, nonce uint64) error

	// PendingTransfers returns all pending transfers of a token instance, ordered by nonce ASC.
	PendingTransfers(ctx context.Context, token domain.Address) ([]*domain.PendingTransfer, error)
}

// SaleTx provides access to sale instance state, pending mints and refundable balances.
type SaleTx interface {
	// SaleState returns the state of a sale instance. Returns ErrNotFound if not deployed.
	SaleState(ctx context.Context, sale domain.Address) (*domain.SaleState, error)

	// PutSaleState inserts or replaces the state of a sale instance.
	PutSaleState(ctx context.Context, s *domain.SaleState) error

	// PendingMint returns the pending mint with nonce. Returns ErrNotFound if absent.
	PendingMint(ctx context.Context, sale domain.Address, nonce uint64) (*domain.PendingMint, error)

	// InsertPendingMint adds a pending mint. Returns ErrDuplicateKey if the nonce exists.
	InsertPendingMint(ctx context.Context, sale domain.Address, m *domain.PendingMint) error

	// DeletePendingMint removes a pending mint. Returns ErrNotFound if absent.
	DeletePendingMint(ctx context.Context, sale domain.Address, nonce uint64) error

	// PendingMints returns all pending mints of a sale instance, ordered by nonce ASC.
	PendingMints(ctx context.Context, sale domain.Address) ([]*domain.PendingMint, error)

	// RejectedMintBalance returns the refundable balance of investor, 0 if none.
	RejectedMintBalance(ctx context.Context, sale, investor domain.Address) (uint64, error)

	// SetRejectedMintBalance sets the refundable balance of investor.
	SetRejectedMintBalance(ctx context.Context, sale, investor domain.Address, amount uint64) error
}

// NativeTx provides access to native value balances (the currency contributions are paid in).
type NativeTx interface {
	// NativeBalance returns the native balance of holder, 0 if none.
	NativeBalance(ctx context.Context, holder domain.Address) (uint64, error)

	// SetNativeBalance sets the native balance of holder.
	SetNativeBalance(ctx context.Context, holder domain.Address, amount uint64) error
}

// OutboxTx provides access to the event outbox.
type OutboxTx interface {
	// AppendEvent appends e and assigns e.Seq. Events become visible to readers on commit.
	AppendEvent(ctx context.Context, e *domain.Event) error

	// EventsAfter returns up to limit events with Seq > after, ordered by Seq ASC.
	EventsAfter(ctx context.Context, after uint64, limit int) ([]*domain.Event, error)

	// Cursor returns the last relayed Seq for a named consumer, 0 if none.
	Cursor(ctx context.Context, name string) (uint64, error)

	// SetCursor stores the last relayed Seq for a named consumer.
	SetCursor(ctx context.Context, name string, seq uint64) error
}

// RequestTx records the nonces of signed API requests so none is accepted twice.
type RequestTx interface {
	// UseRequestNonce records nonce for caller at usedAt (unix seconds).
	// Returns ErrDuplicateKey if caller already used nonce.
	UseRequestNonce(ctx context.Context, caller domain.Address, nonce string, usedAt int64) error

	// PruneRequestNonces forgets nonces recorded before the given unix time.
	PruneRequestNonces(ctx context.Context, before int64) error
}

// EventArchive provides access to the append-only archive of relayed events.
type EventArchive interface {
	// InsertBulk adds events. Re-inserting an event ID is idempotent.
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// GetByAddress returns archived events involving addr, ordered by Seq ASC.
	GetByAddress(ctx context.Context, addr domain.Address) ([]*domain.Event, error)

	// GetByKind returns archived events of kind emitted by contract, ordered by Seq ASC.
	GetByKind(ctx context.Context, contract domain.Address, kind domain.EventKind) ([]*domain.Event, error)
}
