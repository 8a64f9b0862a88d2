package token

import (
	"context"
	"errors"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

// State returns a copy of the instance configuration and counters.
func (l *Ledger) State(ctx context.Context) (*domain.TokenState, error) {
	var result *domain.TokenState
	err := l.view(ctx, func(_ context.Context, _ storage.Tx, st *domain.TokenState) error {
		result = st
		return nil
	})
	return result, err
}

// BalanceOf returns the balance of holder.
func (l *Ledger) BalanceOf(ctx context.Context, holder domain.Address) (uint64, error) {
	var bal uint64
	err := l.view(ctx, func(ctx context.Context, tx storage.Tx, _ *domain.TokenState) error {
		var err error
		bal, err = tx.Balance(ctx, l.address, holder)
		return err
	})
	return bal, err
}

// Balances returns every non-zero balance.
func (l *Ledger) Balances(ctx context.Context) (map[domain.Address]uint64, error) {
	var result map[domain.Address]uint64
	err := l.view(ctx, func(ctx context.Context, tx storage.Tx, _ *domain.TokenState) error {
		var err error
		result, err = tx.Balances(ctx, l.address)
		return err
	})
	return result, err
}

// TotalSupply returns the number of tokens in existence.
func (l *Ledger) TotalSupply(ctx context.Context) (uint64, error) {
	st, err := l.State(ctx)
	if err != nil {
		return 0, err
	}
	return st.TotalSupply, nil
}

// CurrentNonce returns the nonce the next proposal will receive.
func (l *Ledger) CurrentNonce(ctx context.Context) (uint64, error) {
	st, err := l.State(ctx)
	if err != nil {
		return 0, err
	}
	return st.CurrentNonce, nil
}

// PendingTransfer returns the pending transfer with nonce, or the empty sentinel
// (see domain.PendingTransfer.IsEmpty) when none is pending.
func (l *Ledger) PendingTransfer(ctx context.Context, nonce uint64) (domain.PendingTransfer, error) {
	var result domain.PendingTransfer
	err := l.view(ctx, func(ctx context.Context, tx storage.Tx, _ *domain.TokenState) error {
		p, err := tx.PendingTransfer(ctx, l.address, nonce)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		result = *p
		return nil
	})
	return result, err
}

// PendingTransfers returns all unresolved proposals ordered by nonce.
func (l *Ledger) PendingTransfers(ctx context.Context) ([]*domain.PendingTransfer, error) {
	var result []*domain.PendingTransfer
	err := l.view(ctx, func(ctx context.Context, tx storage.Tx, _ *domain.TokenState) error {
		var err error
		result, err = tx.PendingTransfers(ctx, l.address)
		return err
	})
	return result, err
}
