package sale

import (
	"context"
	"errors"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

// State returns a copy of the sale configuration and counters.
func (s *Sale) State(ctx context.Context) (*domain.SaleState, error) {
	var result *domain.SaleState
	err := s.view(ctx, func(_ context.Context, _ storage.Tx, st *domain.SaleState) error {
		result = st
		return nil
	})
	return result, err
}

// CurrentMintNonce returns the nonce the next purchase will receive.
func (s *Sale) CurrentMintNonce(ctx context.Context) (uint64, error) {
	st, err := s.State(ctx)
	if err != nil {
		return 0, err
	}
	return st.CurrentMintNonce, nil
}

// PendingMint returns the pending purchase with nonce, or the empty sentinel when none is pending.
func (s *Sale) PendingMint(ctx context.Context, nonce uint64) (domain.PendingMint, error) {
	var result domain.PendingMint
	err := s.view(ctx, func(ctx context.Context, tx storage.Tx, _ *domain.SaleState) error {
		m, err := tx.PendingMint(ctx, s.address, nonce)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		result = *m
		return nil
	})
	return result, err
}

// PendingMints returns all unresolved purchases ordered by nonce.
func (s *Sale) PendingMints(ctx context.Context) ([]*domain.PendingMint, error) {
	var result []*domain.PendingMint
	err := s.view(ctx, func(ctx context.Context, tx storage.Tx, _ *domain.SaleState) error {
		var err error
		result, err = tx.PendingMints(ctx, s.address)
		return err
	})
	return result, err
}

// RejectedMintBalance returns the refundable amount investor can claim.
func (s *Sale) RejectedMintBalance(ctx context.Context, investor domain.Address) (uint64, error) {
	var bal uint64
	err := s.view(ctx, func(ctx context.Context, tx storage.Tx, _ *domain.SaleState) error {
		var err error
		bal, err = tx.RejectedMintBalance(ctx, s.address, investor)
		return err
	})
	return bal, err
}
