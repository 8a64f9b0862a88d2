package sale

import (
	"context"
	"fmt"
	"time"

	"compliance-ledger/internal/compliance"
	"compliance-ledger/internal/domain"
)

// BuyTokens registers a contribution paid by caller on behalf of beneficiary.
// The contribution moves from caller into escrow at the sale address; tokens are
// minted only when the validator approves the returned nonce.
func (s *Sale) BuyTokens(ctx context.Context, caller, beneficiary domain.Address, contribution uint64) (uint64, error) {
	var nonce uint64
	err := s.run(ctx, "buy_tokens", func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		if !st.IsOpen(o.now) {
			return fmt.Errorf("%w: window is [%s, %s)", domain.ErrSaleWindowClosed,
				time.UnixMilli(st.StartTime).UTC().Format(time.RFC3339),
				time.UnixMilli(st.EndTime).UTC().Format(time.RFC3339))
		}
		if contribution == 0 {
			return domain.ErrZeroAmount
		}
		if beneficiary.IsZero() {
			return fmt.Errorf("beneficiary: %w", domain.ErrInvalidAddress)
		}
		if err := compliance.RequireApproved(ctx, o.gate, beneficiary); err != nil {
			return err
		}
		tokens, err := domain.MulAmount(contribution, st.Rate)
		if err != nil {
			return err
		}

		m := &domain.PendingMint{
			Beneficiary:        beneficiary,
			TokenAmount:        tokens,
			ContributionAmount: contribution,
			Nonce:              st.CurrentMintNonce,
		}
		if err := o.InsertPendingMint(ctx, s.address, m); err != nil {
			return fmt.Errorf("record pending mint %d: %w", m.Nonce, err)
		}
		st.CurrentMintNonce++
		if err := o.PutSaleState(ctx, st); err != nil {
			return err
		}
		if err := s.escrow.Transfer(ctx, caller, s.address, contribution); err != nil {
			return fmt.Errorf("escrow contribution: %w", err)
		}

		e := o.event(domain.EventContributionRegistered)
		e.From, e.To, e.Value, e.Amount, e.Nonce = caller, beneficiary, tokens, contribution, m.Nonce
		if err := o.emit(ctx, e); err != nil {
			return err
		}
		nonce = m.Nonce
		return nil
	})
	if err != nil {
		return 0, err
	}
	return nonce, nil
}

// ApproveMint mints the tokens of the pending purchase with nonce and forwards the
// escrowed contribution to the wallet. Validator only.
//
// The beneficiary is checked against the gate again; on failure the entry stays
// pending. A wallet that refuses the contribution aborts the whole approval.
func (s *Sale) ApproveMint(ctx context.Context, caller domain.Address, nonce uint64) error {
	return s.run(ctx, "approve_mint", func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		if err := st.RequireValidator(caller); err != nil {
			return err
		}
		m, err := o.pending(ctx, nonce)
		if err != nil {
			return err
		}
		if err := compliance.RequireApproved(ctx, o.gate, m.Beneficiary); err != nil {
			return err
		}

		if err := o.token.Mint(ctx, s.address, m.Beneficiary, m.TokenAmount); err != nil {
			return err
		}
		if err := s.escrow.Transfer(ctx, s.address, st.Wallet, m.ContributionAmount); err != nil {
			return fmt.Errorf("forward funds: %w", err)
		}
		if err := o.DeletePendingMint(ctx, s.address, nonce); err != nil {
			return err
		}

		e := o.event(domain.EventTokenPurchase)
		e.From, e.To, e.Value, e.Amount, e.Nonce = caller, m.Beneficiary, m.TokenAmount, m.ContributionAmount, m.Nonce
		return o.emit(ctx, e)
	})
}

// RejectMint discards the pending purchase with nonce. Validator only. The escrowed
// contribution becomes claimable by the beneficiary through Claim.
func (s *Sale) RejectMint(ctx context.Context, caller domain.Address, nonce, reason uint64) error {
	return s.run(ctx, "reject_mint", func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		if err := st.RequireValidator(caller); err != nil {
			return err
		}
		m, err := o.pending(ctx, nonce)
		if err != nil {
			return err
		}

		refundable, err := o.RejectedMintBalance(ctx, s.address, m.Beneficiary)
		if err != nil {
			return err
		}
		if refundable, err = domain.AddAmount(refundable, m.ContributionAmount); err != nil {
			return err
		}
		if err := o.SetRejectedMintBalance(ctx, s.address, m.Beneficiary, refundable); err != nil {
			return err
		}
		if err := o.DeletePendingMint(ctx, s.address, nonce); err != nil {
			return err
		}

		e := o.event(domain.EventMintRejected)
		e.To, e.Value, e.Amount, e.Nonce, e.Reason = m.Beneficiary, m.TokenAmount, m.ContributionAmount, m.Nonce, reason
		return o.emit(ctx, e)
	})
}

// Claim pays out the refundable balance of caller accumulated by rejected purchases.
// Fails with ErrNothingToClaim when the balance is zero, so a repeated claim never pays twice.
func (s *Sale) Claim(ctx context.Context, caller domain.Address) (uint64, error) {
	var paid uint64
	err := s.run(ctx, "claim", func(ctx context.Context, o *op) error {
		if _, err := o.state(ctx); err != nil {
			return err
		}
		refundable, err := o.RejectedMintBalance(ctx, s.address, caller)
		if err != nil {
			return err
		}
		if refundable == 0 {
			return domain.ErrNothingToClaim
		}
		if err := o.SetRejectedMintBalance(ctx, s.address, caller, 0); err != nil {
			return err
		}
		if err := s.escrow.Transfer(ctx, s.address, caller, refundable); err != nil {
			return fmt.Errorf("send refund: %w", err)
		}

		e := o.event(domain.EventClaimed)
		e.To, e.Amount = caller, refundable
		if err := o.emit(ctx, e); err != nil {
			return err
		}
		paid = refundable
		return nil
	})
	if err != nil {
		return 0, err
	}
	return paid, nil
}
