package token

import (
	"context"
	"errors"
	"fmt"

	"compliance-ledger/internal/compliance"
	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

// Transfer proposes moving value from caller to to. Nothing is debited until the
// validator approves; the returned nonce identifies the proposal.
//
// The fee is the transfer fee in force now, or 0 when caller is the fee recipient.
// The proposer must hold value+fee at proposal time.
func (l *Ledger) Transfer(ctx context.Context, caller, to domain.Address, value uint64) (uint64, error) {
	if to.IsZero() {
		return 0, fmt.Errorf("transfer: %w", domain.ErrInvalidRecipient)
	}

	var nonce uint64
	err := l.run(ctx, "transfer", func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		if err := compliance.RequireApproved(ctx, o.gate, caller, to); err != nil {
			return err
		}

		fee := st.TransferFee
		if caller == st.FeeRecipient {
			fee = 0
		}
		required, err := domain.AddAmount(value, fee)
		if err != nil {
			return err
		}
		bal, err := o.Balance(ctx, l.address, caller)
		if err != nil {
			return err
		}
		if bal < required {
			return fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientBalance, bal, required)
		}

		p := &domain.PendingTransfer{From: caller, To: to, Value: value, Fee: fee, Nonce: st.CurrentNonce}
		if err := o.InsertPendingTransfer(ctx, l.address, p); err != nil {
			return fmt.Errorf("record pending transfer %d: %w", p.Nonce, err)
		}
		st.CurrentNonce++
		if err := o.PutTokenState(ctx, st); err != nil {
			return err
		}

		e := o.event(domain.EventRecordedPendingTransaction)
		e.From, e.To, e.Value, e.Fee, e.Nonce = p.From, p.To, p.Value, p.Fee, p.Nonce
		if err := o.emit(ctx, e); err != nil {
			return err
		}
		nonce = p.Nonce
		return nil
	})
	if err != nil {
		return 0, err
	}
	return nonce, nil
}

// ApproveTransfer executes the pending transfer with nonce. Validator only.
//
// Both parties are checked against the gate again; on failure the entry stays
// pending and can be approved later. The sender is debited value+fee, the
// recipient credited value and the current fee recipient credited the fee.
// No fee is charged when the sender is the current fee recipient.
func (l *Ledger) ApproveTransfer(ctx context.Context, caller domain.Address, nonce uint64) error {
	return l.run(ctx, "approve_transfer", func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		if err := st.RequireValidator(caller); err != nil {
			return err
		}
		p, err := o.pending(ctx, nonce)
		if err != nil {
			return err
		}
		if err := compliance.RequireApproved(ctx, o.gate, p.From, p.To); err != nil {
			return err
		}

		fee := p.Fee
		if p.From == st.FeeRecipient {
			fee = 0
		}
		total, err := domain.AddAmount(p.Value, fee)
		if err != nil {
			return err
		}
		if err := o.debit(ctx, p.From, total); err != nil {
			return fmt.Errorf("debit %s: %w", p.From, err)
		}
		if err := o.credit(ctx, p.To, p.Value); err != nil {
			return fmt.Errorf("credit %s: %w", p.To, err)
		}
		if fee > 0 {
			if err := o.credit(ctx, st.FeeRecipient, fee); err != nil {
				return fmt.Errorf("credit fee recipient: %w", err)
			}
		}
		if err := o.DeletePendingTransfer(ctx, l.address, nonce); err != nil {
			return err
		}

		transfer := o.event(domain.EventTransfer)
		transfer.From, transfer.To, transfer.Value, transfer.Nonce = p.From, p.To, p.Value, p.Nonce
		if err := o.emit(ctx, transfer); err != nil {
			return err
		}
		withFee := o.event(domain.EventTransferWithFee)
		withFee.From, withFee.To, withFee.Value, withFee.Fee, withFee.Nonce = p.From, p.To, p.Value, fee, p.Nonce
		return o.emit(ctx, withFee)
	})
}

// RejectTransfer discards the pending transfer with nonce without moving any balance.
// Validator only. reason is an opaque code recorded in the TransferRejected event.
func (l *Ledger) RejectTransfer(ctx context.Context, caller domain.Address, nonce, reason uint64) error {
	return l.run(ctx, "reject_transfer", func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		if err := st.RequireValidator(caller); err != nil {
			return err
		}
		p, err := o.pending(ctx, nonce)
		if err != nil {
			return err
		}
		if err := o.DeletePendingTransfer(ctx, l.address, nonce); err != nil {
			return err
		}

		e := o.event(domain.EventTransferRejected)
		e.From, e.To, e.Value, e.Fee, e.Nonce, e.Reason = p.From, p.To, p.Value, p.Fee, p.Nonce, reason
		return o.emit(ctx, e)
	})
}

func (o *op) pending(ctx context.Context, nonce uint64) (*domain.PendingTransfer, error) {
	p, err := o.PendingTransfer(ctx, o.ledger.address, nonce)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: transfer nonce %d", domain.ErrNoSuchPendingEntry, nonce)
	}
	return p, err
}
