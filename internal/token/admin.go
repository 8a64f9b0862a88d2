package token

import (
	"context"
	"fmt"

	"compliance-ledger/internal/compliance"
	"compliance-ledger/internal/domain"
)

// Mint creates amount new tokens for to. Owner only; once ownership is handed to
// a sale instance, only that sale can mint.
func (l *Ledger) Mint(ctx context.Context, caller, to domain.Address, amount uint64) error {
	if to.IsZero() {
		return fmt.Errorf("mint: %w", domain.ErrInvalidRecipient)
	}
	return l.run(ctx, "mint", func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		if err := st.RequireOwner(caller); err != nil {
			return err
		}
		if st.TotalSupply, err = domain.AddAmount(st.TotalSupply, amount); err != nil {
			return err
		}
		if err := o.credit(ctx, to, amount); err != nil {
			return err
		}
		if err := o.PutTokenState(ctx, st); err != nil {
			return err
		}

		mint := o.event(domain.EventMint)
		mint.To, mint.Value = to, amount
		if err := o.emit(ctx, mint); err != nil {
			return err
		}
		transfer := o.event(domain.EventTransfer)
		transfer.To, transfer.Value = to, amount
		return o.emit(ctx, transfer)
	})
}

// TransferOwnership hands the owner role to newOwner. Owner only.
func (l *Ledger) TransferOwnership(ctx context.Context, caller, newOwner domain.Address) error {
	if newOwner.IsZero() {
		return fmt.Errorf("transfer ownership: %w", domain.ErrInvalidAddress)
	}
	return l.configure(ctx, "transfer_ownership", caller, ownerOnly, domain.EventOwnershipTransferred,
		func(st *domain.TokenState) (string, string) {
			prev := st.Owner
			st.Owner = newOwner
			return prev.String(), newOwner.String()
		})
}

// SetValidator replaces the validator. Owner only.
func (l *Ledger) SetValidator(ctx context.Context, caller, validator domain.Address) error {
	if validator.IsZero() {
		return fmt.Errorf("set validator: %w", domain.ErrInvalidAddress)
	}
	return l.configure(ctx, "set_validator", caller, ownerOnly, domain.EventValidatorSet,
		func(st *domain.TokenState) (string, string) {
			prev := st.Validator
			st.Validator = validator
			return prev.String(), validator.String()
		})
}

// SetFeeRecipient replaces the fee recipient. Owner only.
func (l *Ledger) SetFeeRecipient(ctx context.Context, caller, recipient domain.Address) error {
	if recipient.IsZero() {
		return fmt.Errorf("set fee recipient: %w", domain.ErrInvalidAddress)
	}
	return l.configure(ctx, "set_fee_recipient", caller, ownerOnly, domain.EventFeeRecipientSet,
		func(st *domain.TokenState) (string, string) {
			prev := st.FeeRecipient
			st.FeeRecipient = recipient
			return prev.String(), recipient.String()
		})
}

// SetFee replaces the flat transfer fee. Validator only. Pending transfers keep the fee
// recorded at proposal time.
func (l *Ledger) SetFee(ctx context.Context, caller domain.Address, fee uint64) error {
	return l.configure(ctx, "set_fee", caller, validatorOnly, domain.EventFeeSet,
		func(st *domain.TokenState) (string, string) {
			prev := st.TransferFee
			st.TransferFee = fee
			return fmt.Sprint(prev), fmt.Sprint(fee)
		})
}

// SetComplianceGate replaces the gate consulted by later proposals and approvals. Owner only.
func (l *Ledger) SetComplianceGate(ctx context.Context, caller domain.Address, gate compliance.Gate) error {
	if gate == nil || gate.Address().IsZero() {
		return fmt.Errorf("set compliance gate: %w", domain.ErrInvalidAddress)
	}
	err := l.configure(ctx, "set_compliance_gate", caller, ownerOnly, domain.EventWhiteListingContractSet,
		func(st *domain.TokenState) (string, string) {
			prev := st.Gate
			st.Gate = gate.Address()
			return prev.String(), st.Gate.String()
		})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.gate = gate
	l.mu.Unlock()
	return nil
}

type role int

const (
	ownerOnly role = iota
	validatorOnly
)

// configure applies a role-checked change to the instance state and emits a
// Previous/Current event describing it.
func (l *Ledger) configure(ctx context.Context, name string, caller domain.Address, r role,
	kind domain.EventKind, change func(st *domain.TokenState) (prev, next string)) error {
	return l.run(ctx, name, func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		check := st.RequireOwner
		if r == validatorOnly {
			check = st.RequireValidator
		}
		if err := check(caller); err != nil {
			return err
		}

		prev, next := change(st)
		if err := o.PutTokenState(ctx, st); err != nil {
			return err
		}

		e := o.event(kind)
		e.From = caller
		e.Previous, e.Current = prev, next
		return o.emit(ctx, e)
	})
}
