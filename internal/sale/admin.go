package sale

import (
	"context"
	"fmt"

	"compliance-ledger/internal/compliance"
	"compliance-ledger/internal/domain"
)

// Finalize hands ownership of the token to the sale validator once the window has
// ended. Owner only; a second call fails with ErrAlreadyFinalized.
func (s *Sale) Finalize(ctx context.Context, caller domain.Address) error {
	return s.run(ctx, "finalize", func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		if err := st.RequireOwner(caller); err != nil {
			return err
		}
		if st.Finalized {
			return domain.ErrAlreadyFinalized
		}
		if !st.HasEnded(o.now) {
			return domain.ErrSaleNotEnded
		}

		if err := o.token.TransferOwnership(ctx, s.address, st.Validator); err != nil {
			return err
		}
		st.Finalized = true
		if err := o.PutSaleState(ctx, st); err != nil {
			return err
		}

		e := o.event(domain.EventFinalized)
		e.From, e.To = caller, st.Validator
		return o.emit(ctx, e)
	})
}

// TransferTokenOwnership hands ownership of the token, held by the sale, to newOwner.
// Owner only. The sale can no longer mint afterwards.
func (s *Sale) TransferTokenOwnership(ctx context.Context, caller, newOwner domain.Address) error {
	if newOwner.IsZero() {
		return fmt.Errorf("transfer token ownership: %w", domain.ErrInvalidAddress)
	}
	return s.run(ctx, "transfer_token_ownership", func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		if err := st.RequireOwner(caller); err != nil {
			return err
		}
		return o.token.TransferOwnership(ctx, s.address, newOwner)
	})
}

// SetValidator replaces the validator. Owner only.
func (s *Sale) SetValidator(ctx context.Context, caller, validator domain.Address) error {
	if validator.IsZero() {
		return fmt.Errorf("set validator: %w", domain.ErrInvalidAddress)
	}
	return s.update(ctx, "set_validator", caller, domain.Roles.RequireOwner, domain.EventValidatorSet,
		func(st *domain.SaleState) (string, string) {
			prev := st.Validator
			st.Validator = validator
			return prev.String(), validator.String()
		})
}

// SetComplianceGate replaces the gate consulted by later purchases and approvals. Validator only.
func (s *Sale) SetComplianceGate(ctx context.Context, caller domain.Address, gate compliance.Gate) error {
	if gate == nil || gate.Address().IsZero() {
		return fmt.Errorf("set compliance gate: %w", domain.ErrInvalidAddress)
	}
	err := s.update(ctx, "set_compliance_gate", caller, domain.Roles.RequireValidator, domain.EventWhiteListingContractSet,
		func(st *domain.SaleState) (string, string) {
			prev := st.Gate
			st.Gate = gate.Address()
			return prev.String(), st.Gate.String()
		})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	return nil
}

// SetTokenContract points the sale at another token instance. Owner only.
func (s *Sale) SetTokenContract(ctx context.Context, caller domain.Address, token Minter) error {
	if token == nil || token.Address().IsZero() {
		return fmt.Errorf("set token contract: %w", domain.ErrInvalidAddress)
	}
	err := s.update(ctx, "set_token_contract", caller, domain.Roles.RequireOwner, domain.EventTokenContractSet,
		func(st *domain.SaleState) (string, string) {
			prev := st.Token
			st.Token = token.Address()
			return prev.String(), st.Token.String()
		})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// update applies a role-checked change to the sale state and emits a Previous/Current event.
func (s *Sale) update(ctx context.Context, name string, caller domain.Address,
	check func(domain.Roles, domain.Address) error, kind domain.EventKind,
	change func(st *domain.SaleState) (prev, next string)) error {
	return s.run(ctx, name, func(ctx context.Context, o *op) error {
		st, err := o.state(ctx)
		if err != nil {
			return err
		}
		if err := check(st.Roles, caller); err != nil {
			return err
		}
		prev, next := change(st)
		if err := o.PutSaleState(ctx, st); err != nil {
			return err
		}
		e := o.event(kind)
		e.From = caller
		e.Previous, e.Current = prev, next
		return o.emit(ctx, e)
	})
}
