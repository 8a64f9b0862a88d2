package compliance

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/logging"
)

// Whitelist is an owner-administered Gate.
type Whitelist struct {
	address domain.Address
	members Membership
	logger  *zap.Logger

	mu    sync.RWMutex
	owner domain.Address
}

// NewWhitelist creates a whitelist instance at address administered by owner.
func NewWhitelist(address, owner domain.Address, members Membership, logger *zap.Logger) *Whitelist {
	return &Whitelist{
		address: address,
		owner:   owner,
		members: members,
		logger:  logging.OrNop(logger).Named("whitelist"),
	}
}

// Address returns the whitelist instance address.
func (w *Whitelist) Address() domain.Address {
	return w.address
}

// Owner returns the current administrator.
func (w *Whitelist) Owner() domain.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.owner
}

// IsApproved reports whether addr is a member.
func (w *Whitelist) IsApproved(ctx context.Context, addr domain.Address) (bool, error) {
	if addr.IsZero() {
		return false, nil
	}
	ok, err := w.members.Contains(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("check membership of %s: %w", addr, err)
	}
	return ok, nil
}

// ApproveInvestor adds investor to the whitelist.
func (w *Whitelist) ApproveInvestor(ctx context.Context, caller, investor domain.Address) error {
	return w.ApproveInvestorsInBulk(ctx, caller, []domain.Address{investor})
}

// DisapproveInvestor removes investor from the whitelist.
func (w *Whitelist) DisapproveInvestor(ctx context.Context, caller, investor domain.Address) error {
	return w.DisapproveInvestorsInBulk(ctx, caller, []domain.Address{investor})
}

// ApproveInvestorsInBulk adds all investors or none.
func (w *Whitelist) ApproveInvestorsInBulk(ctx context.Context, caller domain.Address, investors []domain.Address) error {
	if err := w.checkUpdate(caller, investors); err != nil {
		return err
	}
	if err := w.members.Add(ctx, investors...); err != nil {
		return fmt.Errorf("approve investors: %w", err)
	}
	for _, inv := range investors {
		w.logger.Info("InvestorApproved", zap.String("investor", inv.String()))
	}
	return nil
}

// DisapproveInvestorsInBulk removes all investors or none.
func (w *Whitelist) DisapproveInvestorsInBulk(ctx context.Context, caller domain.Address, investors []domain.Address) error {
	if err := w.checkUpdate(caller, investors); err != nil {
		return err
	}
	if err := w.members.Remove(ctx, investors...); err != nil {
		return fmt.Errorf("disapprove investors: %w", err)
	}
	for _, inv := range investors {
		w.logger.Info("InvestorDisapproved", zap.String("investor", inv.String()))
	}
	return nil
}

// Investors lists the current members.
func (w *Whitelist) Investors(ctx context.Context) ([]domain.Address, error) {
	return w.members.Members(ctx)
}

// TransferOwnership hands administration to newOwner.
func (w *Whitelist) TransferOwnership(_ context.Context, caller, newOwner domain.Address) error {
	if newOwner.IsZero() {
		return fmt.Errorf("transfer whitelist ownership: %w", domain.ErrInvalidAddress)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := (domain.Roles{Owner: w.owner}).RequireOwner(caller); err != nil {
		return fmt.Errorf("transfer whitelist ownership: %w", err)
	}
	w.logger.Info("OwnershipTransferred",
		zap.String("previous", w.owner.String()),
		zap.String("new", newOwner.String()),
	)
	w.owner = newOwner
	return nil
}

func (w *Whitelist) checkUpdate(caller domain.Address, investors []domain.Address) error {
	if err := (domain.Roles{Owner: w.Owner()}).RequireOwner(caller); err != nil {
		return fmt.Errorf("update whitelist: %w", err)
	}
	for _, inv := range investors {
		if inv.IsZero() {
			return fmt.Errorf("update whitelist: %w", domain.ErrInvalidAddress)
		}
	}
	return nil
}

var _ Gate = (*Whitelist)(nil)
