// Package compliance decides which addresses may hold and move tokens.
//
// A Gate is consulted by the token and sale cores on every proposal and again on
// every resolution; it is never owned by them. Its membership is managed by the
// whitelist owner.
package compliance

import (
	"context"
	"fmt"

	"compliance-ledger/internal/domain"
)

// Gate answers whether an address passes compliance.
type Gate interface {
	// Address identifies the gate instance in ledger state and events.
	Address() domain.Address

	// IsApproved reports whether addr passes compliance. The null address never does.
	IsApproved(ctx context.Context, addr domain.Address) (bool, error)
}

// Membership is the backing set of approved addresses.
type Membership interface {
	Add(ctx context.Context, addrs ...domain.Address) error
	Remove(ctx context.Context, addrs ...domain.Address) error
	Contains(ctx context.Context, addr domain.Address) (bool, error)
	Members(ctx context.Context) ([]domain.Address, error)
}

// RequireApproved returns ErrNotWhitelisted naming the first of addrs that gate does not approve.
func RequireApproved(ctx context.Context, gate Gate, addrs ...domain.Address) error {
	for _, a := range addrs {
		ok, err := gate.IsApproved(ctx, a)
		if err != nil {
			return fmt.Errorf("compliance check: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrNotWhitelisted, a)
		}
	}
	return nil
}
