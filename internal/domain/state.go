package domain

import "fmt"

// Roles holds the privileged addresses of a contract instance.
type Roles struct {
	Owner     Address // configures the instance
	Validator Address // resolves pending entries
}

// RequireOwner returns ErrUnauthorized unless caller is the owner.
func (r Roles) RequireOwner(caller Address) error {
	if caller.IsZero() || caller != r.Owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	return nil
}

// RequireValidator returns ErrUnauthorized unless caller is the validator.
func (r Roles) RequireValidator(caller Address) error {
	if caller.IsZero() || caller != r.Validator {
		return fmt.Errorf("%w: %s is not the validator", ErrUnauthorized, caller)
	}
	return nil
}

// TokenState is the configuration and counters of a token instance.
// Balances and pending transfers are stored separately, keyed by Address.
type TokenState struct {
	Address      Address // instance address
	Roles
	Gate         Address // compliance gate instance consulted on every transfer
	FeeRecipient Address
	TransferFee  uint64 // flat fee per transfer
	TotalSupply  uint64
	CurrentNonce uint64 // next pending transfer nonce
}

// SaleState is the configuration and counters of a sale instance.
type SaleState struct {
	Address          Address // instance address; holds escrowed contributions
	Roles
	Gate             Address
	Token            Address // token instance minted into on approval
	Wallet           Address // receives contributions of approved purchases
	Rate             uint64  // tokens per contribution unit
	StartTime        int64   // window start, Unix ms, inclusive
	EndTime          int64   // window end, Unix ms, exclusive
	CurrentMintNonce uint64
	Finalized        bool
}

// IsOpen reports whether now (Unix ms) lies in [StartTime, EndTime).
func (s SaleState) IsOpen(now int64) bool {
	return now >= s.StartTime && now < s.EndTime
}

// HasEnded reports whether the purchase window is over.
func (s SaleState) HasEnded(now int64) bool {
	return now >= s.EndTime
}
