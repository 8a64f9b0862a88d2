package domain

import "errors"

// Ledger errors. Callers match them with errors.Is; cores wrap them with context.
var (
	// ErrUnauthorized is returned when the caller lacks the owner or validator role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotWhitelisted is returned when a party fails the compliance gate.
	ErrNotWhitelisted = errors.New("not whitelisted")

	// ErrInvalidRecipient is returned for a transfer to the null address.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrInvalidAddress is returned for a null or malformed address argument.
	ErrInvalidAddress = errors.New("invalid address")

	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNoSuchPendingEntry is returned when resolving a nonce with no pending entry.
	ErrNoSuchPendingEntry = errors.New("no such pending entry")

	ErrSaleWindowClosed = errors.New("sale window closed")
	ErrZeroAmount       = errors.New("zero amount")
	ErrNothingToClaim   = errors.New("nothing to claim")
	ErrSaleNotEnded     = errors.New("sale not ended")
	ErrAlreadyFinalized = errors.New("sale already finalized")

	// ErrAmountOverflow is returned when an amount does not fit in 64 bits.
	ErrAmountOverflow = errors.New("amount overflow")

	// ErrTransferRefused is returned when the receiver of native value refuses it.
	ErrTransferRefused = errors.New("transfer refused by receiver")

	// ErrNotDeployed is returned when an instance has no stored state yet.
	ErrNotDeployed = errors.New("not deployed")
)
