package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a state change emitted by a core.
type EventKind string

const (
	EventRecordedPendingTransaction EventKind = "RecordedPendingTransaction"
	EventTransfer                   EventKind = "Transfer"
	EventTransferWithFee            EventKind = "TransferWithFee"
	EventTransferRejected           EventKind = "TransferRejected"
	EventMint                       EventKind = "Mint"
	EventFeeSet                     EventKind = "FeeSet"
	EventFeeRecipientSet            EventKind = "FeeRecipientSet"
	EventWhiteListingContractSet    EventKind = "WhiteListingContractSet"
	EventValidatorSet               EventKind = "ValidatorSet"
	EventOwnershipTransferred       EventKind = "OwnershipTransferred"
	EventContributionRegistered     EventKind = "ContributionRegistered"
	EventTokenPurchase              EventKind = "TokenPurchase"
	EventMintRejected               EventKind = "MintRejected"
	EventClaimed                    EventKind = "Claimed"
	EventTokenContractSet           EventKind = "TokenContractSet"
	EventFinalized                  EventKind = "Finalized"
	EventDeployed                   EventKind = "Deployed"
)

// Event is an observable state change. Events are written to the store's outbox
// in the same transaction as the change and relayed after commit.
//
// Field use per kind:
//   - pending transfer kinds: From, To, Value, Fee, Nonce (+ Reason on rejection)
//   - sale kinds: From (payer or validator), To (beneficiary), Value (tokens), Amount (contribution), Nonce, Reason
//   - configuration kinds: Previous, Current
type Event struct {
	Seq       uint64    // outbox position, assigned by the store on append
	ID        string    // uuid
	Kind      EventKind
	Contract  Address   // emitting instance
	From      Address
	To        Address
	Value     uint64
	Fee       uint64
	Amount    uint64
	Nonce     uint64
	Reason    uint64
	Previous  string
	Current   string
	Timestamp int64 // Unix ms
}

// NewEvent returns an event of kind emitted by contract, stamped with a fresh ID and the current time.
func NewEvent(kind EventKind, contract Address) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Contract:  contract,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Involves reports whether addr is a party of the event.
func (e *Event) Involves(addr Address) bool {
	return !addr.IsZero() && (e.From == addr || e.To == addr || e.Contract == addr)
}
