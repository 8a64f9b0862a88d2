package domain

// PendingTransfer is a proposed token transfer awaiting validator resolution.
// Nothing is debited until approval.
type PendingTransfer struct {
	From  Address // proposer
	To    Address // recipient
	Value uint64  // amount credited to To on approval
	Fee   uint64  // fee recorded at proposal time; 0 when From is the fee recipient
	Nonce uint64  // unique per token instance, never reused
}

// IsEmpty reports whether p is the empty sentinel returned for an absent nonce.
func (p PendingTransfer) IsEmpty() bool {
	return p.From.IsZero() && p.To.IsZero()
}

// PendingMint is a registered purchase awaiting validator resolution.
// The contribution is held in escrow by the sale instance.
type PendingMint struct {
	Beneficiary        Address // receives tokens on approval, refund on rejection
	TokenAmount        uint64  // contribution * rate
	ContributionAmount uint64  // escrowed native value
	Nonce              uint64  // unique per sale instance, never reused
}

// IsEmpty reports whether m is the empty sentinel returned for an absent nonce.
func (m PendingMint) IsEmpty() bool {
	return m.Beneficiary.IsZero()
}
