package api

import (
	"net/http"

	"compliance-ledger/internal/domain"
)

type tokenStateResponse struct {
	Address      domain.Address `json:"address"`
	Owner        domain.Address `json:"owner"`
	Validator    domain.Address `json:"validator"`
	Gate         domain.Address `json:"compliance_gate"`
	FeeRecipient domain.Address `json:"fee_recipient"`
	TransferFee  uint64         `json:"transfer_fee,string"`
	TotalSupply  uint64         `json:"total_supply,string"`
	CurrentNonce uint64         `json:"current_nonce,string"`
}

type pendingTransferResponse struct {
	From  domain.Address `json:"from"`
	To    domain.Address `json:"to"`
	Value uint64         `json:"value,string"`
	Fee   uint64         `json:"fee,string"`
	Nonce uint64         `json:"nonce,string"`
}

func newPendingTransferResponse(p domain.PendingTransfer) pendingTransferResponse {
	return pendingTransferResponse{From: p.From, To: p.To, Value: p.Value, Fee: p.Fee, Nonce: p.Nonce}
}

type transferRequest struct {
	To    domain.Address `json:"to"`
	Value uint64         `json:"value,string"`
}

type mintRequest struct {
	To     domain.Address `json:"to"`
	Amount uint64         `json:"amount,string"`
}

type feeRequest struct {
	Fee uint64 `json:"fee,string"`
}

type balanceResponse struct {
	Address domain.Address `json:"address"`
	Balance uint64         `json:"balance,string"`
}

func (s *server) tokenState(w http.ResponseWriter, r *http.Request) {
	st, err := s.Token.State(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenStateResponse{
		Address:      st.Address,
		Owner:        st.Owner,
		Validator:    st.Validator,
		Gate:         st.Gate,
		FeeRecipient: st.FeeRecipient,
		TransferFee:  st.TransferFee,
		TotalSupply:  st.TotalSupply,
		CurrentNonce: st.CurrentNonce,
	})
}

func (s *server) tokenBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bal, err := s.Token.BalanceOf(r.Context(), holder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: holder, Balance: bal})
}

func (s *server) pendingTransfers(w http.ResponseWriter, r *http.Request) {
	pending, err := s.Token.PendingTransfers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := make([]pendingTransferResponse, 0, len(pending))
	for _, p := range pending {
		resp = append(resp, newPendingTransferResponse(*p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// pendingTransfer answers 404 for a nonce that was never used or is already resolved.
func (s *server) pendingTransfer(w http.ResponseWriter, r *http.Request) {
	nonce, err := nonceParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Token.PendingTransfer(r.Context(), nonce)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.IsEmpty() {
		s.writeError(w, r, domain.ErrNoSuchPendingEntry)
		return
	}
	writeJSON(w, http.StatusOK, newPendingTransferResponse(p))
}

func (s *server) proposeTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nonce, err := s.Token.Transfer(r.Context(), callerFrom(r), to, req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nonceResponse{Nonce: nonce})
}

func (s *server) approveTransfer(w http.ResponseWriter, r *http.Request) {
	nonce, err := nonceParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, s.Token.ApproveTransfer(r.Context(), callerFrom(r), nonce))
}

func (s *server) rejectTransfer(w http.ResponseWriter, r *http.Request) {
	nonce, err := nonceParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, s.Token.RejectTransfer(r.Context(), callerFrom(r), nonce, req.Reason))
}

func (s *server) mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, s.Token.Mint(r.Context(), callerFrom(r), to, req.Amount))
}

func (s *server) setFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, s.Token.SetFee(r.Context(), callerFrom(r), req.Fee))
}

func (s *server) setFeeRecipient(w http.ResponseWriter, r *http.Request) {
	s.withAddress(w, r, s.Token.SetFeeRecipient)
}

func (s *server) setTokenValidator(w http.ResponseWriter, r *http.Request) {
	s.withAddress(w, r, s.Token.SetValidator)
}

func (s *server) transferTokenOwnership(w http.ResponseWriter, r *http.Request) {
	s.withAddress(w, r, s.Token.TransferOwnership)
}

func (s *server) setTokenGate(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	gate, ok := s.gates[req.Address]
	if !ok {
		s.writeError(w, r, errBadRequest("unknown compliance gate %q", req.Address))
		return
	}
	s.respond(w, r, s.Token.SetComplianceGate(r.Context(), callerFrom(r), gate))
}
