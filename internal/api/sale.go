package api

import (
	"net/http"
	"time"

	"compliance-ledger/internal/domain"
)

type saleStateResponse struct {
	Address          domain.Address `json:"address"`
	Owner            domain.Address `json:"owner"`
	Validator        domain.Address `json:"validator"`
	Gate             domain.Address `json:"compliance_gate"`
	Token            domain.Address `json:"token"`
	Wallet           domain.Address `json:"wallet"`
	Rate             uint64         `json:"rate,string"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          time.Time      `json:"end_time"`
	CurrentMintNonce uint64         `json:"current_mint_nonce,string"`
	Finalized        bool           `json:"finalized"`
}

type pendingMintResponse struct {
	Beneficiary        domain.Address `json:"beneficiary"`
	TokenAmount        uint64         `json:"token_amount,string"`
	ContributionAmount uint64         `json:"contribution_amount,string"`
	Nonce              uint64         `json:"nonce,string"`
}

func newPendingMintResponse(m domain.PendingMint) pendingMintResponse {
	return pendingMintResponse{
		Beneficiary:        m.Beneficiary,
		TokenAmount:        m.TokenAmount,
		ContributionAmount: m.ContributionAmount,
		Nonce:              m.Nonce,
	}
}

type purchaseRequest struct {
	Beneficiary  domain.Address `json:"beneficiary"`
	Contribution uint64         `json:"contribution,string"`
}

func (s *server) saleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.Sale.State(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saleStateResponse{
		Address:          st.Address,
		Owner:            st.Owner,
		Validator:        st.Validator,
		Gate:             st.Gate,
		Token:            st.Token,
		Wallet:           st.Wallet,
		Rate:             st.Rate,
		StartTime:        time.UnixMilli(st.StartTime).UTC(),
		EndTime:          time.UnixMilli(st.EndTime).UTC(),
		CurrentMintNonce: st.CurrentMintNonce,
		Finalized:        st.Finalized,
	})
}

func (s *server) pendingMints(w http.ResponseWriter, r *http.Request) {
	pending, err := s.Sale.PendingMints(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := make([]pendingMintResponse, 0, len(pending))
	for _, m := range pending {
		resp = append(resp, newPendingMintResponse(*m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) pendingMint(w http.ResponseWriter, r *http.Request) {
	nonce, err := nonceParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.Sale.PendingMint(r.Context(), nonce)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if m.IsEmpty() {
		s.writeError(w, r, domain.ErrNoSuchPendingEntry)
		return
	}
	writeJSON(w, http.StatusOK, newPendingMintResponse(m))
}

func (s *server) refundable(w http.ResponseWriter, r *http.Request) {
	investor, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.Sale.RejectedMintBalance(r.Context(), investor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount})
}

func (s *server) buyTokens(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	beneficiary, err := parseAddress("beneficiary", req.Beneficiary)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nonce, err := s.Sale.BuyTokens(r.Context(), callerFrom(r), beneficiary, req.Contribution)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nonceResponse{Nonce: nonce})
}

func (s *server) approveMint(w http.ResponseWriter, r *http.Request) {
	nonce, err := nonceParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, s.Sale.ApproveMint(r.Context(), callerFrom(r), nonce))
}

func (s *server) rejectMint(w http.ResponseWriter, r *http.Request) {
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
	s.respond(w, r, s.Sale.RejectMint(r.Context(), callerFrom(r), nonce, req.Reason))
}

func (s *server) claim(w http.ResponseWriter, r *http.Request) {
	paid, err := s.Sale.Claim(r.Context(), callerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: paid})
}

func (s *server) finalize(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.Sale.Finalize(r.Context(), callerFrom(r)))
}

func (s *server) setSaleValidator(w http.ResponseWriter, r *http.Request) {
	s.withAddress(w, r, s.Sale.SetValidator)
}

func (s *server) transferSaleTokenOwnership(w http.ResponseWriter, r *http.Request) {
	s.withAddress(w, r, s.Sale.TransferTokenOwnership)
}

func (s *server) setSaleGate(w http.ResponseWriter, r *http.Request) {
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
	s.respond(w, r, s.Sale.SetComplianceGate(r.Context(), callerFrom(r), gate))
}

func (s *server) setTokenContract(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	minter, ok := s.tokens[req.Address]
	if !ok {
		s.writeError(w, r, errBadRequest("unknown token %q", req.Address))
		return
	}
	s.respond(w, r, s.Sale.SetTokenContract(r.Context(), callerFrom(r), minter))
}
