package api

import (
	"fmt"
	"net/http"

	"compliance-ledger/internal/domain"
)

type nativeTransferRequest struct {
	To     domain.Address `json:"to"`
	Amount uint64         `json:"amount,string"`
}

func (s *server) nativeBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bal, err := s.Vault.Balance(r.Context(), holder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: holder, Balance: bal})
}

// deposit credits value entering the ledger. Only the deposit authority may call it.
func (s *server) deposit(w http.ResponseWriter, r *http.Request) {
	var req nativeTransferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller := callerFrom(r)
	if s.DepositAuthority.IsZero() || caller != s.DepositAuthority {
		s.writeError(w, r, fmt.Errorf("%w: %s may not deposit", domain.ErrUnauthorized, caller))
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, s.Vault.Deposit(r.Context(), to, req.Amount))
}

func (s *server) nativeTransfer(w http.ResponseWriter, r *http.Request) {
	var req nativeTransferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, s.Vault.Transfer(r.Context(), callerFrom(r), to, req.Amount))
}
