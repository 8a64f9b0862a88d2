package api

import (
	"net/http"

	"compliance-ledger/internal/domain"
)

type investorStatusResponse struct {
	Address  domain.Address `json:"address"`
	Approved bool           `json:"approved"`
}

func (s *server) investors(w http.ResponseWriter, r *http.Request) {
	members, err := s.Whitelist.Investors(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addressList{Addresses: members})
}

func (s *server) investorStatus(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.Whitelist.IsApproved(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, investorStatusResponse{Address: addr, Approved: ok})
}

func (s *server) decodeInvestors(r *http.Request) ([]domain.Address, error) {
	var req addressList
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if len(req.Addresses) == 0 {
		return nil, errBadRequest("addresses: empty")
	}
	for i, a := range req.Addresses {
		parsed, err := parseAddress("addresses", a)
		if err != nil {
			return nil, err
		}
		req.Addresses[i] = parsed
	}
	return req.Addresses, nil
}

func (s *server) approveInvestors(w http.ResponseWriter, r *http.Request) {
	investors, err := s.decodeInvestors(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, s.Whitelist.ApproveInvestorsInBulk(r.Context(), callerFrom(r), investors))
}

func (s *server) disapproveInvestors(w http.ResponseWriter, r *http.Request) {
	investors, err := s.decodeInvestors(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, s.Whitelist.DisapproveInvestorsInBulk(r.Context(), callerFrom(r), investors))
}

func (s *server) transferWhitelistOwnership(w http.ResponseWriter, r *http.Request) {
	s.withAddress(w, r, s.Whitelist.TransferOwnership)
}
