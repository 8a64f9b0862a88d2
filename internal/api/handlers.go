package api

import (
	"context"
	"net/http"

	"compliance-ledger/internal/domain"
)

// respond writes 204 on success and the mapped error otherwise.
func (s *server) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withAddress decodes an addressRequest and applies op on behalf of the caller.
func (s *server) withAddress(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, caller, addr domain.Address) error) {
	var req addressRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, op(r.Context(), callerFrom(r), addr))
}
