package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"compliance-ledger/internal/domain"
)

func addressParam(r *http.Request, name string) (domain.Address, error) {
	addr, err := domain.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		return "", errBadRequest("%s: %v", name, err)
	}
	return addr, nil
}

func nonceParam(r *http.Request) (uint64, error) {
	nonce, err := strconv.ParseUint(chi.URLParam(r, "nonce"), 10, 64)
	if err != nil {
		return 0, errBadRequest("nonce: %v", err)
	}
	return nonce, nil
}

// parseAddress validates an address taken from a request body. An empty value is
// passed through as the zero address so that the core reports the missing party.
func parseAddress(field string, addr domain.Address) (domain.Address, error) {
	if addr == "" {
		return domain.ZeroAddress, nil
	}
	parsed, err := domain.ParseAddress(string(addr))
	if err != nil {
		return "", errBadRequest("%s: %v", field, err)
	}
	return parsed, nil
}

type addressRequest struct {
	Address domain.Address `json:"address"`
}

type addressList struct {
	Addresses []domain.Address `json:"addresses"`
}

type reasonRequest struct {
	Reason uint64 `json:"reason,string"`
}

type nonceResponse struct {
	Nonce uint64 `json:"nonce,string"`
}

type amountResponse struct {
	Amount uint64 `json:"amount,string"`
}
