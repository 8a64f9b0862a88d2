package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/logging"
	"compliance-ledger/internal/observability"
	"compliance-ledger/internal/storage"
)

type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func errBadRequest(format string, args ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

var errNotFound = errors.New("not found")

var statuses = []struct {
	err    error
	status int
}{
	{errUnauthenticated, http.StatusUnauthorized},
	{errNotFound, http.StatusNotFound},
	{domain.ErrUnauthorized, http.StatusForbidden},
	{domain.ErrNotWhitelisted, http.StatusForbidden},
	{domain.ErrInvalidRecipient, http.StatusBadRequest},
	{domain.ErrInvalidAddress, http.StatusBadRequest},
	{domain.ErrZeroAmount, http.StatusBadRequest},
	{domain.ErrAmountOverflow, http.StatusBadRequest},
	{storage.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrNoSuchPendingEntry, http.StatusNotFound},
	{domain.ErrInsufficientBalance, http.StatusConflict},
	{domain.ErrSaleWindowClosed, http.StatusConflict},
	{domain.ErrSaleNotEnded, http.StatusConflict},
	{domain.ErrAlreadyFinalized, http.StatusConflict},
	{domain.ErrNothingToClaim, http.StatusConflict},
	{domain.ErrTransferRefused, http.StatusConflict},
	{storage.ErrDuplicateKey, http.StatusConflict},
	{domain.ErrNotDeployed, http.StatusServiceUnavailable},
}

func statusOf(err error) int {
	var br *badRequest
	if errors.As(err, &br) {
		return http.StatusBadRequest
	}
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	code := observability.Outcome(err)
	switch {
	case errors.Is(err, errUnauthenticated):
		code = "unauthenticated"
	case status == http.StatusBadRequest && code == "error":
		code = "bad_request"
	case status == http.StatusNotFound && code == "error":
		code = "not_found"
	}
	if status == http.StatusInternalServerError {
		logging.WithTrace(r.Context(), s.logger).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadRequest("decode request: %v", err)
	}
	return nil
}
