package api

import (
	"context"
	"net/http"
	"strconv"

	"compliance-ledger/internal/notify"
	"compliance-ledger/internal/storage"
)

const maxEventsPage = 500

// events pages through the outbox: GET /events?after=<seq>&limit=<n>.
func (s *server) events(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		s.writeError(w, r, errNotFound)
		return
	}

	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		var err error
		if after, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.writeError(w, r, errBadRequest("after: %v", err))
			return
		}
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, errBadRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxEventsPage)
	}

	resp := make([]notify.Message, 0, limit)
	err := s.Store.View(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		page, err := tx.EventsAfter(ctx, after, limit)
		for _, e := range page {
			resp = append(resp, notify.NewMessage(e))
		}
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
