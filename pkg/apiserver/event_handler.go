package apiserver

import (
	"net/http"
	"strconv"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// handleListEvents returns the tenant's newest lifecycle events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxPageLimit {
			limit = n
		}
	}
	entries, err := s.store.Events().List(r.Context(), tenantFrom(r), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.Event{}
	}
	writeJSON(w, http.StatusOK, entries)
}
