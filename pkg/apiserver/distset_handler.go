package apiserver

import (
	"net/http"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// handleListDistributionSets lists distribution sets. Soft-deleted sets are
// included with ?deleted=true.
func (s *Server) handleListDistributionSets(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	withDeleted := r.URL.Query().Get("deleted") == "true"
	sets, err := s.engine.ListDistributionSets(r.Context(), tenantFrom(r), page, withDeleted)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sets == nil {
		sets = []model.DistributionSet{}
	}
	writeJSON(w, http.StatusOK, sets)
}

func (s *Server) handleCreateDistributionSet(w http.ResponseWriter, r *http.Request) {
	var ds model.DistributionSet
	if !s.decode(w, r, &ds) {
		return
	}
	if err := ValidateDistributionSet(&ds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.CreateDistributionSet(r.Context(), tenantFrom(r), &ds); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

func (s *Server) handleGetDistributionSet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ds, err := s.engine.GetDistributionSet(r.Context(), tenantFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleUpdateDistributionSet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var ds model.DistributionSet
	if !s.decode(w, r, &ds) {
		return
	}
	ds.ID = id
	if err := ValidateDistributionSet(&ds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.engine.UpdateDistributionSet(r.Context(), tenantFrom(r), &ds)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteDistributionSet removes a set, or marks it deleted when it is
// still in use.
func (s *Server) handleDeleteDistributionSet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.engine.DeleteDistributionSet(r.Context(), tenantFrom(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
