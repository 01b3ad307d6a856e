package apiserver

import (
	"net/http"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// handleListTargets lists targets, restricted to the filter query q when set.
func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tenant := tenantFrom(r)
	var targets []model.Target
	if q := r.URL.Query().Get("q"); q != "" {
		targets, err = s.engine.FindTargets(r.Context(), tenant, q, page)
	} else {
		targets, err = s.store.Targets().List(r.Context(), tenant, page)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if targets == nil {
		targets = []model.Target{}
	}
	writeJSON(w, http.StatusOK, targets)
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var target model.Target
	if !s.decode(w, r, &target) {
		return
	}
	if err := ValidateTarget(&target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if target.Name == "" {
		target.Name = target.ID
	}
	if err := s.engine.CreateTarget(r.Context(), tenantFrom(r), &target); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, target)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	target, err := s.engine.GetTarget(r.Context(), tenantFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var target model.Target
	if !s.decode(w, r, &target) {
		return
	}
	target.ID = id
	if err := ValidateTarget(&target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.engine.UpdateTarget(r.Context(), tenantFrom(r), &target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.engine.DeleteTarget(r.Context(), tenantFrom(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTargetActions lists a target's actions; ?active=true keeps only the
// open ones.
func (s *Server) handleTargetActions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	page, err := pageFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	actions, err := s.engine.TargetActions(r.Context(), tenantFrom(r), id, activeOnly, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if actions == nil {
		actions = []model.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}

// handlePollTarget is called by devices. It records the contact and
// returns the actions the device should work on, in order.
func (s *Server) handlePollTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actions, err := s.engine.Poll(r.Context(), tenantFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if actions == nil {
		actions = []model.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}
