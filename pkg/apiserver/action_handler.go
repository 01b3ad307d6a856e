package apiserver

import (
	"context"
	"net/http"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// statusReport is the body of a device status report.
type statusReport struct {
	Status   model.ActionStatusCode `json:"status"`
	Messages []string               `json:"messages,omitempty"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	s.assign(w, r, s.engine.Assign)
}

// handleOfflineAssign records deployments that already happened outside the
// server.
func (s *Server) handleOfflineAssign(w http.ResponseWriter, r *http.Request) {
	s.assign(w, r, s.engine.OfflineAssign)
}

// assignFunc is Engine.Assign or Engine.OfflineAssign.
type assignFunc func(ctx context.Context, tenant, initiatedBy string, reqs []deploy.AssignRequest) (*deploy.AssignmentResult, error)

func (s *Server) assign(w http.ResponseWriter, r *http.Request, fn assignFunc) {
	var reqs []deploy.AssignRequest
	if !s.decode(w, r, &reqs) {
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one assignment is required")
		return
	}
	for i := range reqs {
		if err := ValidateAssignment(&reqs[i]); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	result, err := fn(r.Context(), tenantFrom(r), callerFrom(r), reqs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	action, err := s.engine.GetAction(r.Context(), tenantFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleActionHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	history, err := s.engine.History(r.Context(), tenantFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if history == nil {
		history = []model.ActionStatus{}
	}
	writeJSON(w, http.StatusOK, history)
}

// handleActionStatus applies a status report sent by the device.
func (s *Server) handleActionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var report statusReport
	if !s.decode(w, r, &report) {
		return
	}
	action, err := s.engine.AddStatus(r.Context(), tenantFrom(r), id, report.Status, report.Messages...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	action, err := s.engine.Cancel(r.Context(), tenantFrom(r), id, callerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleForceQuitAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	action, err := s.engine.ForceQuit(r.Context(), tenantFrom(r), id, callerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleForceAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	action, err := s.engine.ForceTargetAction(r.Context(), tenantFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}
