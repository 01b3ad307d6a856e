package apiserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/rollout"
)

// rolloutView is a rollout with its per-status target counts.
type rolloutView struct {
	*model.Rollout
	TotalTargetsPerStatus *rollout.TargetCounts `json:"total_targets_per_status"`
}

// groupView is a rollout group with its per-status target counts.
type groupView struct {
	*model.RolloutGroup
	TotalTargetsPerStatus *rollout.TargetCounts `json:"total_targets_per_status"`
}

// handleListRollouts lists rollouts; ?status=RUNNING,PAUSED narrows the
// result.
func (s *Server) handleListRollouts(w http.ResponseWriter, r *http.Request) {
	var statuses []model.RolloutStatus
	if v := r.URL.Query().Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			statuses = append(statuses, model.RolloutStatus(strings.ToUpper(strings.TrimSpace(st))))
		}
	}
	rollouts, err := s.rollouts.List(r.Context(), tenantFrom(r), statuses...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rollouts == nil {
		rollouts = []model.Rollout{}
	}
	writeJSON(w, http.StatusOK, rollouts)
}

func (s *Server) handleCreateRollout(w http.ResponseWriter, r *http.Request) {
	var req rollout.CreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := ValidateID(req.DistributionSetID); err != nil {
		writeError(w, http.StatusBadRequest, "distribution_set_id: "+err.Error())
		return
	}
	req.CreatedBy = callerFrom(r)
	created, err := s.rollouts.Create(r.Context(), tenantFrom(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRollout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tenant := tenantFrom(r)
	ro, err := s.rollouts.Get(r.Context(), tenant, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	counts, err := s.rollouts.TotalTargetCountByStatus(r.Context(), tenant, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rolloutView{Rollout: ro, TotalTargetsPerStatus: counts})
}

// handleDeleteRollout marks the rollout DELETING; the control loop removes
// it.
func (s *Server) handleDeleteRollout(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.rollouts.Delete, http.StatusAccepted)
}

// approvalRequest is the body of POST /api/v1/rollouts/{id}/approve.
type approvalRequest struct {
	Approved bool   `json:"approved"`
	Remark   string `json:"remark,omitempty"`
}

// handleApproveRollout records an approval decision. Only admins decide.
func (s *Server) handleApproveRollout(w http.ResponseWriter, r *http.Request) {
	if role, _ := r.Context().Value(roleContextKey).(Role); role < RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req approvalRequest
	if !s.decode(w, r, &req) {
		return
	}
	ro, err := s.rollouts.Approve(r.Context(), tenantFrom(r), id, req.Approved, callerFrom(r), req.Remark)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ro)
}

func (s *Server) handleStartRollout(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.rollouts.Start, http.StatusOK)
}

func (s *Server) handlePauseRollout(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.rollouts.Pause, http.StatusOK)
}

func (s *Server) handleResumeRollout(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.rollouts.Resume, http.StatusOK)
}

func (s *Server) handleStopRollout(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.rollouts.Stop, http.StatusOK)
}

// transitionFunc is one of the Scheduler's lifecycle operations.
type transitionFunc func(ctx context.Context, tenant, rolloutID string) (*model.Rollout, error)

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc, code int) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ro, err := fn(r.Context(), tenantFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, code, ro)
}

func (s *Server) handleListRolloutGroups(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	groups, err := s.rollouts.Groups(r.Context(), tenantFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if groups == nil {
		groups = []model.RolloutGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetRolloutGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.rolloutGroup(w, r)
	if !ok {
		return
	}
	counts, err := s.rollouts.GroupTargetCountByStatus(r.Context(), tenantFrom(r), g.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groupView{RolloutGroup: g, TotalTargetsPerStatus: counts})
}

func (s *Server) handleRolloutGroupTargets(w http.ResponseWriter, r *http.Request) {
	g, ok := s.rolloutGroup(w, r)
	if !ok {
		return
	}
	page, err := pageFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := s.rollouts.GroupTargets(r.Context(), tenantFrom(r), g.ID, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// rolloutGroup resolves the {group} path parameter and checks that it
// belongs to the {id} rollout.
func (s *Server) rolloutGroup(w http.ResponseWriter, r *http.Request) (*model.RolloutGroup, bool) {
	rolloutID, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	groupID, ok := pathID(w, r, "group")
	if !ok {
		return nil, false
	}
	g, err := s.store.RolloutGroups().Get(r.Context(), tenantFrom(r), groupID)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if g.RolloutID != rolloutID {
		s.fail(w, r, model.NotFound("rollout group", groupID))
		return nil, false
	}
	return g, true
}
