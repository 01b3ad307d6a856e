package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// maxPageLimit caps the limit query parameter of list endpoints.
const maxPageLimit = 1000

// registerRoutes wires all API v1 routes into the server mux.
func (s *Server) registerRoutes() {
	// Health probes
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)

	// Metrics endpoint
	s.mux.Handle("GET /metrics", s.metrics.PrometheusHandler())
	s.mux.HandleFunc("GET /api/v1/version", s.handleVersion)

	// Targets
	s.mux.HandleFunc("GET /api/v1/targets", s.handleListTargets)
	s.mux.HandleFunc("POST /api/v1/targets", s.handleCreateTarget)
	s.mux.HandleFunc("GET /api/v1/targets/{id}", s.handleGetTarget)
	s.mux.HandleFunc("PUT /api/v1/targets/{id}", s.handleUpdateTarget)
	s.mux.HandleFunc("DELETE /api/v1/targets/{id}", s.handleDeleteTarget)
	s.mux.HandleFunc("GET /api/v1/targets/{id}/actions", s.handleTargetActions)
	s.mux.HandleFunc("POST /api/v1/targets/{id}/poll", s.handlePollTarget)

	// Distribution sets
	s.mux.HandleFunc("GET /api/v1/distributionsets", s.handleListDistributionSets)
	s.mux.HandleFunc("POST /api/v1/distributionsets", s.handleCreateDistributionSet)
	s.mux.HandleFunc("GET /api/v1/distributionsets/{id}", s.handleGetDistributionSet)
	s.mux.HandleFunc("PUT /api/v1/distributionsets/{id}", s.handleUpdateDistributionSet)
	s.mux.HandleFunc("DELETE /api/v1/distributionsets/{id}", s.handleDeleteDistributionSet)

	// Assignments
	s.mux.HandleFunc("POST /api/v1/assignments", s.handleAssign)
	s.mux.HandleFunc("POST /api/v1/assignments/offline", s.handleOfflineAssign)

	// Actions
	s.mux.HandleFunc("GET /api/v1/actions/{id}", s.handleGetAction)
	s.mux.HandleFunc("GET /api/v1/actions/{id}/history", s.handleActionHistory)
	s.mux.HandleFunc("POST /api/v1/actions/{id}/status", s.handleActionStatus)
	s.mux.HandleFunc("POST /api/v1/actions/{id}/cancel", s.handleCancelAction)
	s.mux.HandleFunc("POST /api/v1/actions/{id}/forcequit", s.handleForceQuitAction)
	s.mux.HandleFunc("POST /api/v1/actions/{id}/force", s.handleForceAction)

	// Rollouts
	s.mux.HandleFunc("GET /api/v1/rollouts", s.handleListRollouts)
	s.mux.HandleFunc("POST /api/v1/rollouts", s.handleCreateRollout)
	s.mux.HandleFunc("GET /api/v1/rollouts/{id}", s.handleGetRollout)
	s.mux.HandleFunc("DELETE /api/v1/rollouts/{id}", s.handleDeleteRollout)
	s.mux.HandleFunc("POST /api/v1/rollouts/{id}/approve", s.handleApproveRollout)
	s.mux.HandleFunc("POST /api/v1/rollouts/{id}/start", s.handleStartRollout)
	s.mux.HandleFunc("POST /api/v1/rollouts/{id}/pause", s.handlePauseRollout)
	s.mux.HandleFunc("POST /api/v1/rollouts/{id}/resume", s.handleResumeRollout)
	s.mux.HandleFunc("POST /api/v1/rollouts/{id}/stop", s.handleStopRollout)
	s.mux.HandleFunc("GET /api/v1/rollouts/{id}/groups", s.handleListRolloutGroups)
	s.mux.HandleFunc("GET /api/v1/rollouts/{id}/groups/{group}", s.handleGetRolloutGroup)
	s.mux.HandleFunc("GET /api/v1/rollouts/{id}/groups/{group}/targets", s.handleRolloutGroupTargets)

	// Tenants and plans
	s.mux.HandleFunc("GET /api/v1/tenants", s.handleListTenants)
	s.mux.HandleFunc("POST /api/v1/tenants", s.handleCreateTenant)
	s.mux.HandleFunc("GET /api/v1/tenants/{id}", s.handleGetTenant)
	s.mux.HandleFunc("PUT /api/v1/tenants/{id}", s.handleUpdateTenant)
	s.mux.HandleFunc("DELETE /api/v1/tenants/{id}", s.handleDeleteTenant)
	s.mux.HandleFunc("GET /api/v1/tenants/{id}/usage", s.handleTenantUsage)
	s.mux.HandleFunc("GET /api/v1/plans", s.handleListPlans)

	// Event log
	s.mux.HandleFunc("GET /api/v1/events", s.handleListEvents)
}

// handleHealthz is a liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz is a readiness probe. The server is ready once the store
// answers.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Tenants().List(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleVersion reports the server version.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps an engine or store error to an HTTP status code.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, model.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrEntityAlreadyExists),
		errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrEntityReadOnly),
		errors.Is(err, model.ErrRolloutIllegalState),
		errors.Is(err, model.ErrCancelNotAllowed),
		errors.Is(err, model.ErrForceQuitNotAllowed),
		errors.Is(err, model.ErrActionTypeNotChangeable):
		return http.StatusConflict
	case errors.Is(err, model.ErrEntityLocked):
		return http.StatusLocked
	case errors.Is(err, model.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrRolloutVerification),
		errors.Is(err, model.ErrInvalidFilter),
		errors.Is(err, model.ErrInvalidWeight),
		errors.Is(err, model.ErrMultiAssignmentNotEnabled),
		errors.Is(err, model.ErrInvalidActionStatus),
		errors.Is(err, model.ErrInvalidActionType),
		errors.Is(err, model.ErrIncompleteDistributionSet),
		errors.Is(err, model.ErrInvalidDistributionSet):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err with the status it maps to. Unexpected errors are logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, code, err.Error())
}

// decode reads the JSON request body into v. It writes the error response
// and returns false when the body is unusable.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// pathID returns the validated path parameter name. It writes a 400 and
// returns false when the value is not a safe identifier.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if err := ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// pageFrom reads the offset and limit query parameters.
func pageFrom(r *http.Request) (model.Page, error) {
	var page model.Page
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, fmt.Errorf("offset must be a non-negative integer")
		}
		page.Offset = n
	}
	page.Limit = 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageLimit {
			return page, fmt.Errorf("limit must be between 1 and %d", maxPageLimit)
		}
		page.Limit = n
	}
	return page, nil
}
