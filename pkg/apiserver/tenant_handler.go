package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/quota"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// tenantUsage reports a tenant's effective limits next to what it uses.
type tenantUsage struct {
	TenantID       string      `json:"tenant_id"`
	Plan           string      `json:"plan"`
	Limits         model.Quota `json:"limits"`
	Targets        int         `json:"targets"`
	Rollouts       int         `json:"rollouts"`
	ActiveRollouts int         `json:"active_rollouts"`
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	if boundToTenant(r) {
		tenant, err := s.store.Tenants().Get(r.Context(), tenantFrom(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, []model.Tenant{*tenant})
		return
	}
	tenants, err := s.store.Tenants().List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []model.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	tenant, err := s.store.Tenants().Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	if boundToTenant(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var tenant model.Tenant
	if !s.decode(w, r, &tenant) {
		return
	}
	if tenant.Plan == "" {
		tenant.Plan = quota.DefaultPlan
	}
	if err := ValidateTenant(&tenant); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if tenant.Name == "" {
		tenant.Name = tenant.ID
	}
	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	if err := s.store.Tenants().Create(r.Context(), &tenant); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

// handleUpdateTenant replaces a tenant's name, plan, settings and quota
// override.
func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	var in model.Tenant
	if !s.decode(w, r, &in) {
		return
	}
	in.ID = id
	if in.Plan == "" {
		in.Plan = quota.DefaultPlan
	}
	if err := ValidateTenant(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var out *model.Tenant
	err := store.RetryOnConflict(r.Context(), store.DefaultMaxAttempts, func(ctx context.Context) error {
		cur, err := s.store.Tenants().Get(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != "" {
			cur.Name = in.Name
		}
		cur.Plan = in.Plan
		cur.Settings = in.Settings
		cur.Quota = in.Quota
		cur.UpdatedAt = time.Now().UTC()
		if err := s.store.Tenants().Update(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeleteTenant removes an empty tenant. Tenants that still own
// targets or rollouts are kept.
func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	if boundToTenant(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	usage, err := s.usage(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if usage.Targets > 0 || usage.Rollouts > 0 {
		s.fail(w, r, fmt.Errorf("tenant %q still owns %d targets and %d rollouts: %w",
			id, usage.Targets, usage.Rollouts, model.ErrConflict))
		return
	}
	if err := s.store.Tenants().Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTenantUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	usage, err := s.usage(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) usage(ctx context.Context, id string) (*tenantUsage, error) {
	tenant, err := s.store.Tenants().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	targets, err := s.store.Targets().Count(ctx, id)
	if err != nil {
		return nil, err
	}
	rollouts, err := s.store.Rollouts().List(ctx, id)
	if err != nil {
		return nil, err
	}
	u := &tenantUsage{
		TenantID: id,
		Plan:     tenant.Plan,
		Limits:   quota.ForTenant(tenant),
		Targets:  targets,
		Rollouts: len(rollouts),
	}
	for _, ro := range rollouts {
		switch ro.Status {
		case model.RolloutStarting, model.RolloutRunning, model.RolloutPaused:
			u.ActiveRollouts++
		}
	}
	return u, nil
}

// tenantID returns the {id} path parameter. Keys bound to a tenant may only
// address their own.
func (s *Server) tenantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return "", false
	}
	if boundToTenant(r) && id != tenantFrom(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return "", false
	}
	return id, true
}
