package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/rollout"
)

// MockClient implements APIClient with canned data for development and testing.
type MockClient struct{}

var _ APIClient = (*MockClient)(nil)

var mockEpoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func notFound(kind, id string) error {
	return &Error{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

func (m *MockClient) ListTargets(_ context.Context, query string, _ model.Page) ([]model.Target, error) {
	all := []model.Target{
		{
			ID: "dev-001", Name: "gateway-berlin-1",
			Attributes:   map[string]string{"hw": "v2", "region": "eu"},
			UpdateStatus: model.TargetInSync, AssignedDS: "firmware-1.1", InstalledDS: "firmware-1.1",
			CreatedAt: mockEpoch,
		},
		{
			ID: "dev-002", Name: "gateway-berlin-2",
			Attributes:   map[string]string{"hw": "v2", "region": "eu"},
			UpdateStatus: model.TargetPending, AssignedDS: "firmware-1.1", InstalledDS: "firmware-1.0",
			CreatedAt: mockEpoch,
		},
		{
			ID: "dev-003", Name: "sensor-austin-1",
			Attributes:   map[string]string{"hw": "v1", "region": "us"},
			UpdateStatus: model.TargetError, AssignedDS: "firmware-1.1", InstalledDS: "firmware-1.0",
			CreatedAt: mockEpoch,
		},
	}
	if query == "" {
		return all, nil
	}
	// The mock understands attribute.<key>==<value> only.
	key, value, ok := strings.Cut(strings.TrimPrefix(query, "attribute."), "==")
	if !ok {
		return nil, &Error{StatusCode: http.StatusBadRequest, Message: "invalid filter " + query}
	}
	var out []model.Target
	for _, t := range all {
		if t.Attributes[key] == value {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockClient) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	targets, _ := m.ListTargets(ctx, "", model.Page{})
	for _, t := range targets {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, notFound("target", id)
}

func (m *MockClient) CreateTarget(_ context.Context, t *model.Target) (*model.Target, error) {
	out := *t
	out.UpdateStatus = model.TargetUnknown
	out.CreatedAt, out.UpdatedAt = mockEpoch, mockEpoch
	return &out, nil
}

func (m *MockClient) DeleteTarget(ctx context.Context, id string) error {
	_, err := m.GetTarget(ctx, id)
	return err
}

func (m *MockClient) TargetActions(ctx context.Context, id string, activeOnly bool) ([]model.Action, error) {
	if _, err := m.GetTarget(ctx, id); err != nil {
		return nil, err
	}
	actions := []model.Action{
		{ID: "act-" + id + "-1", TargetID: id, DistributionSetID: "firmware-1.0", Status: model.StatusFinished, Type: model.ActionForced, InitiatedBy: "admin", CreatedAt: mockEpoch},
		{ID: "act-" + id + "-2", TargetID: id, DistributionSetID: "firmware-1.1", Status: model.StatusRunning, Type: model.ActionSoft, Active: true, InitiatedBy: "admin", RolloutID: "ro-1", CreatedAt: mockEpoch},
	}
	if activeOnly {
		return actions[1:], nil
	}
	return actions, nil
}

func (m *MockClient) ListDistributionSets(_ context.Context, withDeleted bool) ([]model.DistributionSet, error) {
	sets := []model.DistributionSet{
		{ID: "firmware-1.0", Name: "firmware", Version: "1.0", Complete: true, Locked: true, CreatedAt: mockEpoch,
			Modules: []model.SoftwareModule{{Type: "os", Name: "base", Version: "1.0", Mandatory: true}}},
		{ID: "firmware-1.1", Name: "firmware", Version: "1.1", Complete: true, Locked: true, CreatedAt: mockEpoch,
			Modules: []model.SoftwareModule{{Type: "os", Name: "base", Version: "1.1", Mandatory: true}}},
	}
	if withDeleted {
		sets = append(sets, model.DistributionSet{ID: "firmware-0.9", Name: "firmware", Version: "0.9", Complete: true, Deleted: true, CreatedAt: mockEpoch})
	}
	return sets, nil
}

func (m *MockClient) GetDistributionSet(ctx context.Context, id string) (*model.DistributionSet, error) {
	sets, _ := m.ListDistributionSets(ctx, true)
	for _, ds := range sets {
		if ds.ID == id {
			return &ds, nil
		}
	}
	return nil, notFound("distribution set", id)
}

func (m *MockClient) CreateDistributionSet(_ context.Context, ds *model.DistributionSet) (*model.DistributionSet, error) {
	out := *ds
	out.Complete = len(out.Modules) > 0
	out.CreatedAt, out.UpdatedAt = mockEpoch, mockEpoch
	return &out, nil
}

func (m *MockClient) DeleteDistributionSet(ctx context.Context, id string) error {
	_, err := m.GetDistributionSet(ctx, id)
	return err
}

func (m *MockClient) Assign(ctx context.Context, reqs []deploy.AssignRequest, offline bool) (*deploy.AssignmentResult, error) {
	res := &deploy.AssignmentResult{}
	for i, r := range reqs {
		t, err := m.GetTarget(ctx, r.TargetID)
		if err != nil {
			return nil, err
		}
		res.Total++
		if t.AssignedDS == r.DistributionSetID {
			res.AlreadyAssigned++
			continue
		}
		status, active := model.StatusRunning, true
		if offline {
			status, active = model.StatusFinished, false
		}
		res.Assigned++
		res.AssignedActions = append(res.AssignedActions, model.Action{
			ID: fmt.Sprintf("act-new-%d", i+1), TargetID: r.TargetID, DistributionSetID: r.DistributionSetID,
			Status: status, Type: r.Type, Active: active, InitiatedBy: "mock", CreatedAt: mockEpoch,
		})
	}
	return res, nil
}

func (m *MockClient) GetAction(_ context.Context, id string) (*model.Action, error) {
	if !strings.HasPrefix(id, "act-") {
		return nil, notFound("action", id)
	}
	return &model.Action{
		ID: id, TargetID: "dev-002", DistributionSetID: "firmware-1.1", Status: model.StatusRunning,
		Type: model.ActionSoft, Active: true, InitiatedBy: "admin", CreatedAt: mockEpoch,
	}, nil
}

func (m *MockClient) ActionHistory(ctx context.Context, id string) ([]model.ActionStatus, error) {
	if _, err := m.GetAction(ctx, id); err != nil {
		return nil, err
	}
	return []model.ActionStatus{
		{ID: "st-1", ActionID: id, Status: model.StatusRunning, Messages: []string{"assigned by admin"}, OccurredAt: mockEpoch},
		{ID: "st-2", ActionID: id, Status: model.StatusRetrieved, OccurredAt: mockEpoch.Add(time.Minute)},
		{ID: "st-3", ActionID: id, Status: model.StatusDownloaded, Messages: []string{"artifacts downloaded"}, OccurredAt: mockEpoch.Add(2 * time.Minute)},
	}, nil
}

func (m *MockClient) CancelAction(ctx context.Context, id string) (*model.Action, error) {
	a, err := m.GetAction(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Status = model.StatusCanceling
	return a, nil
}

func (m *MockClient) ForceQuitAction(ctx context.Context, id string) (*model.Action, error) {
	a, err := m.GetAction(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Status, a.Active = model.StatusCanceled, false
	return a, nil
}

func (m *MockClient) ForceAction(ctx context.Context, id string) (*model.Action, error) {
	a, err := m.GetAction(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Type = model.ActionForced
	return a, nil
}

func (m *MockClient) ListRollouts(_ context.Context, statuses ...string) ([]model.Rollout, error) {
	all := []model.Rollout{
		{ID: "ro-1", Name: "firmware-1.1-eu", DistributionSetID: "firmware-1.1", TargetFilter: "attribute.region==eu",
			ActionType: model.ActionSoft, Status: model.RolloutRunning, TotalTargets: 2, CreatedBy: "admin", CreatedAt: mockEpoch},
		{ID: "ro-2", Name: "firmware-1.1-us", DistributionSetID: "firmware-1.1", TargetFilter: "attribute.region==us",
			ActionType: model.ActionForced, Status: model.RolloutReady, TotalTargets: 1, CreatedBy: "admin", CreatedAt: mockEpoch},
		{ID: "ro-3", Name: "firmware-1.2-canary", DistributionSetID: "firmware-1.2", TargetFilter: "attribute.ring==canary",
			ActionType: model.ActionForced, Status: model.RolloutWaitingForApproval, TotalTargets: 4, CreatedBy: "admin", CreatedAt: mockEpoch},
	}
	if len(statuses) == 0 {
		return all, nil
	}
	var out []model.Rollout
	for _, r := range all {
		for _, s := range statuses {
			if strings.EqualFold(string(r.Status), s) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (m *MockClient) GetRollout(ctx context.Context, id string) (*RolloutDetail, error) {
	rollouts, _ := m.ListRollouts(ctx)
	for _, r := range rollouts {
		if r.ID == id {
			counts := rollout.TargetCounts{NotStarted: r.TotalTargets, Total: r.TotalTargets}
			if r.Status == model.RolloutRunning {
				counts = rollout.TargetCounts{Finished: 1, Running: 1, Total: r.TotalTargets}
			}
			return &RolloutDetail{Rollout: r, TotalTargetsPerStatus: counts}, nil
		}
	}
	return nil, notFound("rollout", id)
}

func (m *MockClient) CreateRollout(_ context.Context, req rollout.CreateRequest) (*model.Rollout, error) {
	return &model.Rollout{
		ID: "ro-new", Name: req.Name, DistributionSetID: req.DistributionSetID, TargetFilter: req.TargetFilter,
		ActionType: req.ActionType, Status: model.RolloutCreating, CreatedBy: "mock", CreatedAt: mockEpoch,
	}, nil
}

func (m *MockClient) TransitionRollout(ctx context.Context, id string, op Transition) (*model.Rollout, error) {
	d, err := m.GetRollout(ctx, id)
	if err != nil {
		return nil, err
	}
	r := d.Rollout
	switch op {
	case TransitionStart:
		if r.Status != model.RolloutReady {
			return nil, &Error{StatusCode: http.StatusConflict, Message: fmt.Sprintf("rollout %s is %s", id, r.Status)}
		}
		r.Status = model.RolloutStarting
	case TransitionPause:
		r.Status = model.RolloutPaused
	case TransitionResume:
		r.Status = model.RolloutRunning
	case TransitionStop:
		r.Status = model.RolloutStopping
	}
	return &r, nil
}

func (m *MockClient) ApproveRollout(ctx context.Context, id string, approved bool, remark string) (*model.Rollout, error) {
	d, err := m.GetRollout(ctx, id)
	if err != nil {
		return nil, err
	}
	r := d.Rollout
	if r.Status != model.RolloutWaitingForApproval {
		return nil, &Error{StatusCode: http.StatusConflict, Message: fmt.Sprintf("rollout %s is %s", id, r.Status)}
	}
	r.Status = model.RolloutReady
	if !approved {
		r.Status = model.RolloutApprovalDenied
	}
	r.ApprovalDecidedBy = "mock"
	r.ApprovalRemark = remark
	return &r, nil
}

func (m *MockClient) DeleteRollout(ctx context.Context, id string) error {
	_, err := m.GetRollout(ctx, id)
	return err
}

func (m *MockClient) ListRolloutGroups(ctx context.Context, id string) ([]model.RolloutGroup, error) {
	if _, err := m.GetRollout(ctx, id); err != nil {
		return nil, err
	}
	cond := model.GroupConditions{
		Success: model.Condition{Type: model.ConditionThreshold, Threshold: 100, Action: model.GroupActionNextGroup},
	}
	return []model.RolloutGroup{
		{ID: id + "-g1", RolloutID: id, Index: 0, Name: "group-1", TargetPercentage: 50, Conditions: cond, Status: model.GroupFinished, TotalTargets: 1},
		{ID: id + "-g2", RolloutID: id, Index: 1, Name: "group-2", TargetPercentage: 100, Conditions: cond, Status: model.GroupRunning, TotalTargets: 1},
	}, nil
}

func (m *MockClient) ListTenants(_ context.Context) ([]model.Tenant, error) {
	return []model.Tenant{
		{ID: "default", Name: "Default", Plan: "pro", CreatedAt: mockEpoch},
		{ID: "acme", Name: "Acme Corp", Plan: "starter", Settings: model.TenantSettings{MultiAssignment: true}, CreatedAt: mockEpoch},
	}, nil
}

func (m *MockClient) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	tenants, _ := m.ListTenants(ctx)
	for _, t := range tenants {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, notFound("tenant", id)
}

func (m *MockClient) CreateTenant(_ context.Context, t *model.Tenant) (*model.Tenant, error) {
	out := *t
	if out.Plan == "" {
		out.Plan = "starter"
	}
	out.CreatedAt, out.UpdatedAt = mockEpoch, mockEpoch
	return &out, nil
}

func (m *MockClient) TenantUsage(ctx context.Context, id string) (*TenantUsage, error) {
	t, err := m.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TenantUsage{
		TenantID: t.ID,
		Plan:     t.Plan,
		Limits: model.Quota{
			MaxActionsPerTarget: 100, MaxAssignmentsPerRequest: 500,
			MaxRolloutGroups: 20, MaxTargetsPerRolloutGroup: 5000,
		},
		Targets:        3,
		Rollouts:       2,
		ActiveRollouts: 1,
	}, nil
}

func (m *MockClient) ListEvents(_ context.Context, limit int) ([]model.Event, error) {
	out := []model.Event{
		{ID: "ev-2", TenantID: "default", Type: events.RolloutStarted, ResourceType: events.ResourceRollout, ResourceID: "ro-1", CreatedAt: mockEpoch.Add(time.Minute)},
		{ID: "ev-1", TenantID: "default", Type: events.RolloutCreated, ResourceType: events.ResourceRollout, ResourceID: "ro-1", CreatedAt: mockEpoch},
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockClient) Version(_ context.Context) (string, error) {
	return "0.1.0-mock", nil
}
