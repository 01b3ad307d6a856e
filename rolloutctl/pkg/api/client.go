package api

import (
	"context"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/rollout"
)

// Transition names a rollout lifecycle operation.
type Transition string

const (
	TransitionStart  Transition = "start"
	TransitionPause  Transition = "pause"
	TransitionResume Transition = "resume"
	TransitionStop   Transition = "stop"
)

// APIClient defines the interface for communicating with the rollout
// control plane.
type APIClient interface {
	// Targets
	ListTargets(ctx context.Context, query string, page model.Page) ([]model.Target, error)
	GetTarget(ctx context.Context, id string) (*model.Target, error)
	CreateTarget(ctx context.Context, t *model.Target) (*model.Target, error)
	DeleteTarget(ctx context.Context, id string) error
	TargetActions(ctx context.Context, id string, activeOnly bool) ([]model.Action, error)

	// Distribution sets
	ListDistributionSets(ctx context.Context, withDeleted bool) ([]model.DistributionSet, error)
	GetDistributionSet(ctx context.Context, id string) (*model.DistributionSet, error)
	CreateDistributionSet(ctx context.Context, ds *model.DistributionSet) (*model.DistributionSet, error)
	DeleteDistributionSet(ctx context.Context, id string) error

	// Assignments. Offline assignments record installs that already
	// happened outside the server.
	Assign(ctx context.Context, reqs []deploy.AssignRequest, offline bool) (*deploy.AssignmentResult, error)

	// Actions
	GetAction(ctx context.Context, id string) (*model.Action, error)
	ActionHistory(ctx context.Context, id string) ([]model.ActionStatus, error)
	CancelAction(ctx context.Context, id string) (*model.Action, error)
	ForceQuitAction(ctx context.Context, id string) (*model.Action, error)
	ForceAction(ctx context.Context, id string) (*model.Action, error)

	// Rollouts
	ListRollouts(ctx context.Context, statuses ...string) ([]model.Rollout, error)
	GetRollout(ctx context.Context, id string) (*RolloutDetail, error)
	CreateRollout(ctx context.Context, req rollout.CreateRequest) (*model.Rollout, error)
	TransitionRollout(ctx context.Context, id string, op Transition) (*model.Rollout, error)
	ApproveRollout(ctx context.Context, id string, approved bool, remark string) (*model.Rollout, error)
	DeleteRollout(ctx context.Context, id string) error
	ListRolloutGroups(ctx context.Context, id string) ([]model.RolloutGroup, error)

	// Tenants
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	CreateTenant(ctx context.Context, t *model.Tenant) (*model.Tenant, error)
	TenantUsage(ctx context.Context, id string) (*TenantUsage, error)

	// Event log
	ListEvents(ctx context.Context, limit int) ([]model.Event, error)

	// Version
	Version(ctx context.Context) (string, error)
}

// RolloutDetail is a rollout together with the action states of its
// targets.
type RolloutDetail struct {
	model.Rollout

	TotalTargetsPerStatus rollout.TargetCounts `json:"total_targets_per_status"`
}

// TenantUsage reports what a tenant consumes against its plan.
type TenantUsage struct {
	TenantID       string      `json:"tenant_id"`
	Plan           string      `json:"plan"`
	Limits         model.Quota `json:"limits"`
	Targets        int         `json:"targets"`
	Rollouts       int         `json:"rollouts"`
	ActiveRollouts int         `json:"active_rollouts"`
}
