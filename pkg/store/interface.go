// Package store defines the persistence interfaces for the rollout control
// plane. Implementations include an in-memory store (for dev/testing) and an
// etcd-backed store (for production).
//
// Every record except tenants is scoped by an explicit tenant id. Mutable
// records carry a revision: Update succeeds only when the caller's revision
// matches the stored one and increments it, otherwise it fails with
// model.ErrConflict.
package store

import (
	"context"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// TargetPredicate selects targets, usually a compiled filter query.
type TargetPredicate func(t *model.Target) bool

// TargetStore provides CRUD and filtered paging over Target records.
// Results are ordered by target id.
type TargetStore interface {
	List(ctx context.Context, tenant string, page model.Page) ([]model.Target, error)
	FindByFilter(ctx context.Context, tenant string, pred TargetPredicate, page model.Page) ([]model.Target, error)
	Count(ctx context.Context, tenant string) (int, error)
	Get(ctx context.Context, tenant, id string) (*model.Target, error)
	Create(ctx context.Context, tenant string, target *model.Target) error
	Update(ctx context.Context, tenant string, target *model.Target) error
	Delete(ctx context.Context, tenant, id string) error
}

// DistributionSetStore provides CRUD operations for DistributionSet records.
type DistributionSetStore interface {
	List(ctx context.Context, tenant string, page model.Page) ([]model.DistributionSet, error)
	Get(ctx context.Context, tenant, id string) (*model.DistributionSet, error)
	Create(ctx context.Context, tenant string, ds *model.DistributionSet) error
	Update(ctx context.Context, tenant string, ds *model.DistributionSet) error
	Delete(ctx context.Context, tenant, id string) error
}

// ActionQuery filters actions. Zero fields match everything.
type ActionQuery struct {
	TargetID          string
	DistributionSetID string
	RolloutID         string
	RolloutGroupID    string
	Statuses          []model.ActionStatusCode
	Active            *bool
}

// ActionStore provides access to Action records. Find results are ordered by
// creation time, then id.
type ActionStore interface {
	Get(ctx context.Context, tenant, id string) (*model.Action, error)
	Find(ctx context.Context, tenant string, q ActionQuery, page model.Page) ([]model.Action, error)
	Count(ctx context.Context, tenant string, q ActionQuery) (int, error)
	CountByStatus(ctx context.Context, tenant string, q ActionQuery) (map[model.ActionStatusCode]int, error)
	Create(ctx context.Context, tenant string, action *model.Action) error
	Update(ctx context.Context, tenant string, action *model.Action) error
	// UpdateStatusForIDs moves the listed actions that are still inactive
	// and in status from to status to, and returns the ids it changed.
	// Unknown ids and actions that have moved on are skipped.
	UpdateStatusForIDs(ctx context.Context, tenant string, ids []string, from, to model.ActionStatusCode) ([]string, error)
	Delete(ctx context.Context, tenant, id string) error
	// DeleteByTarget removes every action of a target together with its
	// status history and returns the number of removed actions.
	DeleteByTarget(ctx context.Context, tenant, targetID string) (int, error)
}

// ActionStatusStore is the append-only history of actions, ordered by
// occurrence.
type ActionStatusStore interface {
	Append(ctx context.Context, tenant string, status *model.ActionStatus) error
	List(ctx context.Context, tenant, actionID string) ([]model.ActionStatus, error)
}

// RolloutStore provides CRUD operations for Rollout records. Rollout names
// are unique per tenant.
type RolloutStore interface {
	List(ctx context.Context, tenant string, statuses ...model.RolloutStatus) ([]model.Rollout, error)
	Get(ctx context.Context, tenant, id string) (*model.Rollout, error)
	GetByName(ctx context.Context, tenant, name string) (*model.Rollout, error)
	Create(ctx context.Context, tenant string, rollout *model.Rollout) error
	Update(ctx context.Context, tenant string, rollout *model.Rollout) error
	Delete(ctx context.Context, tenant, id string) error
}

// RolloutGroupStore provides access to RolloutGroup records and their target
// membership. ListByRollout is ordered by group index, Targets by target id.
type RolloutGroupStore interface {
	ListByRollout(ctx context.Context, tenant, rolloutID string) ([]model.RolloutGroup, error)
	Get(ctx context.Context, tenant, id string) (*model.RolloutGroup, error)
	Create(ctx context.Context, tenant string, group *model.RolloutGroup) error
	Update(ctx context.Context, tenant string, group *model.RolloutGroup) error
	DeleteByRollout(ctx context.Context, tenant, rolloutID string) error

	AddTargets(ctx context.Context, tenant, groupID string, targetIDs []string) error
	Targets(ctx context.Context, tenant, groupID string, page model.Page) ([]string, error)
	CountTargets(ctx context.Context, tenant, groupID string) (int, error)
	// RemoveTarget drops the target from every group membership.
	RemoveTarget(ctx context.Context, tenant, targetID string) error
}

// TenantStore provides CRUD operations for Tenant records.
type TenantStore interface {
	List(ctx context.Context) ([]model.Tenant, error)
	Get(ctx context.Context, id string) (*model.Tenant, error)
	Create(ctx context.Context, tenant *model.Tenant) error
	Update(ctx context.Context, tenant *model.Tenant) error
	Delete(ctx context.Context, id string) error
}

// EventLogStore provides append and query operations for lifecycle events.
type EventLogStore interface {
	Append(ctx context.Context, event *model.Event) error
	// List returns the newest events of a tenant first.
	List(ctx context.Context, tenant string, limit int) ([]model.Event, error)
}

// Store aggregates all sub-stores into a single handle.
type Store interface {
	Targets() TargetStore
	DistributionSets() DistributionSetStore
	Actions() ActionStore
	ActionStatuses() ActionStatusStore
	Rollouts() RolloutStore
	RolloutGroups() RolloutGroupStore
	Tenants() TenantStore
	Events() EventLogStore
	Close() error
}
