package deploy

import (
	"context"
	"maps"

	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/filter"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// CreateTarget registers a target. New targets start UNKNOWN until their
// first poll.
func (e *Engine) CreateTarget(ctx context.Context, tenant string, t *model.Target) error {
	now := e.now()
	if t.UpdateStatus == "" {
		t.UpdateStatus = model.TargetUnknown
	}
	t.AssignedDS = ""
	t.InstalledDS = ""
	t.InstalledAt = nil
	t.CreatedAt = now
	t.UpdatedAt = now
	return e.store.Targets().Create(ctx, tenant, t)
}

// UpdateTarget changes a target's name, description and attributes. The
// update state is owned by the action lifecycle and is not touched.
func (e *Engine) UpdateTarget(ctx context.Context, tenant string, in *model.Target) (*model.Target, error) {
	return e.updateTarget(ctx, tenant, in.ID, func(t *model.Target) bool {
		if in.Name != "" {
			t.Name = in.Name
		}
		t.Description = in.Description
		if in.Attributes != nil {
			t.Attributes = maps.Clone(in.Attributes)
		}
		return true
	})
}

// GetTarget returns one target.
func (e *Engine) GetTarget(ctx context.Context, tenant, id string) (*model.Target, error) {
	return e.store.Targets().Get(ctx, tenant, id)
}

// FindTargets returns the targets matching a filter query, ordered by id.
func (e *Engine) FindTargets(ctx context.Context, tenant, query string, page model.Page) ([]model.Target, error) {
	pred, err := filter.Compile(query)
	if err != nil {
		return nil, err
	}
	return e.store.Targets().FindByFilter(ctx, tenant, pred.Matches, page)
}

// TargetActions returns a page of the target's actions, oldest first.
func (e *Engine) TargetActions(ctx context.Context, tenant, targetID string, activeOnly bool, page model.Page) ([]model.Action, error) {
	if _, err := e.store.Targets().Get(ctx, tenant, targetID); err != nil {
		return nil, err
	}
	q := store.ActionQuery{TargetID: targetID}
	if activeOnly {
		active := true
		q.Active = &active
	}
	return e.store.Actions().Find(ctx, tenant, q, page)
}

// DeleteTarget removes a target with its actions, their history and its
// rollout group memberships.
func (e *Engine) DeleteTarget(ctx context.Context, tenant, id string) error {
	if _, err := e.store.Targets().Get(ctx, tenant, id); err != nil {
		return err
	}
	removed, err := e.store.Actions().DeleteByTarget(ctx, tenant, id)
	if err != nil {
		return err
	}
	if err := e.store.RolloutGroups().RemoveTarget(ctx, tenant, id); err != nil {
		return err
	}
	if err := e.store.Targets().Delete(ctx, tenant, id); err != nil {
		return err
	}
	e.logger.Info("target deleted",
		zap.String("tenant", tenant), zap.String("target", id), zap.Int("actions", removed))
	e.emit(ctx, tenant, events.TargetDeleted, events.ResourceTarget, id, "", nil)
	return nil
}
