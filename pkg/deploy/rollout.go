package deploy

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// ScheduleRolloutGroup creates inactive SCHEDULED actions for the listed
// members of a rollout group. Targets that no longer exist, and targets that
// already hold an action of this group, are skipped. Older never-started
// rollout actions on the same targets are canceled. It returns the number of
// actions created.
func (e *Engine) ScheduleRolloutGroup(ctx context.Context, tenant string, r *model.Rollout, groupID string, targetIDs []string) (int, error) {
	ds, err := e.store.DistributionSets().Get(ctx, tenant, r.DistributionSetID)
	if err != nil {
		return 0, err
	}
	if err := e.lockDistributionSet(ctx, tenant, ds); err != nil {
		return 0, err
	}

	created := 0
	err = store.ForEachBatch(targetIDs, e.batchSize, func(batch []string) error {
		for _, targetID := range batch {
			ok, err := e.scheduleMember(ctx, tenant, r, groupID, targetID)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	e.metrics.ActionsCreated(ModeRollout, created)
	return created, err
}

func (e *Engine) scheduleMember(ctx context.Context, tenant string, r *model.Rollout, groupID, targetID string) (bool, error) {
	defer e.lockTargets(tenant, targetID)()

	if _, err := e.store.Targets().Get(ctx, tenant, targetID); err != nil {
		if errors.Is(err, model.ErrEntityNotFound) {
			return false, nil
		}
		return false, err
	}
	existing, err := e.store.Actions().Count(ctx, tenant, store.ActionQuery{
		TargetID:       targetID,
		RolloutID:      r.ID,
		RolloutGroupID: groupID,
	})
	if err != nil {
		return false, err
	}
	if existing > 0 {
		return false, nil
	}
	if _, err := e.cancelInactiveScheduled(ctx, tenant, targetID, r.ID); err != nil {
		return false, err
	}

	actionType := r.ActionType
	if actionType == "" {
		actionType = model.ActionForced
	}
	now := e.now()
	action := &model.Action{
		ID:                newActionID(),
		TargetID:          targetID,
		DistributionSetID: r.DistributionSetID,
		Status:            model.StatusScheduled,
		Type:              actionType,
		ForcedTime:        r.ForcedTime,
		Weight:            r.Weight,
		InitiatedBy:       r.CreatedBy,
		RolloutID:         r.ID,
		RolloutGroupID:    groupID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.Actions().Create(ctx, tenant, action); err != nil {
		return false, err
	}
	if err := e.appendStatus(ctx, tenant, action.ID, model.StatusScheduled, "scheduled by rollout "+r.Name); err != nil {
		return false, err
	}
	return true, nil
}

// StartRolloutGroup activates the group's SCHEDULED actions. Each started
// action supersedes the target's other active actions like a manual
// assignment does. A member whose target is already at its active-action
// quota is not started; its action is canceled instead. It returns the
// number of started actions.
func (e *Engine) StartRolloutGroup(ctx context.Context, tenant, rolloutID, groupID string) (int, error) {
	t, err := e.Tenant(ctx, tenant)
	if err != nil {
		return 0, err
	}
	inactive := false
	scheduled, err := e.store.Actions().Find(ctx, tenant, store.ActionQuery{
		RolloutID:      rolloutID,
		RolloutGroupID: groupID,
		Statuses:       []model.ActionStatusCode{model.StatusScheduled},
		Active:         &inactive,
	}, model.Page{})
	if err != nil {
		return 0, err
	}

	started := 0
	err = store.ForEachBatch(scheduled, e.batchSize, func(batch []model.Action) error {
		for _, a := range batch {
			ok, err := e.startMember(ctx, t, a)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			started++
			e.emit(ctx, tenant, events.TargetAssigned, events.ResourceTarget, a.TargetID, "",
				map[string]string{"distribution_set": a.DistributionSetID, "rollout": rolloutID})
		}
		return nil
	})
	if err != nil {
		return started, err
	}
	e.logger.Debug("rollout group actions started",
		zap.String("tenant", tenant), zap.String("rollout", rolloutID),
		zap.String("group", groupID), zap.Int("started", started))
	return started, nil
}

func (e *Engine) startMember(ctx context.Context, t *model.Tenant, a model.Action) (bool, error) {
	tenant := t.ID
	defer e.lockTargets(tenant, a.TargetID)()

	active, err := e.activeActions(ctx, tenant, a.TargetID)
	if err != nil {
		return false, err
	}
	if qerr := Policy(t).CheckMaxActionsPerTarget(a.TargetID, len(active)+1); qerr != nil {
		n, err := e.cancelScheduled(ctx, tenant, []string{a.ID}, qerr.Error())
		if err != nil {
			return false, err
		}
		if n > 0 {
			e.logger.Warn("rollout action not started",
				zap.String("tenant", tenant), zap.String("rollout", a.RolloutID),
				zap.String("action", a.ID), zap.String("target", a.TargetID), zap.Error(qerr))
			e.emit(ctx, tenant, events.ActionCanceled, events.ResourceAction, a.ID, qerr.Error(), nil)
		}
		return false, nil
	}

	if err := e.supersede(ctx, tenant, t.Settings, a.TargetID, a.ID, "canceled by rollout start"); err != nil {
		return false, err
	}
	_, err = e.updateAction(ctx, tenant, a.ID, func(cur *model.Action) error {
		if cur.Status != model.StatusScheduled || cur.Active {
			return errUnchanged
		}
		cur.Status = model.StatusRunning
		cur.Active = true
		return nil
	})
	if errors.Is(err, errUnchanged) || errors.Is(err, model.ErrEntityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := e.appendStatus(ctx, tenant, a.ID, model.StatusRunning, "started by rollout"); err != nil {
		return false, err
	}
	if err := e.markAssigned(ctx, tenant, a.TargetID, a.DistributionSetID); err != nil && !errors.Is(err, model.ErrEntityNotFound) {
		return false, err
	}
	return true, nil
}

// CancelRolloutActions cancels the rollout's actions that never started
// and returns how many were canceled.
func (e *Engine) CancelRolloutActions(ctx context.Context, tenant, rolloutID, reason string) (int, error) {
	ids, err := e.scheduledRolloutActions(ctx, tenant, rolloutID)
	if err != nil {
		return 0, err
	}
	return e.cancelScheduled(ctx, tenant, ids, reason)
}

// RolloutActionsStarted reports whether any of the rollout's actions ever
// left SCHEDULED.
func (e *Engine) RolloutActionsStarted(ctx context.Context, tenant, rolloutID string) (bool, error) {
	total, err := e.store.Actions().Count(ctx, tenant, store.ActionQuery{RolloutID: rolloutID})
	if err != nil {
		return false, err
	}
	scheduled, err := e.store.Actions().Count(ctx, tenant, store.ActionQuery{
		RolloutID: rolloutID,
		Statuses:  []model.ActionStatusCode{model.StatusScheduled},
	})
	if err != nil {
		return false, err
	}
	return total > scheduled, nil
}

// DeleteRolloutActions removes every action of the rollout together with
// its history. Callers check RolloutActionsStarted first.
func (e *Engine) DeleteRolloutActions(ctx context.Context, tenant, rolloutID string) (int, error) {
	actions, err := e.store.Actions().Find(ctx, tenant, store.ActionQuery{RolloutID: rolloutID}, model.Page{})
	if err != nil {
		return 0, err
	}
	deleted := 0
	err = store.ForEachBatch(actions, e.batchSize, func(batch []model.Action) error {
		for _, a := range batch {
			if err := e.store.Actions().Delete(ctx, tenant, a.ID); err != nil && !errors.Is(err, model.ErrEntityNotFound) {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func (e *Engine) scheduledRolloutActions(ctx context.Context, tenant, rolloutID string) ([]string, error) {
	inactive := false
	actions, err := e.store.Actions().Find(ctx, tenant, store.ActionQuery{
		RolloutID: rolloutID,
		Statuses:  []model.ActionStatusCode{model.StatusScheduled},
		Active:    &inactive,
	}, model.Page{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	return ids, nil
}
