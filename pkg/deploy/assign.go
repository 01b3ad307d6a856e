package deploy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/quota"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// AssignRequest asks for one distribution set to be deployed to one target.
type AssignRequest struct {
	TargetID          string           `json:"target_id"`
	DistributionSetID string           `json:"distribution_set_id"`
	Type              model.ActionType `json:"type,omitempty"`
	ForcedTime        *time.Time       `json:"forced_time,omitempty"`
	Weight            *int             `json:"weight,omitempty"`
}

// AssignmentResult reports the outcome of an assignment request.
// Total is always Assigned + AlreadyAssigned.
type AssignmentResult struct {
	Total           int            `json:"total"`
	Assigned        int            `json:"assigned"`
	AlreadyAssigned int            `json:"already_assigned"`
	AssignedActions []model.Action `json:"assigned_actions"`
}

// errUnchanged aborts an update that turned out to be a no-op.
var errUnchanged = errors.New("unchanged")

// assignment is a validated request ready for execution.
type assignment struct {
	tenant  *model.Tenant
	pairs   []AssignRequest
	sets    map[string]*model.DistributionSet
	targets map[string]*model.Target
	// active is the pre-request snapshot of active actions per target.
	active map[string][]model.Action
}

// alreadyAssigned reports whether the target had an active, non-canceling
// action for the pair's distribution set before the request.
func (a *assignment) alreadyAssigned(p AssignRequest) bool {
	for _, act := range a.active[p.TargetID] {
		if act.DistributionSetID == p.DistributionSetID && !act.IsCancelingOrCanceled() {
			return true
		}
	}
	return false
}

// Assign creates RUNNING actions for the requested pairs. The whole request
// is validated, including quotas, before anything is written. Outside
// multi-assignment mode the target's other active actions are cancelled, or
// closed immediately when the tenant auto-closes actions.
//
// The requested targets stay locked from validation to the last write, so
// concurrent requests for the same target see each other's actions.
func (e *Engine) Assign(ctx context.Context, tenant, initiatedBy string, reqs []AssignRequest) (*AssignmentResult, error) {
	defer e.lockTargets(tenant, requestedTargets(reqs)...)()

	a, err := e.prepare(ctx, tenant, reqs, false)
	if err != nil {
		return nil, err
	}
	settings := a.tenant.Settings
	result := &AssignmentResult{AssignedActions: []model.Action{}}

	for _, ds := range a.sets {
		if err := e.lockDistributionSet(ctx, tenant, ds); err != nil {
			return nil, err
		}
	}

	err = store.ForEachBatch(a.pairs, e.batchSize, func(batch []AssignRequest) error {
		for _, p := range batch {
			if a.alreadyAssigned(p) {
				result.AlreadyAssigned++
				continue
			}
			if err := e.supersede(ctx, tenant, settings, p.TargetID, "", "canceled by new assignment"); err != nil {
				return err
			}
			if _, err := e.cancelInactiveScheduled(ctx, tenant, p.TargetID, ""); err != nil {
				return err
			}
			action, err := e.createAction(ctx, tenant, initiatedBy, p, model.StatusRunning, true)
			if err != nil {
				return err
			}
			if err := e.markAssigned(ctx, tenant, p.TargetID, p.DistributionSetID); err != nil {
				return err
			}
			result.Assigned++
			result.AssignedActions = append(result.AssignedActions, *action)
			e.emit(ctx, tenant, events.ActionCreated, events.ResourceAction, action.ID, "",
				map[string]string{"target": p.TargetID, "distribution_set": p.DistributionSetID})
			e.emit(ctx, tenant, events.TargetAssigned, events.ResourceTarget, p.TargetID, "",
				map[string]string{"distribution_set": p.DistributionSetID})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Total = result.Assigned + result.AlreadyAssigned
	e.metrics.ActionsCreated(ModeOnline, result.Assigned)
	e.logger.Info("assigned distribution sets",
		zap.String("tenant", tenant),
		zap.Int("assigned", result.Assigned),
		zap.Int("already_assigned", result.AlreadyAssigned))
	return result, nil
}

// OfflineAssign records installations that happened out of band. Actions
// are created FINISHED and inactive, and the targets' installed and assigned
// sets are updated at once. Targets with an active action, or that already
// have the set installed, are reported as already assigned.
func (e *Engine) OfflineAssign(ctx context.Context, tenant, initiatedBy string, reqs []AssignRequest) (*AssignmentResult, error) {
	defer e.lockTargets(tenant, requestedTargets(reqs)...)()

	a, err := e.prepare(ctx, tenant, reqs, true)
	if err != nil {
		return nil, err
	}
	result := &AssignmentResult{AssignedActions: []model.Action{}}

	for _, ds := range a.sets {
		if err := e.lockDistributionSet(ctx, tenant, ds); err != nil {
			return nil, err
		}
	}

	done := make(map[string]bool)
	err = store.ForEachBatch(a.pairs, e.batchSize, func(batch []AssignRequest) error {
		for _, p := range batch {
			t := a.targets[p.TargetID]
			if len(a.active[p.TargetID]) > 0 || t.InstalledDS == p.DistributionSetID || done[p.TargetID+"\x00"+p.DistributionSetID] {
				result.AlreadyAssigned++
				continue
			}
			action, err := e.createAction(ctx, tenant, initiatedBy, p, model.StatusFinished, false)
			if err != nil {
				return err
			}
			now := e.now()
			if _, err := e.updateTarget(ctx, tenant, p.TargetID, func(t *model.Target) bool {
				t.InstalledDS = p.DistributionSetID
				t.AssignedDS = p.DistributionSetID
				t.InstalledAt = &now
				t.UpdateStatus = model.TargetInSync
				return true
			}); err != nil {
				return err
			}
			done[p.TargetID+"\x00"+p.DistributionSetID] = true
			result.Assigned++
			result.AssignedActions = append(result.AssignedActions, *action)
			e.emit(ctx, tenant, events.TargetUpdated, events.ResourceTarget, p.TargetID, "installed offline",
				map[string]string{"distribution_set": p.DistributionSetID})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Total = result.Assigned + result.AlreadyAssigned
	e.metrics.ActionsCreated(ModeOffline, result.Assigned)
	return result, nil
}

// prepare validates a request and takes the quota snapshot. Nothing is
// written.
func (e *Engine) prepare(ctx context.Context, tenant string, reqs []AssignRequest, offline bool) (*assignment, error) {
	t, err := e.Tenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	multi := t.Settings.MultiAssignment

	reqs, err = normalize(reqs, multi, offline)
	if err != nil {
		return nil, err
	}

	a := &assignment{
		tenant:  t,
		sets:    make(map[string]*model.DistributionSet),
		targets: make(map[string]*model.Target),
		active:  make(map[string][]model.Action),
	}
	for _, r := range reqs {
		if _, ok := a.sets[r.DistributionSetID]; ok {
			continue
		}
		ds, err := e.AssignableDistributionSet(ctx, tenant, r.DistributionSetID)
		if err != nil {
			return nil, err
		}
		a.sets[r.DistributionSetID] = ds
	}

	unknown := make(map[string]bool)
	for _, r := range reqs {
		if _, ok := a.targets[r.TargetID]; ok || unknown[r.TargetID] {
			continue
		}
		target, err := e.store.Targets().Get(ctx, tenant, r.TargetID)
		if errors.Is(err, model.ErrEntityNotFound) {
			unknown[r.TargetID] = true
			continue
		}
		if err != nil {
			return nil, err
		}
		a.targets[r.TargetID] = target
	}
	for _, r := range reqs {
		if !unknown[r.TargetID] {
			a.pairs = append(a.pairs, r)
		}
	}

	policy := Policy(t)
	if err := policy.CheckMaxAssignmentsPerRequest(len(a.pairs)); err != nil {
		return nil, err
	}

	for id := range a.targets {
		active, err := e.activeActions(ctx, tenant, id)
		if err != nil {
			return nil, err
		}
		a.active[id] = active
	}
	if offline {
		return a, nil
	}

	created := make(map[string]int)
	for _, p := range a.pairs {
		if !a.alreadyAssigned(p) {
			created[p.TargetID]++
		}
	}
	ids := make([]string, 0, len(created))
	for id := range created {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := policy.CheckMaxActionsPerTarget(id, len(a.active[id])+created[id]); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func requestedTargets(reqs []AssignRequest) []string {
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.TargetID
	}
	return ids
}

// normalize applies defaults and the multi-assignment rules to a request.
func normalize(reqs []AssignRequest, multi, offline bool) ([]AssignRequest, error) {
	out := make([]AssignRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.Type == "" {
			r.Type = model.ActionForced
		}
		if !r.Type.Valid() {
			return nil, fmt.Errorf("action type %q: %w", r.Type, model.ErrInvalidActionType)
		}
		if r.Type == model.ActionTimeForced && r.ForcedTime == nil {
			return nil, fmt.Errorf("TIMEFORCED assignment of %q needs a forced time: %w", r.TargetID, model.ErrInvalidActionType)
		}
		if r.Type != model.ActionTimeForced {
			r.ForcedTime = nil
		}
		switch {
		case !multi && r.Weight != nil:
			return nil, fmt.Errorf("weight given for target %q: %w", r.TargetID, model.ErrMultiAssignmentNotEnabled)
		case multi && r.Weight == nil && !offline:
			return nil, fmt.Errorf("weight required for target %q: %w", r.TargetID, model.ErrInvalidWeight)
		case r.Weight != nil:
			if err := quota.ValidateWeight(*r.Weight); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	if multi {
		return out, nil
	}

	// Collapse duplicate pairs, keeping the first position and the last
	// values, then allow one distribution set per target.
	type pair struct{ target, ds string }
	pos := make(map[pair]int)
	collapsed := out[:0:0]
	for _, r := range out {
		k := pair{r.TargetID, r.DistributionSetID}
		if i, ok := pos[k]; ok {
			collapsed[i] = r
			continue
		}
		pos[k] = len(collapsed)
		collapsed = append(collapsed, r)
	}
	perTarget := make(map[string]string)
	for _, r := range collapsed {
		if ds, ok := perTarget[r.TargetID]; ok && ds != r.DistributionSetID {
			return nil, fmt.Errorf("target %q requested with %q and %q: %w",
				r.TargetID, ds, r.DistributionSetID, model.ErrMultiAssignmentNotEnabled)
		}
		perTarget[r.TargetID] = r.DistributionSetID
	}
	return collapsed, nil
}

// createAction writes a new action and its first history entry.
func (e *Engine) createAction(ctx context.Context, tenant, initiatedBy string, p AssignRequest, status model.ActionStatusCode, active bool) (*model.Action, error) {
	now := e.now()
	action := &model.Action{
		ID:                newActionID(),
		TargetID:          p.TargetID,
		DistributionSetID: p.DistributionSetID,
		Status:            status,
		Type:              p.Type,
		ForcedTime:        p.ForcedTime,
		Weight:            p.Weight,
		Active:            active,
		InitiatedBy:       initiatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.Actions().Create(ctx, tenant, action); err != nil {
		return nil, err
	}
	msg := "assignment initiated by " + initiatedBy
	if status == model.StatusFinished {
		msg = "installation reported offline by " + initiatedBy
	}
	if err := e.appendStatus(ctx, tenant, action.ID, status, msg); err != nil {
		return nil, err
	}
	return action, nil
}

// markAssigned points the target at a newly assigned distribution set.
func (e *Engine) markAssigned(ctx context.Context, tenant, targetID, dsID string) error {
	_, err := e.updateTarget(ctx, tenant, targetID, func(t *model.Target) bool {
		t.AssignedDS = dsID
		t.UpdateStatus = model.TargetPending
		return true
	})
	return err
}

// supersede cancels the target's active actions other than keepID, unless
// multi-assignment is enabled. Actions are soft-cancelled (CANCELING), or
// closed (CANCELED) at once when the tenant auto-closes actions.
func (e *Engine) supersede(ctx context.Context, tenant string, settings model.TenantSettings, targetID, keepID, reason string) error {
	if settings.MultiAssignment {
		return nil
	}
	actions, err := e.activeActions(ctx, tenant, targetID)
	if err != nil {
		return err
	}
	for _, act := range actions {
		if act.ID == keepID {
			continue
		}
		if settings.AutoCloseActions {
			_, err := e.updateAction(ctx, tenant, act.ID, func(a *model.Action) error {
				if !a.Active {
					return errUnchanged
				}
				a.Status = model.StatusCanceled
				a.Active = false
				return nil
			})
			if errors.Is(err, errUnchanged) {
				continue
			}
			if err != nil {
				return err
			}
			if err := e.appendStatus(ctx, tenant, act.ID, model.StatusCanceled, reason); err != nil {
				return err
			}
			e.emit(ctx, tenant, events.ActionCanceled, events.ResourceAction, act.ID, reason, nil)
			continue
		}
		_, err := e.updateAction(ctx, tenant, act.ID, func(a *model.Action) error {
			if !a.Active || a.Status == model.StatusCanceling {
				return errUnchanged
			}
			a.Status = model.StatusCanceling
			return nil
		})
		if errors.Is(err, errUnchanged) {
			continue
		}
		if err != nil {
			return err
		}
		if err := e.appendStatus(ctx, tenant, act.ID, model.StatusCanceling, reason); err != nil {
			return err
		}
		e.emit(ctx, tenant, events.ActionCancelRequest, events.ResourceAction, act.ID, reason, nil)
	}
	return nil
}

// cancelInactiveScheduled cancels the target's rollout actions that were
// scheduled but never started, except those of keepRolloutID.
func (e *Engine) cancelInactiveScheduled(ctx context.Context, tenant, targetID, keepRolloutID string) (int, error) {
	inactive := false
	scheduled, err := e.store.Actions().Find(ctx, tenant, store.ActionQuery{
		TargetID: targetID,
		Statuses: []model.ActionStatusCode{model.StatusScheduled},
		Active:   &inactive,
	}, model.Page{})
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(scheduled))
	for _, a := range scheduled {
		if keepRolloutID != "" && a.RolloutID == keepRolloutID {
			continue
		}
		ids = append(ids, a.ID)
	}
	return e.cancelScheduled(ctx, tenant, ids, "superseded by a newer assignment")
}

// cancelScheduled bulk-cancels never-started actions and records why.
// Actions that were started or closed meanwhile are left alone.
func (e *Engine) cancelScheduled(ctx context.Context, tenant string, ids []string, reason string) (int, error) {
	total := 0
	err := store.ForEachBatch(ids, e.batchSize, func(batch []string) error {
		changed, err := e.store.Actions().UpdateStatusForIDs(ctx, tenant, batch, model.StatusScheduled, model.StatusCanceled)
		if err != nil {
			return err
		}
		total += len(changed)
		for _, id := range changed {
			if err := e.appendStatus(ctx, tenant, id, model.StatusCanceled, reason); err != nil {
				return err
			}
		}
		return nil
	})
	return total, err
}
