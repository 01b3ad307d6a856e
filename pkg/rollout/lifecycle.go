package rollout

import (
	"context"
	"slices"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// Approve records the approval decision on a rollout WAITING_FOR_APPROVAL.
// An approved rollout becomes READY. A denied one becomes APPROVAL_DENIED
// and can only be deleted.
func (s *Scheduler) Approve(ctx context.Context, tenant, rolloutID string, approved bool, decidedBy, remark string) (*model.Rollout, error) {
	defer s.lock(tenant, rolloutID)()
	to, eventType := model.RolloutReady, events.RolloutApproved
	if !approved {
		to, eventType = model.RolloutApprovalDenied, events.RolloutDenied
	}
	r, err := s.updateRollout(ctx, tenant, rolloutID, func(r *model.Rollout) error {
		if r.Status != model.RolloutWaitingForApproval {
			return model.IllegalState(r.ID, r.Status, "approve")
		}
		r.Status = to
		r.ApprovalDecidedBy = decidedBy
		r.ApprovalRemark = remark
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, tenant, r, eventType)
	return r, nil
}

// Start requests the start of a READY rollout. The rollout becomes
// STARTING; CheckStarting schedules the actions and runs the first group.
func (s *Scheduler) Start(ctx context.Context, tenant, rolloutID string) (*model.Rollout, error) {
	return s.transition(ctx, tenant, rolloutID, "start", model.RolloutStarting, "",
		model.RolloutReady)
}

// Pause stops group advancement of a RUNNING rollout. Running actions are
// left alone.
func (s *Scheduler) Pause(ctx context.Context, tenant, rolloutID string) (*model.Rollout, error) {
	return s.transition(ctx, tenant, rolloutID, "pause", model.RolloutPaused, events.RolloutPaused,
		model.RolloutRunning)
}

// Resume continues a PAUSED rollout. The next CheckRunning pass picks up
// advancement where it stopped.
func (s *Scheduler) Resume(ctx context.Context, tenant, rolloutID string) (*model.Rollout, error) {
	return s.transition(ctx, tenant, rolloutID, "resume", model.RolloutRunning, events.RolloutResumed,
		model.RolloutPaused)
}

// Stop requests that a rollout ends early. CheckStopping cancels the
// actions that never started and finishes the rollout.
func (s *Scheduler) Stop(ctx context.Context, tenant, rolloutID string) (*model.Rollout, error) {
	return s.transition(ctx, tenant, rolloutID, "stop", model.RolloutStopping, "",
		model.RolloutWaitingForApproval, model.RolloutReady, model.RolloutStarting, model.RolloutRunning, model.RolloutPaused)
}

// Delete requests removal of a rollout. CheckDeleting removes it outright
// when none of its actions ever started, and otherwise marks it DELETED.
func (s *Scheduler) Delete(ctx context.Context, tenant, rolloutID string) (*model.Rollout, error) {
	return s.transition(ctx, tenant, rolloutID, "delete", model.RolloutDeleting, "",
		model.RolloutCreating, model.RolloutWaitingForApproval, model.RolloutApprovalDenied,
		model.RolloutReady, model.RolloutStarting, model.RolloutRunning,
		model.RolloutPaused, model.RolloutStopping, model.RolloutFinished)
}

func (s *Scheduler) transition(ctx context.Context, tenant, rolloutID, op string, to model.RolloutStatus, eventType string, from ...model.RolloutStatus) (*model.Rollout, error) {
	defer s.lock(tenant, rolloutID)()
	r, err := s.updateRollout(ctx, tenant, rolloutID, func(r *model.Rollout) error {
		if !slices.Contains(from, r.Status) {
			return model.IllegalState(r.ID, r.Status, op)
		}
		r.Status = to
		if to == model.RolloutRunning {
			r.LastCheck = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, tenant, r, eventType)
	return r, nil
}

// Get returns one rollout.
func (s *Scheduler) Get(ctx context.Context, tenant, rolloutID string) (*model.Rollout, error) {
	return s.store.Rollouts().Get(ctx, tenant, rolloutID)
}

// List returns the tenant's rollouts, optionally restricted to statuses.
func (s *Scheduler) List(ctx context.Context, tenant string, statuses ...model.RolloutStatus) ([]model.Rollout, error) {
	return s.store.Rollouts().List(ctx, tenant, statuses...)
}

// Groups returns the groups of a rollout in advancement order.
func (s *Scheduler) Groups(ctx context.Context, tenant, rolloutID string) ([]model.RolloutGroup, error) {
	if _, err := s.store.Rollouts().Get(ctx, tenant, rolloutID); err != nil {
		return nil, err
	}
	return s.store.RolloutGroups().ListByRollout(ctx, tenant, rolloutID)
}

// GroupTargets returns a page of a group's member target ids.
func (s *Scheduler) GroupTargets(ctx context.Context, tenant, groupID string, page model.Page) ([]string, error) {
	if _, err := s.store.RolloutGroups().Get(ctx, tenant, groupID); err != nil {
		return nil, err
	}
	return s.store.RolloutGroups().Targets(ctx, tenant, groupID, page)
}
