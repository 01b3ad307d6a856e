package rollout

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// Step names used for check metrics and logs.
const (
	StepCreating = "creating"
	StepReady    = "ready"
	StepStarting = "starting"
	StepRunning  = "running"
	StepStopping = "stopping"
	StepDeleting = "deleting"
)

// Check is one periodic pass over the rollouts of a tenant.
type Check func(ctx context.Context, tenant string, delay time.Duration) error

// Checks returns every pass in the order a control loop should run them.
func (s *Scheduler) Checks() []Check {
	return []Check{
		s.CheckCreating,
		s.CheckReady,
		s.CheckStarting,
		s.CheckRunning,
		s.CheckStopping,
		s.CheckDeleting,
	}
}

// CheckCreating fills the groups of CREATING rollouts.
func (s *Scheduler) CheckCreating(ctx context.Context, tenant string, delay time.Duration) error {
	return s.each(ctx, tenant, StepCreating, 0, model.RolloutCreating, func(ctx context.Context, r *model.Rollout) error {
		_, err := s.fill(ctx, tenant, r.ID)
		return err
	})
}

// CheckReady starts READY rollouts whose start time has passed.
func (s *Scheduler) CheckReady(ctx context.Context, tenant string, delay time.Duration) error {
	now := s.now()
	return s.each(ctx, tenant, StepReady, 0, model.RolloutReady, func(ctx context.Context, r *model.Rollout) error {
		if r.StartAt == nil || r.StartAt.After(now) {
			return nil
		}
		_, err := s.setStatus(ctx, tenant, r.ID, model.RolloutStarting, "")
		return err
	})
}

// CheckStarting schedules the actions of every group of STARTING rollouts,
// marks them RUNNING and activates the first non-empty group.
func (s *Scheduler) CheckStarting(ctx context.Context, tenant string, delay time.Duration) error {
	return s.each(ctx, tenant, StepStarting, 0, model.RolloutStarting, func(ctx context.Context, r *model.Rollout) error {
		groups, err := s.store.RolloutGroups().ListByRollout(ctx, tenant, r.ID)
		if err != nil {
			return err
		}
		for i := range groups {
			g := &groups[i]
			if g.Status != model.GroupReady {
				continue
			}
			members, err := s.groupMembers(ctx, tenant, g.ID)
			if err != nil {
				return err
			}
			if _, err := s.engine.ScheduleRolloutGroup(ctx, tenant, r, g.ID, members); err != nil {
				return err
			}
			updated, err := s.updateGroup(ctx, tenant, g.ID, func(g *model.RolloutGroup) {
				g.Status = model.GroupScheduled
			})
			if err != nil {
				return err
			}
			*g = *updated
		}
		r, err = s.updateRollout(ctx, tenant, r.ID, func(r *model.Rollout) error {
			r.Status = model.RolloutRunning
			r.LastCheck = nil
			return nil
		})
		if err != nil {
			return err
		}
		s.transitioned(ctx, tenant, r, events.RolloutStarted)
		return s.startNextGroup(ctx, tenant, r, groups, -1)
	})
}

// CheckRunning evaluates the running group of every RUNNING rollout whose
// last check is at least delay old. A group whose error share reaches its
// error threshold fails and pauses the rollout. A group whose resolved
// share reaches its success threshold finishes, and the next group starts
// or the rollout pauses, per the group's success action. A rollout left
// without running or scheduled groups finishes.
func (s *Scheduler) CheckRunning(ctx context.Context, tenant string, delay time.Duration) error {
	return s.each(ctx, tenant, StepRunning, delay, model.RolloutRunning, func(ctx context.Context, r *model.Rollout) error {
		if err := s.evaluate(ctx, tenant, r); err != nil {
			return err
		}
		_, err := s.updateRollout(ctx, tenant, r.ID, func(cur *model.Rollout) error {
			if cur.Status != model.RolloutRunning {
				return nil
			}
			now := s.now()
			cur.LastCheck = &now
			return nil
		})
		return err
	})
}

// CheckStopping cancels the never-started actions of STOPPING rollouts,
// closes their remaining groups and finishes them.
func (s *Scheduler) CheckStopping(ctx context.Context, tenant string, delay time.Duration) error {
	return s.each(ctx, tenant, StepStopping, 0, model.RolloutStopping, func(ctx context.Context, r *model.Rollout) error {
		if _, err := s.engine.CancelRolloutActions(ctx, tenant, r.ID, "rollout stopped"); err != nil {
			return err
		}
		if err := s.closeGroups(ctx, tenant, r.ID); err != nil {
			return err
		}
		_, err := s.setStatus(ctx, tenant, r.ID, model.RolloutFinished, events.RolloutStopped)
		return err
	})
}

// CheckDeleting removes DELETING rollouts. A rollout none of whose actions
// ever started is deleted together with its groups and actions. Otherwise
// its scheduled actions are canceled and it is kept as DELETED so the
// action history stays attributable.
func (s *Scheduler) CheckDeleting(ctx context.Context, tenant string, delay time.Duration) error {
	return s.each(ctx, tenant, StepDeleting, 0, model.RolloutDeleting, func(ctx context.Context, r *model.Rollout) error {
		started, err := s.engine.RolloutActionsStarted(ctx, tenant, r.ID)
		if err != nil {
			return err
		}
		if started {
			if _, err := s.engine.CancelRolloutActions(ctx, tenant, r.ID, "rollout deleted"); err != nil {
				return err
			}
			if err := s.closeGroups(ctx, tenant, r.ID); err != nil {
				return err
			}
			_, err := s.setStatus(ctx, tenant, r.ID, model.RolloutDeleted, events.RolloutDeleted)
			return err
		}

		if _, err := s.engine.DeleteRolloutActions(ctx, tenant, r.ID); err != nil {
			return err
		}
		if err := s.store.RolloutGroups().DeleteByRollout(ctx, tenant, r.ID); err != nil {
			return err
		}
		if err := s.store.Rollouts().Delete(ctx, tenant, r.ID); err != nil {
			return err
		}
		s.forget(tenant, r.ID)
		r.Status = model.RolloutDeleted
		s.transitioned(ctx, tenant, r, events.RolloutDeleted)
		return nil
	})
}

// each runs fn for every rollout of tenant in status, holding the rollout's
// lock and re-reading it first so a rollout that moved on is skipped.
// Rollouts checked less than delay ago are skipped too. A failing rollout
// is logged and does not stop the pass.
func (s *Scheduler) each(ctx context.Context, tenant, step string, delay time.Duration, status model.RolloutStatus, fn func(ctx context.Context, r *model.Rollout) error) error {
	start := time.Now()
	defer func() { s.metrics.ObserveCheck(step, time.Since(start)) }()

	rollouts, err := s.store.Rollouts().List(ctx, tenant, status)
	if err != nil {
		s.metrics.CheckError(step)
		return err
	}
	for _, listed := range rollouts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.checkOne(ctx, tenant, listed.ID, delay, status, fn); err != nil {
			s.metrics.CheckError(step)
			s.logger.Error("rollout check failed",
				zap.String("step", step), zap.String("tenant", tenant),
				zap.String("rollout", listed.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) checkOne(ctx context.Context, tenant, id string, delay time.Duration, status model.RolloutStatus, fn func(ctx context.Context, r *model.Rollout) error) error {
	defer s.lock(tenant, id)()
	r, err := s.store.Rollouts().Get(ctx, tenant, id)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if r.Status != status {
		return nil
	}
	if delay > 0 && r.LastCheck != nil && s.now().Sub(*r.LastCheck) < delay {
		return nil
	}
	return fn(ctx, r)
}

// evaluate applies the group conditions of a RUNNING rollout once.
func (s *Scheduler) evaluate(ctx context.Context, tenant string, r *model.Rollout) error {
	groups, err := s.store.RolloutGroups().ListByRollout(ctx, tenant, r.ID)
	if err != nil {
		return err
	}

	last := -1
	for i := range groups {
		g := &groups[i]
		if g.Status != model.GroupRunning {
			continue
		}
		done, err := s.evaluateGroup(ctx, tenant, r, g)
		if err != nil || !done {
			return err
		}
		last = g.Index
	}
	return s.startNextGroup(ctx, tenant, r, groups, last)
}

// evaluateGroup checks one RUNNING group. It reports true when the group
// finished and the caller should continue with the next group.
func (s *Scheduler) evaluateGroup(ctx context.Context, tenant string, r *model.Rollout, g *model.RolloutGroup) (bool, error) {
	c, err := s.groupCounts(ctx, tenant, r, g)
	if err != nil {
		return false, err
	}

	if cond := g.Conditions.Error; cond != nil && c.errored > 0 && c.percent(c.errored) >= cond.Threshold {
		updated, err := s.updateGroup(ctx, tenant, g.ID, func(g *model.RolloutGroup) {
			g.Status = model.GroupError
		})
		if err != nil {
			return false, err
		}
		s.groupEvent(ctx, tenant, updated, events.RolloutGroupError)
		s.logger.Warn("rollout group error threshold reached",
			zap.String("tenant", tenant), zap.String("rollout", r.ID), zap.String("group", g.ID),
			zap.Int("errored", c.errored), zap.Int("total", c.total))
		_, err = s.setStatus(ctx, tenant, r.ID, model.RolloutPaused, events.RolloutPaused)
		return false, err
	}

	if c.percent(c.resolved) < g.Conditions.Success.Threshold {
		return false, nil
	}
	updated, err := s.updateGroup(ctx, tenant, g.ID, func(g *model.RolloutGroup) {
		g.Status = model.GroupFinished
	})
	if err != nil {
		return false, err
	}
	s.groupEvent(ctx, tenant, updated, events.RolloutGroupFinished)
	if g.Conditions.Success.Action == model.GroupActionPause {
		_, err = s.setStatus(ctx, tenant, r.ID, model.RolloutPaused, events.RolloutPaused)
		return false, err
	}
	return true, nil
}

// startNextGroup activates the first SCHEDULED group after index after.
// Empty groups on the way are finished. With no group left the rollout
// finishes.
func (s *Scheduler) startNextGroup(ctx context.Context, tenant string, r *model.Rollout, groups []model.RolloutGroup, after int) error {
	for i := range groups {
		g := &groups[i]
		if g.Index <= after || g.Status != model.GroupScheduled {
			continue
		}
		cur, err := s.store.RolloutGroups().Get(ctx, tenant, g.ID)
		if err != nil {
			return err
		}
		if cur.Status != model.GroupScheduled {
			continue
		}
		if cur.TotalTargets == 0 {
			updated, err := s.updateGroup(ctx, tenant, g.ID, func(g *model.RolloutGroup) {
				g.Status = model.GroupFinished
			})
			if err != nil {
				return err
			}
			s.groupEvent(ctx, tenant, updated, events.RolloutGroupFinished)
			continue
		}
		if _, err := s.engine.StartRolloutGroup(ctx, tenant, r.ID, g.ID); err != nil {
			return err
		}
		updated, err := s.updateGroup(ctx, tenant, g.ID, func(g *model.RolloutGroup) {
			g.Status = model.GroupRunning
		})
		if err != nil {
			return err
		}
		s.groupEvent(ctx, tenant, updated, events.RolloutGroupStarted)
		return nil
	}

	current, err := s.store.RolloutGroups().ListByRollout(ctx, tenant, r.ID)
	if err != nil {
		return err
	}
	for _, g := range current {
		if g.Status == model.GroupRunning || g.Status == model.GroupScheduled {
			return nil
		}
	}
	_, err = s.setStatus(ctx, tenant, r.ID, model.RolloutFinished, events.RolloutFinished)
	return err
}

// closeGroups finishes every group that has not ended yet.
func (s *Scheduler) closeGroups(ctx context.Context, tenant, rolloutID string) error {
	groups, err := s.store.RolloutGroups().ListByRollout(ctx, tenant, rolloutID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.Status == model.GroupFinished || g.Status == model.GroupError {
			continue
		}
		if _, err := s.updateGroup(ctx, tenant, g.ID, func(g *model.RolloutGroup) {
			g.Status = model.GroupFinished
		}); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool { return errors.Is(err, model.ErrEntityNotFound) }
