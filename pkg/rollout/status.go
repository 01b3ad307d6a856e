package rollout

import (
	"context"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// TargetCounts buckets the targets of a rollout or group by the state of
// their rollout action. NotStarted covers members without an action,
// either because their group was never scheduled or because the target
// went away.
type TargetCounts struct {
	Running    int `json:"running"`
	Scheduled  int `json:"scheduled"`
	Finished   int `json:"finished"`
	Error      int `json:"error"`
	Canceled   int `json:"canceled"`
	NotStarted int `json:"notstarted"`
	Total      int `json:"total"`
}

// TotalTargetCountByStatus aggregates the action states of a rollout.
func (s *Scheduler) TotalTargetCountByStatus(ctx context.Context, tenant, rolloutID string) (*TargetCounts, error) {
	r, err := s.store.Rollouts().Get(ctx, tenant, rolloutID)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.store.Actions().CountByStatus(ctx, tenant, store.ActionQuery{RolloutID: r.ID})
	if err != nil {
		return nil, err
	}
	return bucket(byStatus, r.TotalTargets, r.ActionType), nil
}

// GroupTargetCountByStatus aggregates the action states of one group.
func (s *Scheduler) GroupTargetCountByStatus(ctx context.Context, tenant, groupID string) (*TargetCounts, error) {
	g, err := s.store.RolloutGroups().Get(ctx, tenant, groupID)
	if err != nil {
		return nil, err
	}
	r, err := s.store.Rollouts().Get(ctx, tenant, g.RolloutID)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.store.Actions().CountByStatus(ctx, tenant, store.ActionQuery{
		RolloutID:      r.ID,
		RolloutGroupID: g.ID,
	})
	if err != nil {
		return nil, err
	}
	return bucket(byStatus, g.TotalTargets, r.ActionType), nil
}

func bucket(byStatus map[model.ActionStatusCode]int, total int, actionType model.ActionType) *TargetCounts {
	c := &TargetCounts{Total: total}
	actions := 0
	for status, n := range byStatus {
		actions += n
		switch status {
		case model.StatusScheduled:
			c.Scheduled += n
		case model.StatusFinished:
			c.Finished += n
		case model.StatusDownloaded:
			if actionType == model.ActionDownloadOnly {
				c.Finished += n
			} else {
				c.Running += n
			}
		case model.StatusError:
			c.Error += n
		case model.StatusCanceled:
			c.Canceled += n
		default:
			c.Running += n
		}
	}
	c.NotStarted = max(total-actions, 0)
	return c
}

// counts is the snapshot a group's conditions are evaluated against.
type counts struct {
	total    int
	resolved int
	errored  int
}

// percent returns n as a share of the group. An empty group counts as
// fully resolved.
func (c counts) percent(n int) float64 {
	if c.total == 0 {
		return 100
	}
	return float64(n) * 100 / float64(c.total)
}

// groupCounts counts a group's members as resolved when their action
// finished, or was canceled in favour of another assignment, or when they
// no longer have an action because the target was deleted.
func (s *Scheduler) groupCounts(ctx context.Context, tenant string, r *model.Rollout, g *model.RolloutGroup) (counts, error) {
	byStatus, err := s.store.Actions().CountByStatus(ctx, tenant, store.ActionQuery{
		RolloutID:      r.ID,
		RolloutGroupID: g.ID,
	})
	if err != nil {
		return counts{}, err
	}
	actions := 0
	for _, n := range byStatus {
		actions += n
	}
	resolved := byStatus[model.StatusFinished] + byStatus[model.StatusCanceled] + byStatus[model.StatusCanceling]
	if r.ActionType == model.ActionDownloadOnly {
		resolved += byStatus[model.StatusDownloaded]
	}
	resolved += max(g.TotalTargets-actions, 0)
	return counts{total: g.TotalTargets, resolved: resolved, errored: byStatus[model.StatusError]}, nil
}
