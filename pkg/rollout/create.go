package rollout

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/filter"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/quota"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// GroupDefinition describes one explicitly defined group. The group takes
// TargetPercentage of the targets not yet claimed by earlier groups,
// restricted to TargetFilter when set.
type GroupDefinition struct {
	Name             string                 `json:"name,omitempty"`
	TargetPercentage float64                `json:"target_percentage"`
	TargetFilter     string                 `json:"target_filter,omitempty"`
	Conditions       *model.GroupConditions `json:"conditions,omitempty"`
}

// CreateRequest describes a new rollout. Exactly one of Groups and
// GroupDefinitions must be set.
type CreateRequest struct {
	Name              string                 `json:"name"`
	Description       string                 `json:"description,omitempty"`
	DistributionSetID string                 `json:"distribution_set_id"`
	TargetFilter      string                 `json:"target_filter"`
	ActionType        model.ActionType       `json:"action_type,omitempty"`
	ForcedTime        *time.Time             `json:"forced_time,omitempty"`
	Weight            *int                   `json:"weight,omitempty"`
	StartAt           *time.Time             `json:"start_at,omitempty"`
	Groups            int                    `json:"groups,omitempty"`
	GroupDefinitions  []GroupDefinition      `json:"group_definitions,omitempty"`
	Conditions        *model.GroupConditions `json:"conditions,omitempty"`
	CreatedBy         string                 `json:"created_by,omitempty"`
}

// Create validates a rollout definition against the current target
// population and stores it CREATING together with its groups. Membership
// is materialised later by Fill.
func (s *Scheduler) Create(ctx context.Context, tenant string, req CreateRequest) (*model.Rollout, error) {
	t, err := s.engine.Tenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, model.Verification("rollout name is required")
	}
	if _, err := s.engine.AssignableDistributionSet(ctx, tenant, req.DistributionSetID); err != nil {
		return nil, err
	}
	if err := validateAction(&req, t.Settings.MultiAssignment); err != nil {
		return nil, err
	}
	defaults := model.DefaultGroupConditions()
	if req.Conditions != nil {
		defaults = *req.Conditions
	}
	if err := validateConditions(defaults); err != nil {
		return nil, err
	}

	groups, err := planGroups(req, defaults)
	if err != nil {
		return nil, err
	}
	policy := deploy.Policy(t)
	if err := policy.CheckMaxRolloutGroups(len(groups)); err != nil {
		return nil, err
	}

	matched, err := s.matchTargets(ctx, tenant, req.TargetFilter)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, model.Verification("target filter %q matches no targets", req.TargetFilter)
	}
	parts, left, err := partition(matched, groups)
	if err != nil {
		return nil, err
	}
	if left > 0 {
		return nil, model.Verification("%d matched targets are not covered by any group", left)
	}
	for i, p := range parts {
		if err := policy.CheckMaxTargetsPerRolloutGroup(groups[i].Name, len(p)); err != nil {
			return nil, err
		}
	}

	now := s.now()
	r := &model.Rollout{
		ID:                uuid.NewString(),
		Name:              req.Name,
		Description:       req.Description,
		DistributionSetID: req.DistributionSetID,
		TargetFilter:      req.TargetFilter,
		ActionType:        req.ActionType,
		ForcedTime:        req.ForcedTime,
		Weight:            req.Weight,
		StartAt:           req.StartAt,
		Status:            model.RolloutCreating,
		CreatedBy:         req.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Rollouts().Create(ctx, tenant, r); err != nil {
		return nil, err
	}
	for i := range groups {
		g := &groups[i]
		g.ID = uuid.NewString()
		g.RolloutID = r.ID
		g.Status = model.GroupCreating
		g.CreatedAt = now
		g.UpdatedAt = now
		if err := s.store.RolloutGroups().Create(ctx, tenant, g); err != nil {
			return nil, err
		}
	}
	s.transitioned(ctx, tenant, r, events.RolloutCreated)
	return r, nil
}

// Fill materialises the group membership of a CREATING rollout by
// evaluating its filter once, then marks the groups READY and the rollout
// READY, or WAITING_FOR_APPROVAL when the tenant requires approval. Groups
// that receive no targets are legal. Create already verified that the
// groups cover the matched population, so a matching target no group claims
// was registered or changed afterwards; it stays out of the rollout, and the
// rollout total is the sum of its groups.
func (s *Scheduler) Fill(ctx context.Context, tenant, rolloutID string) (*model.Rollout, error) {
	defer s.lock(tenant, rolloutID)()
	return s.fill(ctx, tenant, rolloutID)
}

func (s *Scheduler) fill(ctx context.Context, tenant, rolloutID string) (*model.Rollout, error) {
	r, err := s.store.Rollouts().Get(ctx, tenant, rolloutID)
	if err != nil {
		return nil, err
	}
	if r.Status != model.RolloutCreating {
		return nil, model.IllegalState(r.ID, r.Status, "fill groups")
	}
	groups, err := s.store.RolloutGroups().ListByRollout(ctx, tenant, rolloutID)
	if err != nil {
		return nil, err
	}
	matched, err := s.matchTargets(ctx, tenant, r.TargetFilter)
	if err != nil {
		return nil, err
	}
	parts, left, err := partition(matched, groups)
	if err != nil {
		return nil, err
	}
	if left > 0 {
		s.logger.Warn("targets registered after creation left out of every group",
			zap.String("tenant", tenant), zap.String("rollout", r.ID), zap.Int("targets", left))
	}

	total := 0
	for i, g := range groups {
		ids := parts[i]
		err := store.ForEachBatch(ids, s.batchSize, func(batch []string) error {
			return s.store.RolloutGroups().AddTargets(ctx, tenant, g.ID, batch)
		})
		if err != nil {
			return nil, err
		}
		if _, err := s.updateGroup(ctx, tenant, g.ID, func(g *model.RolloutGroup) {
			g.TotalTargets = len(ids)
			g.Status = model.GroupReady
		}); err != nil {
			return nil, err
		}
		total += len(ids)
	}

	t, err := s.engine.Tenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	next, eventType := model.RolloutReady, events.RolloutReady
	if t.Settings.ApprovalRequired {
		next, eventType = model.RolloutWaitingForApproval, events.RolloutApproval
	}
	r, err = s.updateRollout(ctx, tenant, rolloutID, func(r *model.Rollout) error {
		r.TotalTargets = total
		r.Status = next
		r.LastCheck = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, tenant, r, eventType)
	return r, nil
}

// matchTargets returns the targets selected by query in id order.
func (s *Scheduler) matchTargets(ctx context.Context, tenant, query string) ([]model.Target, error) {
	pred, err := filter.Compile(query)
	if err != nil {
		return nil, err
	}
	var out []model.Target
	err = store.PageThrough(ctx, s.batchSize, func(ctx context.Context, p model.Page) ([]model.Target, error) {
		return s.store.Targets().FindByFilter(ctx, tenant, pred.Matches, p)
	}, func(items []model.Target) error {
		out = append(out, items...)
		return nil
	})
	return out, err
}

func validateAction(req *CreateRequest, multi bool) error {
	if req.ActionType == "" {
		req.ActionType = model.ActionForced
	}
	if !req.ActionType.Valid() {
		return fmt.Errorf("action type %q: %w", req.ActionType, model.ErrInvalidActionType)
	}
	if req.ActionType == model.ActionTimeForced && req.ForcedTime == nil {
		return fmt.Errorf("TIMEFORCED rollout needs a forced time: %w", model.ErrInvalidActionType)
	}
	switch {
	case !multi && req.Weight != nil:
		return fmt.Errorf("rollout weight: %w", model.ErrMultiAssignmentNotEnabled)
	case multi && req.Weight == nil:
		return fmt.Errorf("rollout weight required: %w", model.ErrInvalidWeight)
	case req.Weight != nil:
		return quota.ValidateWeight(*req.Weight)
	}
	return nil
}

func validateConditions(c model.GroupConditions) error {
	if c.Success.Threshold < 0 || c.Success.Threshold > 100 {
		return model.Verification("success threshold %v outside [0, 100]", c.Success.Threshold)
	}
	switch c.Success.Action {
	case "", model.GroupActionNextGroup, model.GroupActionPause:
	default:
		return model.Verification("unknown success action %q", c.Success.Action)
	}
	if c.Error != nil {
		if c.Error.Threshold < 0 || c.Error.Threshold > 100 {
			return model.Verification("error threshold %v outside [0, 100]", c.Error.Threshold)
		}
		switch c.Error.Action {
		case "", model.GroupActionPause:
		default:
			return model.Verification("unknown error action %q", c.Error.Action)
		}
	}
	return nil
}

// planGroups turns a request into unsaved groups. A group count becomes n
// groups where group i takes 100/(n-i) percent of the remaining targets,
// which splits the population evenly and lets the last group take the rest.
func planGroups(req CreateRequest, defaults model.GroupConditions) ([]model.RolloutGroup, error) {
	switch {
	case req.Groups > 0 && len(req.GroupDefinitions) > 0:
		return nil, model.Verification("either a group count or group definitions, not both")
	case req.Groups > 0:
		groups := make([]model.RolloutGroup, req.Groups)
		for i := range groups {
			groups[i] = model.RolloutGroup{
				Index:            i,
				Name:             fmt.Sprintf("group-%d", i+1),
				TargetPercentage: 100 / float64(req.Groups-i),
				Conditions:       defaults,
			}
		}
		return groups, nil
	case len(req.GroupDefinitions) > 0:
		groups := make([]model.RolloutGroup, len(req.GroupDefinitions))
		for i, d := range req.GroupDefinitions {
			if d.TargetPercentage <= 0 || d.TargetPercentage > 100 {
				return nil, model.Verification("group %d: target percentage %v outside (0, 100]", i+1, d.TargetPercentage)
			}
			if d.TargetFilter != "" {
				if err := filter.Validate(d.TargetFilter); err != nil {
					return nil, fmt.Errorf("group %d: %w", i+1, err)
				}
			}
			cond := defaults
			if d.Conditions != nil {
				if err := validateConditions(*d.Conditions); err != nil {
					return nil, err
				}
				cond = *d.Conditions
			}
			name := d.Name
			if name == "" {
				name = fmt.Sprintf("group-%d", i+1)
			}
			groups[i] = model.RolloutGroup{
				Index:            i,
				Name:             name,
				TargetPercentage: d.TargetPercentage,
				TargetFilter:     d.TargetFilter,
				Conditions:       cond,
			}
		}
		return groups, nil
	}
	return nil, model.Verification("a rollout needs at least one group")
}

// partition distributes targets, already in a stable order, over groups.
// Each group takes round(percentage * pool / 100) of the targets still
// unclaimed, where the pool is narrowed by the group's filter. It returns
// the member ids per group and how many targets no group claimed.
func partition(targets []model.Target, groups []model.RolloutGroup) ([][]string, int, error) {
	remaining := make([]*model.Target, len(targets))
	for i := range targets {
		remaining[i] = &targets[i]
	}
	parts := make([][]string, len(groups))
	for i, g := range groups {
		pred, err := filter.Compile(g.TargetFilter)
		if err != nil {
			return nil, 0, err
		}
		var pool []int
		for j, t := range remaining {
			if pred.Matches(t) {
				pool = append(pool, j)
			}
		}
		n := int(math.Round(g.TargetPercentage * float64(len(pool)) / 100))
		n = min(n, len(pool))
		taken := make(map[int]bool, n)
		ids := make([]string, 0, n)
		for _, j := range pool[:n] {
			taken[j] = true
			ids = append(ids, remaining[j].ID)
		}
		parts[i] = ids
		kept := remaining[:0]
		for j, t := range remaining {
			if !taken[j] {
				kept = append(kept, t)
			}
		}
		remaining = kept
	}
	return parts, len(remaining), nil
}
