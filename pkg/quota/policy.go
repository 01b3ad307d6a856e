// Package quota holds the pure checks consulted before any assignment or
// rollout mutation, and the per-plan limit presets.
package quota

import (
	"fmt"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// Weight bounds for multi-assignment actions.
const (
	WeightMin = 0
	WeightMax = 1000
)

// MaxGroupsHardLimit bounds the number of groups of any rollout regardless
// of the tenant's quota.
const MaxGroupsHardLimit = 500

// Policy evaluates quota checks against one tenant's limits. A limit of zero
// or less disables the corresponding check.
type Policy struct {
	Limits model.Quota
}

// New returns a Policy for the given limits.
func New(limits model.Quota) Policy {
	return Policy{Limits: limits}
}

// CheckMaxActionsPerTarget fails if the target would hold more than the
// allowed number of active actions.
func (p Policy) CheckMaxActionsPerTarget(targetID string, proposedActive int) error {
	return check(model.QuotaActionsPerTarget, targetID, p.Limits.MaxActionsPerTarget, proposedActive)
}

// CheckMaxAssignmentsPerRequest fails if a single request is too large.
func (p Policy) CheckMaxAssignmentsPerRequest(requestSize int) error {
	return check(model.QuotaAssignmentsPerRequest, "", p.Limits.MaxAssignmentsPerRequest, requestSize)
}

// CheckMaxRolloutGroups fails if a rollout would have too many groups. The
// hard limit applies even when the tenant quota is unset.
func (p Policy) CheckMaxRolloutGroups(count int) error {
	limit := p.Limits.MaxRolloutGroups
	if limit <= 0 || limit > MaxGroupsHardLimit {
		limit = MaxGroupsHardLimit
	}
	return check(model.QuotaRolloutGroups, "", limit, count)
}

// CheckMaxTargetsPerRolloutGroup fails if a group would hold too many targets.
func (p Policy) CheckMaxTargetsPerRolloutGroup(group string, count int) error {
	return check(model.QuotaTargetsPerRolloutGroup, group, p.Limits.MaxTargetsPerRolloutGroup, count)
}

// ValidateWeight fails with model.ErrInvalidWeight outside [WeightMin, WeightMax].
func ValidateWeight(weight int) error {
	if weight < WeightMin || weight > WeightMax {
		return fmt.Errorf("weight %d outside [%d, %d]: %w", weight, WeightMin, WeightMax, model.ErrInvalidWeight)
	}
	return nil
}

func check(kind model.QuotaKind, subject string, limit, requested int) error {
	if limit > 0 && requested > limit {
		return &model.QuotaError{Kind: kind, Subject: subject, Limit: limit, Requested: requested}
	}
	return nil
}
