package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

func TestPolicy_Checks(t *testing.T) {
	p := New(model.Quota{
		MaxActionsPerTarget:       2,
		MaxAssignmentsPerRequest:  10,
		MaxRolloutGroups:          5,
		MaxTargetsPerRolloutGroup: 3,
	})

	require.NoError(t, p.CheckMaxActionsPerTarget("dev-1", 2))
	err := p.CheckMaxActionsPerTarget("dev-1", 3)
	require.ErrorIs(t, err, model.ErrQuotaExceeded)
	var qe *model.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, model.QuotaActionsPerTarget, qe.Kind)
	assert.Equal(t, "dev-1", qe.Subject)
	assert.Equal(t, 2, qe.Limit)
	assert.Equal(t, 3, qe.Requested)

	require.NoError(t, p.CheckMaxAssignmentsPerRequest(10))
	require.ErrorIs(t, p.CheckMaxAssignmentsPerRequest(11), model.ErrQuotaExceeded)

	require.NoError(t, p.CheckMaxRolloutGroups(5))
	require.ErrorIs(t, p.CheckMaxRolloutGroups(6), model.ErrQuotaExceeded)

	require.NoError(t, p.CheckMaxTargetsPerRolloutGroup("group-1", 3))
	require.ErrorIs(t, p.CheckMaxTargetsPerRolloutGroup("group-1", 4), model.ErrQuotaExceeded)
}

func TestPolicy_ZeroLimitsDisableChecks(t *testing.T) {
	p := New(model.Quota{})
	require.NoError(t, p.CheckMaxActionsPerTarget("dev-1", 1_000_000))
	require.NoError(t, p.CheckMaxAssignmentsPerRequest(1_000_000))
	require.NoError(t, p.CheckMaxTargetsPerRolloutGroup("g", 1_000_000))

	// The group hard limit always applies.
	require.NoError(t, p.CheckMaxRolloutGroups(MaxGroupsHardLimit))
	require.ErrorIs(t, p.CheckMaxRolloutGroups(MaxGroupsHardLimit+1), model.ErrQuotaExceeded)
	big := New(model.Quota{MaxRolloutGroups: 10_000})
	require.ErrorIs(t, big.CheckMaxRolloutGroups(MaxGroupsHardLimit+1), model.ErrQuotaExceeded)
}

func TestValidateWeight(t *testing.T) {
	for _, w := range []int{WeightMin, 500, WeightMax} {
		require.NoError(t, ValidateWeight(w))
	}
	for _, w := range []int{WeightMin - 1, WeightMax + 1} {
		require.ErrorIs(t, ValidateWeight(w), model.ErrInvalidWeight)
	}
}

func TestForTenant(t *testing.T) {
	assert.Equal(t, Plans["pro"].Limits, ForTenant(&model.Tenant{Plan: "pro"}))
	assert.Equal(t, Plans[DefaultPlan].Limits, ForTenant(&model.Tenant{Plan: "nope"}))

	override := &model.Quota{MaxActionsPerTarget: 7}
	assert.Equal(t, *override, ForTenant(&model.Tenant{Plan: "free", Quota: override}))

	_, ok := GetPlan("enterprise")
	assert.True(t, ok)
}
