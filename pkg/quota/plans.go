package quota

import "github.com/strand-protocol/strand/rollout-cloud/pkg/model"

// Plan is a tenant tier with its quota limits.
type Plan struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Limits      model.Quota `json:"limits"`
}

// DefaultPlan is used for tenants without a plan.
const DefaultPlan = "starter"

// Plans defines all available tiers.
var Plans = map[string]Plan{
	"free": {
		Name:        "free",
		DisplayName: "Free",
		Limits: model.Quota{
			MaxActionsPerTarget:       20,
			MaxAssignmentsPerRequest:  100,
			MaxRolloutGroups:          10,
			MaxTargetsPerRolloutGroup: 100,
		},
	},
	"starter": {
		Name:        "starter",
		DisplayName: "Starter",
		Limits: model.Quota{
			MaxActionsPerTarget:       100,
			MaxAssignmentsPerRequest:  1000,
			MaxRolloutGroups:          100,
			MaxTargetsPerRolloutGroup: 5000,
		},
	},
	"pro": {
		Name:        "pro",
		DisplayName: "Pro",
		Limits: model.Quota{
			MaxActionsPerTarget:       400,
			MaxAssignmentsPerRequest:  5000,
			MaxRolloutGroups:          MaxGroupsHardLimit,
			MaxTargetsPerRolloutGroup: 20000,
		},
	},
	"enterprise": {
		Name:        "enterprise",
		DisplayName: "Enterprise",
		Limits: model.Quota{
			MaxActionsPerTarget:       1000,
			MaxAssignmentsPerRequest:  50000,
			MaxRolloutGroups:          MaxGroupsHardLimit,
			MaxTargetsPerRolloutGroup: 200000,
		},
	},
}

// GetPlan returns the plan definition for a given plan name.
func GetPlan(name string) (Plan, bool) {
	p, ok := Plans[name]
	return p, ok
}

// ForTenant resolves the effective quota of a tenant: its explicit override
// if set, else its plan's limits, else the default plan's.
func ForTenant(t *model.Tenant) model.Quota {
	if t.Quota != nil {
		return *t.Quota
	}
	if p, ok := GetPlan(t.Plan); ok {
		return p.Limits
	}
	return Plans[DefaultPlan].Limits
}
