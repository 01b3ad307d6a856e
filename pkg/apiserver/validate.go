package apiserver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/quota"
)

// validIDPattern matches safe resource identifiers: alphanumeric, dots, underscores, hyphens.
// Max 253 characters (DNS label limit). Rejects path traversal, null bytes, and newlines.
var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,253}$`)

// ValidateID checks that a resource ID is safe to use as a path parameter or store key.
// Returns an error if the ID contains path traversal sequences, control characters,
// or doesn't match the allowed character set.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if !validIDPattern.MatchString(id) {
		return fmt.Errorf("id %q contains invalid characters (allowed: a-z A-Z 0-9 . _ -)", id)
	}
	return nil
}

// ValidateTarget checks that a Target has valid fields.
func ValidateTarget(t *model.Target) error {
	if t.ID == "" {
		return fmt.Errorf("target id is required")
	}
	if err := ValidateID(t.ID); err != nil {
		return err
	}
	for k := range t.Attributes {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("attribute names must not be empty")
		}
	}
	return nil
}

// ValidateDistributionSet checks that a DistributionSet has valid fields.
func ValidateDistributionSet(ds *model.DistributionSet) error {
	if ds.ID == "" {
		return fmt.Errorf("distribution set id is required")
	}
	if err := ValidateID(ds.ID); err != nil {
		return err
	}
	for i, m := range ds.Modules {
		if m.Type == "" || m.Name == "" {
			return fmt.Errorf("modules[%d]: type and name are required", i)
		}
	}
	return nil
}

// ValidateAssignment checks the identifiers of an assignment request. The
// engine validates everything else.
func ValidateAssignment(a *deploy.AssignRequest) error {
	if err := ValidateID(a.TargetID); err != nil {
		return fmt.Errorf("target_id: %w", err)
	}
	if err := ValidateID(a.DistributionSetID); err != nil {
		return fmt.Errorf("distribution_set_id: %w", err)
	}
	return nil
}

// ValidateTenant checks that a Tenant names a known plan and that its quota
// override, if any, is not negative.
func ValidateTenant(t *model.Tenant) error {
	if err := ValidateID(t.ID); err != nil {
		return err
	}
	if _, ok := quota.GetPlan(t.Plan); !ok {
		return fmt.Errorf("plan %q is unknown", t.Plan)
	}
	if q := t.Quota; q != nil {
		if q.MaxActionsPerTarget < 0 || q.MaxAssignmentsPerRequest < 0 ||
			q.MaxRolloutGroups < 0 || q.MaxTargetsPerRolloutGroup < 0 {
			return fmt.Errorf("quota limits must be non-negative")
		}
	}
	return nil
}
