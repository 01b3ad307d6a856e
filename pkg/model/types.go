// Package model defines the core data types for the rollout control plane.
// Entities reference each other by id only; lookups always go through the
// store package.
package model

import "time"

// TargetUpdateStatus is the update state of a target as seen by the server.
type TargetUpdateStatus string

const (
	TargetUnknown    TargetUpdateStatus = "UNKNOWN"
	TargetRegistered TargetUpdateStatus = "REGISTERED"
	TargetPending    TargetUpdateStatus = "PENDING"
	TargetInSync     TargetUpdateStatus = "IN_SYNC"
	TargetError      TargetUpdateStatus = "ERROR"
)

// Target represents a managed device addressed by its controller id.
type Target struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	Attributes   map[string]string  `json:"attributes,omitempty"`
	UpdateStatus TargetUpdateStatus `json:"update_status"`
	AssignedDS   string             `json:"assigned_ds,omitempty"`
	InstalledDS  string             `json:"installed_ds,omitempty"`
	InstalledAt  *time.Time         `json:"installed_at,omitempty"`
	LastContact  *time.Time         `json:"last_contact,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Revision     int64              `json:"revision"`
}

// SoftwareModule is one entry of a distribution set's composition.
type SoftwareModule struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Mandatory bool   `json:"mandatory"`
}

// DistributionSet is a versioned bundle of software modules. Its module
// list becomes immutable once it is locked by the first assignment.
type DistributionSet struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Modules     []SoftwareModule  `json:"modules,omitempty"`
	Complete    bool              `json:"complete"`
	Locked      bool              `json:"locked"`
	Deleted     bool              `json:"deleted"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Revision    int64             `json:"revision"`
}

// Valid reports whether the set may be used for new assignments.
func (ds *DistributionSet) Valid() bool {
	return !ds.Deleted
}

// ActionStatusCode is the state of an action. WARNING, RETRIEVED and
// DOWNLOADED are informational and never change the active flag.
type ActionStatusCode string

const (
	StatusScheduled  ActionStatusCode = "SCHEDULED"
	StatusRunning    ActionStatusCode = "RUNNING"
	StatusWarning    ActionStatusCode = "WARNING"
	StatusRetrieved  ActionStatusCode = "RETRIEVED"
	StatusDownloaded ActionStatusCode = "DOWNLOADED"
	StatusCanceling  ActionStatusCode = "CANCELING"
	StatusCanceled   ActionStatusCode = "CANCELED"
	StatusFinished   ActionStatusCode = "FINISHED"
	StatusError      ActionStatusCode = "ERROR"
)

// Terminal reports whether the status ends an action.
func (s ActionStatusCode) Terminal() bool {
	switch s {
	case StatusFinished, StatusError, StatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s ActionStatusCode) Valid() bool {
	switch s {
	case StatusScheduled, StatusRunning, StatusWarning, StatusRetrieved, StatusDownloaded,
		StatusCanceling, StatusCanceled, StatusFinished, StatusError:
		return true
	}
	return false
}

// ActionType controls how a device is expected to apply an action.
type ActionType string

const (
	ActionForced       ActionType = "FORCED"
	ActionSoft         ActionType = "SOFT"
	ActionTimeForced   ActionType = "TIMEFORCED"
	ActionDownloadOnly ActionType = "DOWNLOAD_ONLY"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionForced, ActionSoft, ActionTimeForced, ActionDownloadOnly:
		return true
	}
	return false
}

// Action is one assignment of a distribution set to a target.
type Action struct {
	ID                string           `json:"id"`
	TargetID          string           `json:"target_id"`
	DistributionSetID string           `json:"distribution_set_id"`
	Status            ActionStatusCode `json:"status"`
	Type              ActionType       `json:"type"`
	ForcedTime        *time.Time       `json:"forced_time,omitempty"`
	Weight            *int             `json:"weight,omitempty"`
	Active            bool             `json:"active"`
	InitiatedBy       string           `json:"initiated_by"`
	RolloutID         string           `json:"rollout_id,omitempty"`
	RolloutGroupID    string           `json:"rollout_group_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	Revision          int64            `json:"revision"`
}

// IsForcedAt reports whether the action must be applied without user
// consent at time t.
func (a *Action) IsForcedAt(t time.Time) bool {
	switch a.Type {
	case ActionForced:
		return true
	case ActionTimeForced:
		return a.ForcedTime != nil && !t.Before(*a.ForcedTime)
	}
	return false
}

// IsCancelingOrCanceled reports whether cancellation was already requested.
func (a *Action) IsCancelingOrCanceled() bool {
	return a.Status == StatusCanceling || a.Status == StatusCanceled
}

// ActionStatus is an append-only history entry of an action.
type ActionStatus struct {
	ID         string           `json:"id"`
	ActionID   string           `json:"action_id"`
	Status     ActionStatusCode `json:"status"`
	Messages   []string         `json:"messages,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// RolloutStatus is the lifecycle state of a rollout.
type RolloutStatus string

const (
	RolloutCreating           RolloutStatus = "CREATING"
	RolloutWaitingForApproval RolloutStatus = "WAITING_FOR_APPROVAL"
	RolloutApprovalDenied     RolloutStatus = "APPROVAL_DENIED"
	RolloutReady              RolloutStatus = "READY"
	RolloutStarting           RolloutStatus = "STARTING"
	RolloutRunning            RolloutStatus = "RUNNING"
	RolloutPaused             RolloutStatus = "PAUSED"
	RolloutStopping           RolloutStatus = "STOPPING"
	RolloutFinished           RolloutStatus = "FINISHED"
	RolloutDeleting           RolloutStatus = "DELETING"
	RolloutDeleted            RolloutStatus = "DELETED"
)

// Rollout is a phased campaign distributing one distribution set to a
// filtered target population in ordered groups.
type Rollout struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	DistributionSetID string        `json:"distribution_set_id"`
	TargetFilter      string        `json:"target_filter"`
	ActionType        ActionType    `json:"action_type"`
	ForcedTime        *time.Time    `json:"forced_time,omitempty"`
	Weight            *int          `json:"weight,omitempty"`
	StartAt           *time.Time    `json:"start_at,omitempty"`
	Status            RolloutStatus `json:"status"`
	TotalTargets      int           `json:"total_targets"`
	CreatedBy         string        `json:"created_by"`
	ApprovalDecidedBy string        `json:"approval_decided_by,omitempty"`
	ApprovalRemark    string        `json:"approval_remark,omitempty"`
	LastCheck         *time.Time    `json:"last_check,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	Revision          int64         `json:"revision"`
}

// RolloutGroupStatus is the lifecycle state of a rollout group.
type RolloutGroupStatus string

const (
	GroupCreating  RolloutGroupStatus = "CREATING"
	GroupReady     RolloutGroupStatus = "READY"
	GroupScheduled RolloutGroupStatus = "SCHEDULED"
	GroupRunning   RolloutGroupStatus = "RUNNING"
	GroupFinished  RolloutGroupStatus = "FINISHED"
	GroupError     RolloutGroupStatus = "ERROR"
)

// ConditionType selects how a group condition expression is evaluated.
type ConditionType string

// ConditionThreshold compares a percentage of the group against Expression.
const ConditionThreshold ConditionType = "THRESHOLD"

// GroupAction is what happens when a group condition is met.
type GroupAction string

const (
	GroupActionNextGroup GroupAction = "NEXTGROUP"
	GroupActionPause     GroupAction = "PAUSE"
)

// Condition is a group success or error condition.
type Condition struct {
	Type      ConditionType `json:"type"`
	Threshold float64       `json:"threshold"`
	Action    GroupAction   `json:"action"`
}

// GroupConditions bundles the success and error conditions of a group.
// A nil Error means the group never fails on its own.
type GroupConditions struct {
	Success Condition  `json:"success"`
	Error   *Condition `json:"error,omitempty"`
}

// DefaultGroupConditions advances a group once every target finished and
// never pauses.
func DefaultGroupConditions() GroupConditions {
	return GroupConditions{
		Success: Condition{Type: ConditionThreshold, Threshold: 100, Action: GroupActionNextGroup},
	}
}

// RolloutGroup is an ordered partition of a rollout's targets.
type RolloutGroup struct {
	ID               string             `json:"id"`
	RolloutID        string             `json:"rollout_id"`
	Index            int                `json:"index"`
	Name             string             `json:"name"`
	TargetPercentage float64            `json:"target_percentage"`
	TargetFilter     string             `json:"target_filter,omitempty"`
	Conditions       GroupConditions    `json:"conditions"`
	Status           RolloutGroupStatus `json:"status"`
	TotalTargets     int                `json:"total_targets"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	Revision         int64              `json:"revision"`
}

// TenantSettings are the per-tenant switches consulted by the engine.
// With ApprovalRequired set, filled rollouts wait for an approval decision
// before they can start.
type TenantSettings struct {
	MultiAssignment  bool `json:"multi_assignment"`
	AutoCloseActions bool `json:"auto_close_actions"`
	ApprovalRequired bool `json:"approval_required"`
}

// Quota bounds the size of assignments and rollouts for a tenant.
type Quota struct {
	MaxActionsPerTarget       int `json:"max_actions_per_target"`
	MaxAssignmentsPerRequest  int `json:"max_assignments_per_request"`
	MaxRolloutGroups          int `json:"max_rollout_groups"`
	MaxTargetsPerRolloutGroup int `json:"max_targets_per_rollout_group"`
}

// Tenant represents an isolated organisation. Every other record belongs to
// exactly one tenant.
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Plan      string         `json:"plan"`
	Settings  TenantSettings `json:"settings"`
	Quota     *Quota         `json:"quota,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Revision  int64          `json:"revision"`
}

// Event is a lifecycle notification emitted by the engine.
type Event struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Type         string            `json:"type"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Message      string            `json:"message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Page selects a window of a stably ordered result set. A zero Limit means
// no limit.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}
