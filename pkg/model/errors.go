package model

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store, the deployment engine and the
// rollout scheduler. Callers match them with errors.Is; the typed errors
// below wrap a sentinel and carry details for errors.As.
var (
	// ErrEntityNotFound is returned when a referenced record does not exist
	// or is not visible to the tenant.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEntityAlreadyExists is returned on a duplicate id or name.
	ErrEntityAlreadyExists = errors.New("entity already exists")

	// ErrConflict is returned when a write carries a stale revision.
	ErrConflict = errors.New("revision conflict")

	// ErrEntityLocked is returned when the composition of a locked
	// distribution set is changed.
	ErrEntityLocked = errors.New("entity is locked")

	// ErrEntityReadOnly is returned when a soft-deleted record is modified.
	ErrEntityReadOnly = errors.New("entity is read-only")
)

// Assignment errors.
var (
	// ErrIncompleteDistributionSet is returned when a distribution set
	// misses mandatory modules.
	ErrIncompleteDistributionSet = errors.New("distribution set is incomplete")

	// ErrInvalidDistributionSet is returned when a soft-deleted distribution
	// set is used for a new assignment.
	ErrInvalidDistributionSet = errors.New("distribution set is deleted")

	// ErrQuotaExceeded is returned when a request would exceed a quota.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidWeight is returned when a weight is outside the allowed range
	// or missing in multi-assignment mode.
	ErrInvalidWeight = errors.New("invalid weight")

	// ErrMultiAssignmentNotEnabled is returned when a request needs
	// multi-assignment mode while the tenant has it disabled.
	ErrMultiAssignmentNotEnabled = errors.New("multi-assignment is not enabled")
)

// Action lifecycle errors.
var (
	// ErrForceQuitNotAllowed is returned when force-quitting an action that
	// is not CANCELING.
	ErrForceQuitNotAllowed = errors.New("force quit not allowed")

	// ErrCancelNotAllowed is returned when canceling an action that is
	// inactive or already canceling.
	ErrCancelNotAllowed = errors.New("cancel not allowed")

	// ErrActionTypeNotChangeable is returned when forcing a download-only
	// action.
	ErrActionTypeNotChangeable = errors.New("action type cannot be changed")

	// ErrInvalidActionStatus is returned for an unknown status value.
	ErrInvalidActionStatus = errors.New("invalid action status")

	// ErrInvalidActionType is returned for an unknown action type or a
	// TIMEFORCED request without a forced time.
	ErrInvalidActionType = errors.New("invalid action type")
)

// Rollout errors.
var (
	// ErrRolloutVerification is returned when a rollout's group plan does
	// not fit the matched target population.
	ErrRolloutVerification = errors.New("rollout verification failed")

	// ErrRolloutIllegalState is returned when an operation is invoked from a
	// rollout state that forbids it.
	ErrRolloutIllegalState = errors.New("rollout illegal state")

	// ErrInvalidFilter is returned when a target filter query does not parse.
	ErrInvalidFilter = errors.New("invalid target filter")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Type string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Type, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrEntityNotFound }

// NotFound returns a NotFoundError for the given entity type and id.
func NotFound(entityType, id string) error {
	return &NotFoundError{Type: entityType, ID: id}
}

// AlreadyExists returns an error wrapping ErrEntityAlreadyExists.
func AlreadyExists(entityType, id string) error {
	return fmt.Errorf("%s %q: %w", entityType, id, ErrEntityAlreadyExists)
}

// Conflict returns an error wrapping ErrConflict.
func Conflict(entityType, id string) error {
	return fmt.Errorf("%s %q: %w", entityType, id, ErrConflict)
}

// QuotaKind names the quota that was exceeded.
type QuotaKind string

const (
	QuotaActionsPerTarget       QuotaKind = "actions_per_target"
	QuotaAssignmentsPerRequest  QuotaKind = "assignments_per_request"
	QuotaRolloutGroups          QuotaKind = "rollout_groups"
	QuotaTargetsPerRolloutGroup QuotaKind = "targets_per_rollout_group"
)

// QuotaError describes a rejected request.
type QuotaError struct {
	Kind      QuotaKind
	Subject   string
	Limit     int
	Requested int
}

func (e *QuotaError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("quota %s exceeded for %s: requested %d, limit %d", e.Kind, e.Subject, e.Requested, e.Limit)
	}
	return fmt.Sprintf("quota %s exceeded: requested %d, limit %d", e.Kind, e.Requested, e.Limit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// IllegalState returns an error wrapping ErrRolloutIllegalState.
func IllegalState(rolloutID string, status RolloutStatus, op string) error {
	return fmt.Errorf("rollout %q is %s, cannot %s: %w", rolloutID, status, op, ErrRolloutIllegalState)
}

// Verification returns an error wrapping ErrRolloutVerification.
func Verification(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrRolloutVerification)
}

// IncompleteDistributionSet returns an error wrapping
// ErrIncompleteDistributionSet.
func IncompleteDistributionSet(id string) error {
	return fmt.Errorf("distribution set %q: %w", id, ErrIncompleteDistributionSet)
}

// InvalidDistributionSet returns an error wrapping ErrInvalidDistributionSet.
func InvalidDistributionSet(id string) error {
	return fmt.Errorf("distribution set %q: %w", id, ErrInvalidDistributionSet)
}
