// Package events emits lifecycle events of actions, targets and rollouts to
// pluggable sinks: an in-process recorder, the store's event log, a NATS
// subject tree and a PostgreSQL audit table.
package events

import (
	"context"
	"errors"
	"maps"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/clock"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// Event types.
const (
	ActionCreated        = "action_created"
	ActionUpdated        = "action_updated"
	ActionCancelRequest  = "action_cancel_requested"
	ActionCanceled       = "action_canceled"
	ActionForced         = "action_forced"
	TargetAssigned       = "target_assigned"
	TargetUpdated        = "target_updated"
	TargetDeleted        = "target_deleted"
	DistributionSetLock  = "distribution_set_locked"
	RolloutCreated       = "rollout_created"
	RolloutReady         = "rollout_ready"
	RolloutApproval      = "rollout_waiting_for_approval"
	RolloutApproved      = "rollout_approved"
	RolloutDenied        = "rollout_approval_denied"
	RolloutStarted       = "rollout_started"
	RolloutPaused        = "rollout_paused"
	RolloutResumed       = "rollout_resumed"
	RolloutStopped       = "rollout_stopped"
	RolloutFinished      = "rollout_finished"
	RolloutDeleted       = "rollout_deleted"
	RolloutGroupStarted  = "rollout_group_started"
	RolloutGroupFinished = "rollout_group_finished"
	RolloutGroupError    = "rollout_group_error"
)

// Resource types.
const (
	ResourceAction          = "action"
	ResourceTarget          = "target"
	ResourceDistributionSet = "distribution_set"
	ResourceRollout         = "rollout"
	ResourceRolloutGroup    = "rollout_group"
)

// Sink receives emitted events.
type Sink interface {
	Publish(ctx context.Context, event *model.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event *model.Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, event *model.Event) error { return f(ctx, event) }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// Publish delivers event to every sink even if some fail.
func (m Multi) Publish(ctx context.Context, event *model.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter stamps events and hands them to a sink. Sink failures are logged
// and never surface to the caller.
type Emitter struct {
	sink   Sink
	clock  clock.Clock
	logger *zap.Logger
}

// NewEmitter returns an Emitter. A nil sink discards events.
func NewEmitter(sink Sink, clk clock.Clock, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Emitter{sink: sink, clock: clk, logger: logger.Named("events")}
}

// Emit builds an event and publishes it.
func (e *Emitter) Emit(ctx context.Context, tenant, eventType, resourceType, resourceID, message string, metadata map[string]string) {
	if e == nil || e.sink == nil {
		return
	}
	ev := &model.Event{
		ID:           uuid.NewString(),
		TenantID:     tenant,
		Type:         eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Message:      message,
		Metadata:     maps.Clone(metadata),
		CreatedAt:    e.clock.Now(),
	}
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.logger.Warn("publish event",
			zap.String("tenant", tenant),
			zap.String("type", eventType),
			zap.String("resource", resourceID),
			zap.Error(err))
	}
}
