package events

import (
	"context"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// LogSink appends events to the store's event log, which backs the
// GET /api/v1/events endpoint.
type LogSink struct {
	log store.EventLogStore
}

// NewLogSink returns a LogSink writing to log.
func NewLogSink(log store.EventLogStore) *LogSink {
	return &LogSink{log: log}
}

// Publish appends event to the log.
func (s *LogSink) Publish(ctx context.Context, event *model.Event) error {
	return s.log.Append(ctx, event)
}
