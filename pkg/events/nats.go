package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// DefaultSubjectPrefix is the root of the event subject tree.
const DefaultSubjectPrefix = "rollout.events"

// NATSSink publishes events as JSON on <prefix>.<tenant>.<type>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// NewNATSSink wraps an existing connection. The caller keeps ownership.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{nc: nc, prefix: prefix}
}

// DialNATS connects to url and returns a sink that closes the connection
// on Close.
func DialNATS(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("rollout-cloud"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %q: %w", url, err)
	}
	s := NewNATSSink(nc, prefix)
	s.owned = true
	return s, nil
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(event *model.Event) string {
	return s.prefix + "." + subjectToken(event.TenantID) + "." + subjectToken(event.Type)
}

// Publish marshals event and publishes it.
func (s *NATSSink) Publish(_ context.Context, event *model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.nc.Publish(s.Subject(event), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes an owned connection.
func (s *NATSSink) Close() error {
	if !s.owned {
		return nil
	}
	err := s.nc.Flush()
	s.nc.Close()
	return err
}

// subjectToken replaces characters that have meaning in NATS subjects.
func subjectToken(v string) string {
	if v == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(v)
}
