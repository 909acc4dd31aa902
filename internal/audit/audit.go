// Package audit provides best-effort recording of lifecycle and moderation
// events over NATS. Audit delivery must never block or fail the operation
// that produced the event: publish errors are logged locally and dropped.
package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event types recorded by the messaging core.
const (
	EventAuthSuccess        = "auth.success"
	EventAuthFailure        = "auth.failure"
	EventModerationDecision = "moderation.decision"
	EventModerationFlagged  = "moderation.flagged"
	EventPersistFailed      = "message.persist_failed"
)

// SubjectPrefix is prepended to the event type to form the NATS subject,
// e.g. auth.success is published to audit.auth.success.
const SubjectPrefix = "audit."

// Event is one audit record. Detail carries event-specific fields and is
// serialized as-is.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	UserID    int64                  `json:"user_id,omitempty"`
	RoomID    string                 `json:"room_id,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Sink records audit events. Implementations must be non-blocking from the
// caller's perspective and must swallow their own failures.
type Sink interface {
	Record(event Event)
}

// ---------------------------------------------------------------------------
// NATS sink
// ---------------------------------------------------------------------------

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chat-core",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NATSSink publishes audit events to audit.* subjects.
type NATSSink struct {
	conn *nats.Conn
}

// NewNATSSink connects to NATS with the given config and returns a ready
// sink. It returns an error if the initial connection fails; callers are
// expected to fall back to a LogSink in that case.
func NewNATSSink(config NATSConfig) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[audit] nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[audit] nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, err
	}

	log.Printf("[audit] connected to %s", nc.ConnectedUrl())
	return &NATSSink{conn: nc}, nil
}

// Record publishes the event to audit.<type>. Failures are logged and
// otherwise ignored.
func (s *NATSSink) Record(event Event) {
	fill(&event)

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[audit] marshal event %s: %v", event.Type, err)
		return
	}

	if err := s.conn.Publish(Subject(event.Type), data); err != nil {
		log.Printf("[audit] publish %s: %v", event.Type, err)
	}
}

// Close drains the NATS connection.
func (s *NATSSink) Close() {
	if err := s.conn.Drain(); err != nil {
		log.Printf("[audit] drain: %v", err)
	}
}

// Subject returns the NATS subject for an event type.
func Subject(eventType string) string {
	return SubjectPrefix + eventType
}

// ---------------------------------------------------------------------------
// Fallback sinks
// ---------------------------------------------------------------------------

// LogSink writes audit events to the process log. Used when NATS is not
// available so events remain at least locally observable.
type LogSink struct{}

// Record logs the event.
func (LogSink) Record(event Event) {
	fill(&event)
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[audit] marshal event %s: %v", event.Type, err)
		return
	}
	log.Printf("[audit] %s %s", event.Type, data)
}

// NopSink discards all events. Used in tests.
type NopSink struct{}

// Record discards the event.
func (NopSink) Record(Event) {}

// fill assigns the event id and timestamp when the caller left them unset.
func fill(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
}
