package domain

import (
	"context"
	"time"
)

// EventType enumerates the engine's fire-and-forget notifications.
type EventType string

const (
	EventDuplicateSkipped       EventType = "duplicate_skipped"
	EventCreateConflict         EventType = "create_conflict"
	EventRetryScheduled         EventType = "retry_scheduled"
	EventDeadLettered           EventType = "dead_lettered"
	EventCircuitStateTransition EventType = "circuit_state_transition"
)

// Event is the envelope published for every notification.
type Event struct {
	Type       EventType         `json:"type"`
	MessageID  string            `json:"message_id,omitempty"`
	Channel    Channel           `json:"channel,omitempty"`
	Service    string            `json:"service,omitempty"` // provider service name for circuit events
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventSink receives engine notifications. Implementations must not block the
// dispatch path; delivery is best-effort.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventSink discards all events.
type NoopEventSink struct{}

func (NoopEventSink) Emit(ctx context.Context, event Event) {}
