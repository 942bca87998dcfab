// Package events publishes protocol lifecycle events.
//
// Publishing is fire-and-forget: the engine never blocks on, or fails
// because of, an event sink. Subscribers observe progress; they do not
// participate in it.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	ProtocolStarted   = "protocol.started"
	ProtocolPlanned   = "protocol.planned"
	ProtocolCompleted = "protocol.completed"
	ProtocolFailed    = "protocol.failed"
	ProtocolBlocked   = "protocol.blocked"
	ProtocolCancelled = "protocol.cancelled"
	ProtocolRecovered = "protocol.recovered"

	StepStarted   = "step.started"
	StepCompleted = "step.completed"
	StepFailed    = "step.failed"
	StepRetried   = "step.retried"
	StepBlocked   = "step.blocked"
)

// Event is one lifecycle notification.
type Event struct {
	Type          string         `json:"type"`
	ProtocolRunID int64          `json:"protocol_run_id"`
	StepRunID     int64          `json:"step_run_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
	Close()
}

// Noop discards all events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}
func (Noop) Close()                         {}
