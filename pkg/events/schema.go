package events

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeCanonicalApplied EventType = "canonical.applied"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	Destination   string    `json:"destination"`
	Timestamp     time.Time `json:"timestamp"`
}

// CanonicalAppliedEvent is emitted once per entity after its batch commits.
type CanonicalAppliedEvent struct {
	BaseEvent
	Key              string         `json:"key"`
	EntityType       string         `json:"entity_type"`
	Status           string         `json:"status"`
	ContentHash      string         `json:"content_hash"`
	Revision         int64          `json:"revision"`
	PreviousRevision int64          `json:"previous_revision"`
	Attributes       map[string]any `json:"attributes"`
	Transitions      []Transition   `json:"transitions"`
	EffectiveAt      time.Time      `json:"effective_at"`
}

// Transition summarizes one history entry carried by the write.
type Transition struct {
	Revision    int64     `json:"revision"`
	FromStatus  string    `json:"from_status,omitempty"`
	ToStatus    string    `json:"to_status"`
	EffectiveAt time.Time `json:"effective_at"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType, destination string, now time.Time) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		Destination:   destination,
		Timestamp:     now.UTC(),
	}
}
