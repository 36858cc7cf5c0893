package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventInstance represents an event produced by an aggregate. Instances are
// always of the current schema shape: historical payloads are upcast before
// construction, so apply handlers never see an old schema.
type EventInstance interface {
	EventID() uuid.UUID
	// TypeTag returns the current-schema tag ("{Family}.{Name}.v{n}").
	TypeTag() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	// IsFact reports whether this is an auto-generated full-state event for
	// external consumers. Fact events carry no incremental mutation
	// semantics and never pass through the apply paths.
	IsFact() bool
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Tag       string    `json:"type_tag"`
	Timestamp time.Time `json:"timestamp"`
	AggID     uuid.UUID `json:"aggregate_id"`
}

// EventID returns the unique event identifier
func (e *BaseEvent) EventID() uuid.UUID {
	return e.ID
}

// TypeTag returns the schema type tag of the event
func (e *BaseEvent) TypeTag() string {
	return e.Tag
}

// OccurredAt returns when the event occurred
func (e *BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID returns the ID of the aggregate that produced this event
func (e *BaseEvent) AggregateID() uuid.UUID {
	return e.AggID
}

// IsFact reports whether this is a fact event; regular events return false.
func (e *BaseEvent) IsFact() bool {
	return false
}

// NewBaseEvent creates a new base event with the given current-schema tag
func NewBaseEvent(tag string, aggID uuid.UUID) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Tag:       tag,
		Timestamp: time.Now().UTC(),
		AggID:     aggID,
	}
}

// FactEvent is an auto-generated full-state capture embedded in the event
// stream for external consumers. It is excluded from both apply paths and
// never increments the aggregate version.
type FactEvent struct {
	BaseEvent
	Version int    `json:"version"`
	State   []byte `json:"state"`
}

// IsFact always returns true for fact events.
func (e *FactEvent) IsFact() bool {
	return true
}

// FactTypeTag returns the type tag fact events of a category are stored
// under, e.g. "Order.Fact.v1".
func FactTypeTag(category string) string {
	return FormatTypeTag(category+".Fact", 1)
}

// NewFactEvent creates a fact event carrying the aggregate's captured state
// at the given version.
func NewFactEvent(category string, aggID uuid.UUID, version int, state []byte) *FactEvent {
	return &FactEvent{
		BaseEvent: NewBaseEvent(FactTypeTag(category), aggID),
		Version:   version,
		State:     state,
	}
}
