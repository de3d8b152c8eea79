// Package events defines the domain events emitted by state changes and
// the audit log that records them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of a domain event.
type EventType string

const (
	DatasetCreated   EventType = "dataset.created"
	DatasetUpdated   EventType = "dataset.updated"
	DatasetDeleted   EventType = "dataset.deleted"
	DatasetCommitted EventType = "dataset.committed"
	RefCreated       EventType = "ref.created"
	RefDeleted       EventType = "ref.deleted"
	JobCompleted     EventType = "job.completed"
	JobFailed        EventType = "job.failed"
)

// Aggregate types used in events and the audit log.
const (
	AggregateDataset = "dataset"
	AggregateRef     = "ref"
	AggregateJob     = "job"
)

// Event is one domain event.
type Event struct {
	ID            uuid.UUID       `json:"event_id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	UserID        string          `json:"user_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// New returns an Event with a fresh id.
func New(t EventType, aggregateType, aggregateID string, occurredAt time.Time) Event {
	return Event{
		ID:            uuid.New(),
		Type:          t,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		OccurredAt:    occurredAt,
	}
}

// Store is the interface for the persistent audit log.
type Store interface {
	// Append writes one event.
	Append(ctx context.Context, e Event) error

	// ListByAggregate returns the events of one aggregate, newest first.
	ListByAggregate(ctx context.Context, aggregateType, aggregateID string, offset, limit int) ([]Event, error)
}
