// Package sqleventstore implements events.Store on SQL.
package sqleventstore

import (
	"context"
	"encoding/json"

	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/sql/pool"
)

// statement is an SQL statement identifier.
type statement int

const (
	insertEvent statement = iota
	listByAggregate
)

// statements holds all the raw SQL statements used.
var statements = map[statement]string{
	insertEvent: `
        INSERT INTO
            AuditEvents (event_id, event_type, aggregate_id, aggregate_type,
                user_id, payload, occurred_at, correlation_id)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT
        DO NOTHING`,
	listByAggregate: `
        SELECT
            event_id, event_type, aggregate_id, aggregate_type, user_id,
            payload, occurred_at, correlation_id
        FROM
            AuditEvents
        WHERE
            aggregate_type = $1 AND aggregate_id = $2
        ORDER BY
            occurred_at DESC, event_id
        LIMIT $3 OFFSET $4`,
}

// SQLEventStore implements events.Store.
type SQLEventStore struct {
	db pool.Pool
}

// New returns a new SQLEventStore.
func New(db pool.Pool) *SQLEventStore {
	return &SQLEventStore{db: db}
}

// Append implements events.Store.
func (s *SQLEventStore) Append(ctx context.Context, e events.Event) error {
	var payload interface{}
	if len(e.Payload) > 0 {
		payload = []byte(e.Payload)
	}
	_, err := s.db.Exec(ctx, statements[insertEvent],
		e.ID, string(e.Type), e.AggregateID, e.AggregateType, e.UserID,
		payload, e.OccurredAt, e.CorrelationID)
	if err != nil {
		return sherr.Wrapf(err, "appending %s event %s", e.Type, e.ID)
	}
	return nil
}

// ListByAggregate implements events.Store.
func (s *SQLEventStore) ListByAggregate(ctx context.Context, aggregateType, aggregateID string, offset, limit int) ([]events.Event, error) {
	rows, err := s.db.Query(ctx, statements[listByAggregate], aggregateType, aggregateID, limit, offset)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := []events.Event{}
	for rows.Next() {
		var e events.Event
		var eventType string
		var payload []byte
		if err := rows.Scan(&e.ID, &eventType, &e.AggregateID, &e.AggregateType,
			&e.UserID, &payload, &e.OccurredAt, &e.CorrelationID); err != nil {
			return nil, sherr.Wrap(err)
		}
		e.Type = events.EventType(eventType)
		e.Payload = json.RawMessage(payload)
		ret = append(ret, e)
	}
	if err := rows.Err(); err != nil {
		return nil, sherr.Wrap(err)
	}
	return ret, nil
}

var _ events.Store = (*SQLEventStore)(nil)
