// Package mem provides an in-memory events.Store for tests.
package mem

import (
	"context"
	"sync"

	"github.com/sheafdata/sheaf/go/events"
)

// EventStore implements events.Store in memory.
type EventStore struct {
	mtx sync.Mutex
	all []events.Event
}

// New returns an empty in-memory event store.
func New() *EventStore {
	return &EventStore{}
}

// Append implements events.Store.
func (s *EventStore) Append(ctx context.Context, e events.Event) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.all = append(s.all, e)
	return nil
}

// ListByAggregate implements events.Store.
func (s *EventStore) ListByAggregate(ctx context.Context, aggregateType, aggregateID string, offset, limit int) ([]events.Event, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	matched := []events.Event{}
	for i := len(s.all) - 1; i >= 0; i-- {
		e := s.all[i]
		if e.AggregateType == aggregateType && e.AggregateID == aggregateID {
			matched = append(matched, e)
		}
	}
	if offset >= len(matched) {
		return []events.Event{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// All returns every appended event in order. Test helper.
func (s *EventStore) All() []events.Event {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ret := make([]events.Event, len(s.all))
	copy(ret, s.all)
	return ret
}

var _ events.Store = (*EventStore)(nil)
