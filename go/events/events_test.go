package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sheafdata/sheaf/go/eventbus"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/events/mem"
)

var baseTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestAuditWriter_RecordsEveryBusEvent(t *testing.T) {
	store := mem.New()
	bus := eventbus.New()
	bus.SubscribeAsync(eventbus.AllEvents, events.NewAuditWriter(store).Write)

	created := events.New(events.DatasetCreated, events.AggregateDataset, "ds-1", baseTime)
	deleted := events.New(events.DatasetDeleted, events.AggregateDataset, "ds-1", baseTime.Add(time.Minute))
	bus.Publish(created)
	bus.Publish(deleted)

	require.Eventually(t, func() bool { return len(store.All()) == 2 }, time.Second, 10*time.Millisecond)
	seen := map[events.EventType]bool{}
	for _, e := range store.All() {
		seen[e.Type] = true
	}
	require.True(t, seen[events.DatasetCreated])
	require.True(t, seen[events.DatasetDeleted])
}

func TestListByAggregate_NewestFirstAndPaged(t *testing.T) {
	ctx := context.Background()
	store := mem.New()
	for i := 0; i < 3; i++ {
		e := events.New(events.DatasetUpdated, events.AggregateDataset, "ds-1", baseTime.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Append(ctx, e))
	}
	other := events.New(events.RefCreated, events.AggregateRef, "main", baseTime)
	require.NoError(t, store.Append(ctx, other))

	page, err := store.ListByAggregate(ctx, events.AggregateDataset, "ds-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, baseTime.Add(2*time.Minute), page[0].OccurredAt)
	require.Equal(t, baseTime, page[2].OccurredAt)

	page, err = store.ListByAggregate(ctx, events.AggregateDataset, "ds-1", 2, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, baseTime, page[0].OccurredAt)
}
