package events

import (
	"context"
	"time"

	"github.com/sheafdata/sheaf/go/shlog"
)

// auditWriteTimeout bounds each audit insert.
const auditWriteTimeout = 10 * time.Second

// AuditWriter persists every event it receives. Register it on the bus
// with SubscribeAsync(eventbus.AllEvents, w.Write).
type AuditWriter struct {
	store Store
}

// NewAuditWriter returns an AuditWriter appending to the given store.
func NewAuditWriter(store Store) *AuditWriter {
	return &AuditWriter{store: store}
}

// Write records the event. Failures are logged, not propagated: the state
// change that produced the event has already committed.
func (w *AuditWriter) Write(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := w.store.Append(ctx, e); err != nil {
		shlog.Errorf("Failed to audit %s event %s: %s", e.Type, e.ID, err)
	}
}
