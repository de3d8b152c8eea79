// Package memuow implements uow.Factory over in-memory stores for tests.
//
// There is no real transaction: store writes apply immediately. What it
// does model faithfully is event buffering, so tests can assert that a
// rolled-back operation publishes nothing.
package memuow

import (
	"context"

	"github.com/sheafdata/sheaf/go/eventbus"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/uow"
)

// Factory implements uow.Factory.
type Factory struct {
	stores uow.Stores
	bus    eventbus.EventBus
}

// New returns a Factory handing out the given stores.
func New(stores uow.Stores, bus eventbus.EventBus) *Factory {
	return &Factory{stores: stores, bus: bus}
}

// Begin implements uow.Factory.
func (f *Factory) Begin(ctx context.Context) (uow.UnitOfWork, error) {
	return &unit{stores: f.stores, bus: f.bus}, nil
}

type unit struct {
	stores  uow.Stores
	bus     eventbus.EventBus
	pending []events.Event
	closed  bool
}

// Stores implements uow.UnitOfWork.
func (u *unit) Stores() uow.Stores {
	return u.stores
}

// Publish implements uow.UnitOfWork.
func (u *unit) Publish(e events.Event) {
	u.pending = append(u.pending, e)
}

// Commit implements uow.UnitOfWork.
func (u *unit) Commit(ctx context.Context) error {
	if u.closed {
		return nil
	}
	u.closed = true
	for _, e := range u.pending {
		u.bus.Publish(e)
	}
	u.pending = nil
	return nil
}

// Rollback implements uow.UnitOfWork.
func (u *unit) Rollback(ctx context.Context) error {
	u.closed = true
	u.pending = nil
	return nil
}

var _ uow.Factory = (*Factory)(nil)
