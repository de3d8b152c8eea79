// Package uow provides the unit-of-work envelope: one transaction spanning
// the stores a service operation touches, with domain events buffered until
// the transaction commits. Events from a rolled-back unit are never
// published.
package uow

import (
	"context"

	"github.com/sheafdata/sheaf/go/commitstore"
	"github.com/sheafdata/sheaf/go/datasetstore"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/permstore"
	"github.com/sheafdata/sheaf/go/refstore"
	"github.com/sheafdata/sheaf/go/rowstore"
)

// Stores bundles the stores bound to one unit of work.
type Stores struct {
	Rows     rowstore.Store
	Commits  commitstore.Store
	Refs     refstore.Store
	Datasets datasetstore.Store
	Perms    permstore.Store
	Jobs     jobstore.Store
}

// UnitOfWork is one open transaction plus its buffered events.
type UnitOfWork interface {
	// Stores returns the stores bound to this unit's transaction.
	Stores() Stores

	// Publish buffers an event for delivery after Commit.
	Publish(e events.Event)

	// Commit commits the transaction and then publishes the buffered
	// events.
	Commit(ctx context.Context) error

	// Rollback aborts the transaction and drops the buffered events.
	// Calling it after Commit is a no-op, so it is defer-safe.
	Rollback(ctx context.Context) error
}

// Factory opens units of work.
type Factory interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// Do runs fn inside a fresh unit of work, committing on success and
// rolling back on error.
func Do(ctx context.Context, f Factory, fn func(ctx context.Context, u UnitOfWork) error) error {
	u, err := f.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = u.Rollback(ctx)
	}()
	if err := fn(ctx, u); err != nil {
		return err
	}
	return u.Commit(ctx)
}
