// Package sqluow implements uow.Factory on a pgx connection pool.
package sqluow

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/sheafdata/sheaf/go/commitstore/sqlcommitstore"
	"github.com/sheafdata/sheaf/go/datasetstore/sqldatasetstore"
	"github.com/sheafdata/sheaf/go/eventbus"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/jobstore/sqljobstore"
	"github.com/sheafdata/sheaf/go/permstore/sqlpermstore"
	"github.com/sheafdata/sheaf/go/refstore/sqlrefstore"
	"github.com/sheafdata/sheaf/go/rowstore/sqlrowstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/uow"
)

// Factory implements uow.Factory. The long-lived stores are rebound to
// each transaction with WithPool so per-store state, like the row store's
// hash cache, is shared across units.
type Factory struct {
	db       *pgxpool.Pool
	bus      eventbus.EventBus
	rows     *sqlrowstore.SQLRowStore
	commits  *sqlcommitstore.SQLCommitStore
	refs     *sqlrefstore.SQLRefStore
	datasets *sqldatasetstore.SQLDatasetStore
	perms    *sqlpermstore.SQLPermStore
	jobs     *sqljobstore.SQLJobStore
}

// New returns a Factory over the given pool and bus.
func New(db *pgxpool.Pool, bus eventbus.EventBus) (*Factory, error) {
	rows, err := sqlrowstore.New(db)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	return &Factory{
		db:       db,
		bus:      bus,
		rows:     rows,
		commits:  sqlcommitstore.New(db),
		refs:     sqlrefstore.New(db),
		datasets: sqldatasetstore.New(db),
		perms:    sqlpermstore.New(db),
		jobs:     sqljobstore.New(db),
	}, nil
}

// Begin implements uow.Factory.
func (f *Factory) Begin(ctx context.Context) (uow.UnitOfWork, error) {
	tx, err := f.db.Begin(ctx)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	return &unit{
		tx:  tx,
		bus: f.bus,
		stores: uow.Stores{
			Rows:     f.rows.WithPool(tx),
			Commits:  f.commits.WithPool(tx),
			Refs:     f.refs.WithPool(tx),
			Datasets: f.datasets.WithPool(tx),
			Perms:    f.perms.WithPool(tx),
			Jobs:     f.jobs.WithPool(tx),
		},
	}, nil
}

type unit struct {
	tx      pgx.Tx
	bus     eventbus.EventBus
	stores  uow.Stores
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
		return sherr.New(sherr.Internal, "unit of work already closed")
	}
	if err := u.tx.Commit(ctx); err != nil {
		return sherr.Wrap(err)
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
	if u.closed {
		return nil
	}
	u.closed = true
	u.pending = nil
	if err := u.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return sherr.Wrap(err)
	}
	return nil
}

var _ uow.Factory = (*Factory)(nil)
