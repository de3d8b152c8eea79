// Package pool defines the subset of pgx operations the stores use, so that
// a store can run against either a *pgxpool.Pool or an open pgx.Tx without
// knowing which it has.
package pool

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Pool is the interface stores are written against.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Both connection pools and open transactions satisfy Pool.
var _ Pool = (*pgxpool.Pool)(nil)
var _ Pool = pgx.Tx(nil)
