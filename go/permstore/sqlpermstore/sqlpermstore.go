// Package sqlpermstore implements permstore.Store on SQL.
package sqlpermstore

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/sheafdata/sheaf/go/permstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/sql/pool"
	"github.com/sheafdata/sheaf/go/types"
)

// statement is an SQL statement identifier.
type statement int

const (
	upsertGrant statement = iota
	deleteGrant
	getLevel
	listGrants
)

// statements holds all the raw SQL statements used.
var statements = map[statement]string{
	upsertGrant: `
        INSERT INTO
            Permissions (dataset_id, user_id, kind)
        VALUES
            ($1, $2, $3)
        ON CONFLICT (dataset_id, user_id)
        DO UPDATE SET kind = EXCLUDED.kind`,
	deleteGrant: `
        DELETE FROM
            Permissions
        WHERE
            dataset_id = $1 AND user_id = $2`,
	getLevel: `
        SELECT
            kind
        FROM
            Permissions
        WHERE
            dataset_id = $1 AND user_id = $2`,
	listGrants: `
        SELECT
            dataset_id, user_id, kind
        FROM
            Permissions
        WHERE
            dataset_id = $1
        ORDER BY
            user_id`,
}

// SQLPermStore implements permstore.Store.
type SQLPermStore struct {
	db pool.Pool
}

// New returns a new SQLPermStore.
func New(db pool.Pool) *SQLPermStore {
	return &SQLPermStore{db: db}
}

// WithPool returns a copy of the store bound to a different pool.
func (s *SQLPermStore) WithPool(db pool.Pool) *SQLPermStore {
	return &SQLPermStore{db: db}
}

// Set implements permstore.Store.
func (s *SQLPermStore) Set(ctx context.Context, g permstore.Grant) error {
	if g.Level < permstore.Read || g.Level > permstore.Admin {
		return sherr.New(sherr.Validation, "cannot grant level %q", g.Level)
	}
	if _, err := s.db.Exec(ctx, statements[upsertGrant], g.DatasetID, g.UserID, g.Level.String()); err != nil {
		return sherr.Wrapf(err, "granting %s on %s", g.Level, g.DatasetID)
	}
	return nil
}

// Delete implements permstore.Store.
func (s *SQLPermStore) Delete(ctx context.Context, datasetID types.DatasetID, userID types.UserID) error {
	tag, err := s.db.Exec(ctx, statements[deleteGrant], datasetID, userID)
	if err != nil {
		return sherr.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return sherr.New(sherr.NotFound, "no grant for user %s on dataset %s", userID, datasetID)
	}
	return nil
}

// Level implements permstore.Store.
func (s *SQLPermStore) Level(ctx context.Context, datasetID types.DatasetID, userID types.UserID) (permstore.Level, error) {
	var kind string
	err := s.db.QueryRow(ctx, statements[getLevel], datasetID, userID).Scan(&kind)
	if err == pgx.ErrNoRows {
		return permstore.None, nil
	}
	if err != nil {
		return permstore.None, sherr.Wrap(err)
	}
	return permstore.ParseLevel(kind)
}

// List implements permstore.Store.
func (s *SQLPermStore) List(ctx context.Context, datasetID types.DatasetID) ([]permstore.Grant, error) {
	rows, err := s.db.Query(ctx, statements[listGrants], datasetID)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := []permstore.Grant{}
	for rows.Next() {
		var g permstore.Grant
		var kind string
		if err := rows.Scan(&g.DatasetID, &g.UserID, &kind); err != nil {
			return nil, sherr.Wrap(err)
		}
		if g.Level, err = permstore.ParseLevel(kind); err != nil {
			return nil, err
		}
		ret = append(ret, g)
	}
	if err := rows.Err(); err != nil {
		return nil, sherr.Wrap(err)
	}
	return ret, nil
}

var _ permstore.Store = (*SQLPermStore)(nil)
