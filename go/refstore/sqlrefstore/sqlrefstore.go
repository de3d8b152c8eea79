// Package sqlrefstore implements refstore.Store on SQL.
package sqlrefstore

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/sheafdata/sheaf/go/refstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/sql/pool"
	"github.com/sheafdata/sheaf/go/types"
)

// statement is an SQL statement identifier.
type statement int

const (
	insertRef statement = iota
	getRef
	listRefs
	updateRefCAS
	deleteRef
)

// statements holds all the raw SQL statements used.
var statements = map[statement]string{
	insertRef: `
        INSERT INTO
            Refs (dataset_id, name, commit_id)
        VALUES
            ($1, $2, $3)
        ON CONFLICT
        DO NOTHING`,
	getRef: `
        SELECT
            dataset_id, name, commit_id
        FROM
            Refs
        WHERE
            dataset_id = $1 AND name = $2`,
	listRefs: `
        SELECT
            dataset_id, name, commit_id
        FROM
            Refs
        WHERE
            dataset_id = $1
        ORDER BY
            name`,
	// IS NOT DISTINCT FROM makes the guard hold for unborn refs too,
	// where both sides are NULL.
	updateRefCAS: `
        UPDATE
            Refs
        SET
            commit_id = $4
        WHERE
            dataset_id = $1 AND name = $2 AND commit_id IS NOT DISTINCT FROM $3`,
	deleteRef: `
        DELETE FROM
            Refs
        WHERE
            dataset_id = $1 AND name = $2`,
}

// SQLRefStore implements refstore.Store.
type SQLRefStore struct {
	db pool.Pool
}

// New returns a new SQLRefStore.
func New(db pool.Pool) *SQLRefStore {
	return &SQLRefStore{db: db}
}

// WithPool returns a copy of the store bound to a different pool. Used to
// run ref moves inside a transaction.
func (s *SQLRefStore) WithPool(db pool.Pool) *SQLRefStore {
	return &SQLRefStore{db: db}
}

// commitIDArg converts a CommitID into a nullable BYTEA argument.
func commitIDArg(id types.CommitID) interface{} {
	if id == types.BadCommitID {
		return nil
	}
	return id.Bytes()
}

// Create implements refstore.Store.
func (s *SQLRefStore) Create(ctx context.Context, ref refstore.Ref) error {
	tag, err := s.db.Exec(ctx, statements[insertRef], ref.DatasetID, ref.Name, commitIDArg(ref.CommitID))
	if err != nil {
		return sherr.Wrapf(err, "creating ref %q", ref.Name)
	}
	if tag.RowsAffected() == 0 {
		return sherr.New(sherr.Conflict, "ref %q already exists", ref.Name)
	}
	return nil
}

// Get implements refstore.Store.
func (s *SQLRefStore) Get(ctx context.Context, datasetID types.DatasetID, name types.RefName) (refstore.Ref, error) {
	var ret refstore.Ref
	var commitID []byte
	err := s.db.QueryRow(ctx, statements[getRef], datasetID, name).Scan(&ret.DatasetID, &ret.Name, &commitID)
	if err == pgx.ErrNoRows {
		return ret, sherr.New(sherr.NotFound, "ref %q does not exist", name)
	}
	if err != nil {
		return ret, sherr.Wrapf(err, "getting ref %q", name)
	}
	ret.CommitID = types.CommitIDFromBytes(commitID)
	return ret, nil
}

// List implements refstore.Store.
func (s *SQLRefStore) List(ctx context.Context, datasetID types.DatasetID) ([]refstore.Ref, error) {
	rows, err := s.db.Query(ctx, statements[listRefs], datasetID)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := []refstore.Ref{}
	for rows.Next() {
		var r refstore.Ref
		var commitID []byte
		if err := rows.Scan(&r.DatasetID, &r.Name, &commitID); err != nil {
			return nil, sherr.Wrap(err)
		}
		r.CommitID = types.CommitIDFromBytes(commitID)
		ret = append(ret, r)
	}
	if err := rows.Err(); err != nil {
		return nil, sherr.Wrap(err)
	}
	return ret, nil
}

// CompareAndSet implements refstore.Store.
func (s *SQLRefStore) CompareAndSet(ctx context.Context, datasetID types.DatasetID, name types.RefName, expected, next types.CommitID) error {
	tag, err := s.db.Exec(ctx, statements[updateRefCAS], datasetID, name, commitIDArg(expected), commitIDArg(next))
	if err != nil {
		return sherr.Wrapf(err, "moving ref %q", name)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// The guarded update matched nothing: either the ref is gone or it
	// moved. Look again to tell the two apart.
	if _, err := s.Get(ctx, datasetID, name); err != nil {
		return err
	}
	return sherr.New(sherr.Conflict, "ref %q moved, expected %s", name, expected)
}

// Delete implements refstore.Store.
func (s *SQLRefStore) Delete(ctx context.Context, datasetID types.DatasetID, name types.RefName) error {
	tag, err := s.db.Exec(ctx, statements[deleteRef], datasetID, name)
	if err != nil {
		return sherr.Wrapf(err, "deleting ref %q", name)
	}
	if tag.RowsAffected() == 0 {
		return sherr.New(sherr.NotFound, "ref %q does not exist", name)
	}
	return nil
}

var _ refstore.Store = (*SQLRefStore)(nil)
