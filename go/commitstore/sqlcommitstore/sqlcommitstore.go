// Package sqlcommitstore implements commitstore.Store on SQL.
package sqlcommitstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/sheafdata/sheaf/go/commitstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/sql/pool"
	"github.com/sheafdata/sheaf/go/sql/sqlutil"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/util"
)

// writeManifestChunkSize is the number of manifest entries written per SQL
// statement.
const writeManifestChunkSize = 1000

// statement is an SQL statement identifier.
type statement int

const (
	insertCommit statement = iota
	insertSchema
	copyStagedManifest
	getCommit
	listAncestors
	getSchema
	getManifestPage
	readRowsPage
	listTables
	insertStagedManifest
	stagedCounts
	deleteStaged
)

var statements = map[statement]string{
	insertCommit: `
		INSERT INTO
			Commits (commit_id, dataset_id, parent_commit_id, message, author_id, authored_at, committed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)`,
	insertSchema: `
		INSERT INTO
			CommitSchemas (commit_id, schema)
		VALUES
			($1, $2)`,
	copyStagedManifest: `
		INSERT INTO
			CommitManifests (commit_id, table_key, row_index, row_hash)
		SELECT
			$1, table_key, row_index, row_hash
		FROM
			StagedManifests
		WHERE
			run_id = $2`,
	getCommit: `
		SELECT
			commit_id, dataset_id, parent_commit_id, message, author_id, authored_at, committed_at
		FROM
			Commits
		WHERE
			commit_id = $1`,
	listAncestors: `
		WITH RECURSIVE ancestors AS (
			SELECT
				c.commit_id, c.dataset_id, c.parent_commit_id, c.message,
				c.author_id, c.authored_at, c.committed_at, 0 AS depth
			FROM Commits c
			WHERE c.commit_id = $1
			UNION ALL
			SELECT
				c.commit_id, c.dataset_id, c.parent_commit_id, c.message,
				c.author_id, c.authored_at, c.committed_at, a.depth + 1
			FROM Commits c
			JOIN ancestors a ON c.commit_id = a.parent_commit_id
		)
		SELECT
			commit_id, dataset_id, parent_commit_id, message, author_id, authored_at, committed_at
		FROM
			ancestors
		ORDER BY
			depth, committed_at DESC, commit_id DESC
		LIMIT $2 OFFSET $3`,
	getSchema: `
		SELECT
			schema
		FROM
			CommitSchemas
		WHERE
			commit_id = $1`,
	getManifestPage: `
		SELECT
			table_key, row_index, row_hash
		FROM
			CommitManifests
		WHERE
			commit_id = $1 AND table_key = $2
		ORDER BY
			row_index
		LIMIT $3 OFFSET $4`,
	readRowsPage: `
		SELECT
			m.table_key, m.row_index, m.row_hash, r.data
		FROM
			CommitManifests m
		JOIN
			Rows r ON r.row_hash = m.row_hash
		WHERE
			m.commit_id = $1 AND m.table_key = $2
		ORDER BY
			m.row_index
		LIMIT $3 OFFSET $4`,
	listTables: `
		SELECT
			table_key, COUNT(*)
		FROM
			CommitManifests
		WHERE
			commit_id = $1
		GROUP BY
			table_key
		ORDER BY
			table_key`,
	insertStagedManifest: `
		INSERT INTO
			StagedManifests (run_id, table_key, row_index, row_hash)
		VALUES
			%s
		ON CONFLICT
		DO NOTHING`,
	stagedCounts: `
		SELECT
			table_key, COUNT(*)
		FROM
			StagedManifests
		WHERE
			run_id = $1
		GROUP BY
			table_key`,
	deleteStaged: `
		DELETE FROM
			StagedManifests
		WHERE
			run_id = $1`,
}

// SQLCommitStore implements commitstore.Store.
type SQLCommitStore struct {
	db pool.Pool
}

// New returns a new SQLCommitStore.
func New(db pool.Pool) *SQLCommitStore {
	return &SQLCommitStore{db: db}
}

// WithPool returns a copy of the store bound to a different pool. Used to
// run writes inside a transaction.
func (s *SQLCommitStore) WithPool(db pool.Pool) *SQLCommitStore {
	return &SQLCommitStore{db: db}
}

func parentBytes(c commitstore.Commit) []byte {
	if c.Parent == types.BadCommitID {
		return nil
	}
	return c.Parent.Bytes()
}

func schemaJSON(schema types.CommitSchema) (string, error) {
	if schema == nil {
		schema = types.CommitSchema{}
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return "", sherr.Wrap(err)
	}
	return string(b), nil
}

func (s *SQLCommitStore) insertCommitAndSchema(ctx context.Context, commit commitstore.Commit, schema types.CommitSchema) error {
	if _, err := s.db.Exec(ctx, statements[insertCommit],
		commit.ID.Bytes(), commit.DatasetID, parentBytes(commit), commit.Message,
		commit.AuthorID, commit.AuthoredAt, commit.CommittedAt); err != nil {
		return sherr.Wrapf(err, "inserting commit %s", commit.ID)
	}
	sj, err := schemaJSON(schema)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, statements[insertSchema], commit.ID.Bytes(), sj); err != nil {
		return sherr.Wrapf(err, "inserting schema for commit %s", commit.ID)
	}
	return nil
}

// Create implements commitstore.Store.
func (s *SQLCommitStore) Create(ctx context.Context, commit commitstore.Commit, manifest []commitstore.ManifestEntry, schema types.CommitSchema) error {
	if err := s.insertCommitAndSchema(ctx, commit, schema); err != nil {
		return err
	}
	return util.ChunkIter(len(manifest), writeManifestChunkSize, func(startIdx, endIdx int) error {
		chunk := manifest[startIdx:endIdx]
		args := make([]interface{}, 0, 4*len(chunk))
		for _, e := range chunk {
			args = append(args, commit.ID.Bytes(), string(e.Table), e.Index, e.Hash.Bytes())
		}
		stmt := fmt.Sprintf(`
		INSERT INTO
			CommitManifests (commit_id, table_key, row_index, row_hash)
		VALUES
			%s`, sqlutil.ValuesPlaceholders(4, len(chunk)))
		if _, err := s.db.Exec(ctx, stmt, args...); err != nil {
			return sherr.Wrapf(err, "writing %d manifest entries for commit %s", len(chunk), commit.ID)
		}
		return nil
	})
}

// CreateFromStaged implements commitstore.Store.
func (s *SQLCommitStore) CreateFromStaged(ctx context.Context, commit commitstore.Commit, runID uuid.UUID, schema types.CommitSchema) error {
	if err := s.insertCommitAndSchema(ctx, commit, schema); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, statements[copyStagedManifest], commit.ID.Bytes(), runID); err != nil {
		return sherr.Wrapf(err, "copying staged manifest of run %s into commit %s", runID, commit.ID)
	}
	return nil
}

func scanCommit(row pgx.Row) (commitstore.Commit, error) {
	var c commitstore.Commit
	var id, parent []byte
	if err := row.Scan(&id, &c.DatasetID, &parent, &c.Message, &c.AuthorID, &c.AuthoredAt, &c.CommittedAt); err != nil {
		return c, err
	}
	c.ID = types.CommitIDFromBytes(id)
	c.Parent = types.CommitIDFromBytes(parent)
	return c, nil
}

// Get implements commitstore.Store.
func (s *SQLCommitStore) Get(ctx context.Context, id types.CommitID) (commitstore.Commit, error) {
	c, err := scanCommit(s.db.QueryRow(ctx, statements[getCommit], id.Bytes()))
	if err == pgx.ErrNoRows {
		return c, sherr.New(sherr.NotFound, "commit %s does not exist", id)
	}
	if err != nil {
		return c, sherr.Wrapf(err, "loading commit %s", id)
	}
	return c, nil
}

// ListAncestors implements commitstore.Store.
func (s *SQLCommitStore) ListAncestors(ctx context.Context, id types.CommitID, limit, offset int) ([]commitstore.Commit, error) {
	rows, err := s.db.Query(ctx, statements[listAncestors], id.Bytes(), limit, offset)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := []commitstore.Commit{}
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, sherr.Wrap(err)
		}
		ret = append(ret, c)
	}
	return ret, sherr.Wrap(rows.Err())
}

// GetSchema implements commitstore.Store.
func (s *SQLCommitStore) GetSchema(ctx context.Context, id types.CommitID) (types.CommitSchema, error) {
	var raw []byte
	if err := s.db.QueryRow(ctx, statements[getSchema], id.Bytes()).Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, sherr.New(sherr.NotFound, "no schema for commit %s", id)
		}
		return nil, sherr.Wrap(err)
	}
	var schema types.CommitSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, sherr.Wrapf(err, "corrupt schema for commit %s", id)
	}
	return schema, nil
}

// Manifest implements commitstore.Store.
func (s *SQLCommitStore) Manifest(ctx context.Context, id types.CommitID, table types.TableKey, offset, limit int) ([]commitstore.ManifestEntry, error) {
	rows, err := s.db.Query(ctx, statements[getManifestPage], id.Bytes(), string(table), limit, offset)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := []commitstore.ManifestEntry{}
	for rows.Next() {
		var e commitstore.ManifestEntry
		var hash []byte
		if err := rows.Scan(&e.Table, &e.Index, &hash); err != nil {
			return nil, sherr.Wrap(err)
		}
		e.Hash = types.RowHashFromBytes(hash)
		ret = append(ret, e)
	}
	return ret, sherr.Wrap(rows.Err())
}

// ReadRows implements commitstore.Store.
func (s *SQLCommitStore) ReadRows(ctx context.Context, id types.CommitID, table types.TableKey, offset, limit int) ([]commitstore.RowRecord, error) {
	rows, err := s.db.Query(ctx, statements[readRowsPage], id.Bytes(), string(table), limit, offset)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := []commitstore.RowRecord{}
	for rows.Next() {
		var r commitstore.RowRecord
		var hash, raw []byte
		if err := rows.Scan(&r.Table, &r.Index, &hash, &raw); err != nil {
			return nil, sherr.Wrap(err)
		}
		r.Hash = types.RowHashFromBytes(hash)
		if err := json.Unmarshal(raw, &r.Data); err != nil {
			return nil, sherr.Wrapf(err, "corrupt row payload for %x", hash)
		}
		ret = append(ret, r)
	}
	return ret, sherr.Wrap(rows.Err())
}

// ListTables implements commitstore.Store.
func (s *SQLCommitStore) ListTables(ctx context.Context, id types.CommitID) ([]commitstore.TableInfo, error) {
	schema, err := s.GetSchema(ctx, id)
	if err != nil && !sherr.IsKind(err, sherr.NotFound) {
		return nil, err
	}
	rows, err := s.db.Query(ctx, statements[listTables], id.Bytes())
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := []commitstore.TableInfo{}
	for rows.Next() {
		var info commitstore.TableInfo
		if err := rows.Scan(&info.Key, &info.RowCount); err != nil {
			return nil, sherr.Wrap(err)
		}
		info.ColumnCount = len(schema[info.Key].Columns)
		ret = append(ret, info)
	}
	return ret, sherr.Wrap(rows.Err())
}

// StageManifest implements commitstore.Store.
func (s *SQLCommitStore) StageManifest(ctx context.Context, runID uuid.UUID, entries []commitstore.ManifestEntry) error {
	return util.ChunkIter(len(entries), writeManifestChunkSize, func(startIdx, endIdx int) error {
		chunk := entries[startIdx:endIdx]
		args := make([]interface{}, 0, 4*len(chunk))
		for _, e := range chunk {
			args = append(args, runID, string(e.Table), e.Index, e.Hash.Bytes())
		}
		stmt := fmt.Sprintf(statements[insertStagedManifest], sqlutil.ValuesPlaceholders(4, len(chunk)))
		if _, err := s.db.Exec(ctx, stmt, args...); err != nil {
			return sherr.Wrapf(err, "staging %d manifest entries for run %s", len(chunk), runID)
		}
		return nil
	})
}

// StagedCounts implements commitstore.Store.
func (s *SQLCommitStore) StagedCounts(ctx context.Context, runID uuid.UUID) (map[types.TableKey]int64, error) {
	rows, err := s.db.Query(ctx, statements[stagedCounts], runID)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := map[types.TableKey]int64{}
	for rows.Next() {
		var table types.TableKey
		var count int64
		if err := rows.Scan(&table, &count); err != nil {
			return nil, sherr.Wrap(err)
		}
		ret[table] = count
	}
	return ret, sherr.Wrap(rows.Err())
}

// DeleteStaged implements commitstore.Store.
func (s *SQLCommitStore) DeleteStaged(ctx context.Context, runID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, statements[deleteStaged], runID); err != nil {
		return sherr.Wrapf(err, "deleting staged manifest of run %s", runID)
	}
	return nil
}

var _ commitstore.Store = (*SQLCommitStore)(nil)
