// Package sqldatasetstore implements datasetstore.Store on SQL.
package sqldatasetstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/sheafdata/sheaf/go/datasetstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/sql/pool"
	"github.com/sheafdata/sheaf/go/types"
)

// statement is an SQL statement identifier.
type statement int

const (
	insertDataset statement = iota
	getDataset
	updateDataset
	deleteDataset
	listVisible
	getTagsForDatasets
	upsertTag
	clearDatasetTags
	linkDatasetTag
)

// statements holds all the raw SQL statements used.
var statements = map[statement]string{
	insertDataset: `
        INSERT INTO
            Datasets (dataset_id, name, description, created_by, created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6)
        ON CONFLICT
        DO NOTHING`,
	getDataset: `
        SELECT
            dataset_id, name, description, created_by, created_at, updated_at
        FROM
            Datasets
        WHERE
            dataset_id = $1`,
	updateDataset: `
        UPDATE
            Datasets
        SET
            name = $2, description = $3, updated_at = $4
        WHERE
            dataset_id = $1`,
	deleteDataset: `
        DELETE FROM
            Datasets
        WHERE
            dataset_id = $1`,
	listVisible: `
        SELECT
            d.dataset_id, d.name, d.description, d.created_by, d.created_at, d.updated_at
        FROM
            Datasets d
        WHERE
            $2
            OR d.created_by = $1
            OR EXISTS (
                SELECT 1 FROM Permissions p
                WHERE p.dataset_id = d.dataset_id AND p.user_id = $1)
        ORDER BY
            d.created_at DESC, d.dataset_id
        LIMIT $3 OFFSET $4`,
	getTagsForDatasets: `
        SELECT
            dt.dataset_id, t.name
        FROM
            DatasetTags dt
        JOIN
            Tags t ON t.tag_id = dt.tag_id
        WHERE
            dt.dataset_id = ANY($1::UUID[])
        ORDER BY
            t.name`,
	upsertTag: `
        INSERT INTO
            Tags (tag_id, name)
        VALUES
            ($1, $2)
        ON CONFLICT (name)
        DO NOTHING`,
	clearDatasetTags: `
        DELETE FROM
            DatasetTags
        WHERE
            dataset_id = $1`,
	linkDatasetTag: `
        INSERT INTO
            DatasetTags (dataset_id, tag_id)
        SELECT
            $1, tag_id
        FROM
            Tags
        WHERE
            name = $2
        ON CONFLICT
        DO NOTHING`,
}

// SQLDatasetStore implements datasetstore.Store.
type SQLDatasetStore struct {
	db pool.Pool
}

// New returns a new SQLDatasetStore.
func New(db pool.Pool) *SQLDatasetStore {
	return &SQLDatasetStore{db: db}
}

// WithPool returns a copy of the store bound to a different pool. Used to
// run writes inside a transaction.
func (s *SQLDatasetStore) WithPool(db pool.Pool) *SQLDatasetStore {
	return &SQLDatasetStore{db: db}
}

// Create implements datasetstore.Store.
func (s *SQLDatasetStore) Create(ctx context.Context, ds datasetstore.Dataset) error {
	tag, err := s.db.Exec(ctx, statements[insertDataset], ds.ID, ds.Name, ds.Description, ds.CreatedBy, ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		return sherr.Wrapf(err, "creating dataset %q", ds.Name)
	}
	if tag.RowsAffected() == 0 {
		return sherr.New(sherr.Conflict, "dataset %q already exists for this user", ds.Name)
	}
	if len(ds.Tags) > 0 {
		return s.SetTags(ctx, ds.ID, ds.Tags)
	}
	return nil
}

// Get implements datasetstore.Store.
func (s *SQLDatasetStore) Get(ctx context.Context, id types.DatasetID) (datasetstore.Dataset, error) {
	var ret datasetstore.Dataset
	err := s.db.QueryRow(ctx, statements[getDataset], id).Scan(
		&ret.ID, &ret.Name, &ret.Description, &ret.CreatedBy, &ret.CreatedAt, &ret.UpdatedAt)
	if err == pgx.ErrNoRows {
		return ret, sherr.New(sherr.NotFound, "dataset %s does not exist", id)
	}
	if err != nil {
		return ret, sherr.Wrapf(err, "getting dataset %s", id)
	}
	tags, err := s.tagsFor(ctx, []types.DatasetID{id})
	if err != nil {
		return ret, err
	}
	ret.Tags = tags[id]
	return ret, nil
}

// Update implements datasetstore.Store.
func (s *SQLDatasetStore) Update(ctx context.Context, id types.DatasetID, name, description string, now time.Time) error {
	tag, err := s.db.Exec(ctx, statements[updateDataset], id, name, description, now)
	if err != nil {
		return sherr.Wrapf(err, "updating dataset %s", id)
	}
	if tag.RowsAffected() == 0 {
		return sherr.New(sherr.NotFound, "dataset %s does not exist", id)
	}
	return nil
}

// Delete implements datasetstore.Store.
func (s *SQLDatasetStore) Delete(ctx context.Context, id types.DatasetID) error {
	tag, err := s.db.Exec(ctx, statements[deleteDataset], id)
	if err != nil {
		return sherr.Wrapf(err, "deleting dataset %s", id)
	}
	if tag.RowsAffected() == 0 {
		return sherr.New(sherr.NotFound, "dataset %s does not exist", id)
	}
	return nil
}

// List implements datasetstore.Store.
func (s *SQLDatasetStore) List(ctx context.Context, userID types.UserID, isAdmin bool, offset, limit int) ([]datasetstore.Dataset, error) {
	rows, err := s.db.Query(ctx, statements[listVisible], userID, isAdmin, limit, offset)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := []datasetstore.Dataset{}
	ids := []types.DatasetID{}
	for rows.Next() {
		var d datasetstore.Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, sherr.Wrap(err)
		}
		ret = append(ret, d)
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, sherr.Wrap(err)
	}
	tags, err := s.tagsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range ret {
		ret[i].Tags = tags[ret[i].ID]
	}
	return ret, nil
}

// tagsFor returns the tag names of each of the given datasets.
func (s *SQLDatasetStore) tagsFor(ctx context.Context, ids []types.DatasetID) (map[types.DatasetID][]string, error) {
	if len(ids) == 0 {
		return map[types.DatasetID][]string{}, nil
	}
	asStrings := make([]string, 0, len(ids))
	for _, id := range ids {
		asStrings = append(asStrings, id.String())
	}
	rows, err := s.db.Query(ctx, statements[getTagsForDatasets], asStrings)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := map[types.DatasetID][]string{}
	for rows.Next() {
		var id types.DatasetID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, sherr.Wrap(err)
		}
		ret[id] = append(ret[id], name)
	}
	if err := rows.Err(); err != nil {
		return nil, sherr.Wrap(err)
	}
	return ret, nil
}

// SetTags implements datasetstore.Store.
func (s *SQLDatasetStore) SetTags(ctx context.Context, id types.DatasetID, tags []string) error {
	if _, err := s.db.Exec(ctx, statements[clearDatasetTags], id); err != nil {
		return sherr.Wrapf(err, "clearing tags of dataset %s", id)
	}
	for _, name := range tags {
		if _, err := s.db.Exec(ctx, statements[upsertTag], uuid.New(), name); err != nil {
			return sherr.Wrapf(err, "upserting tag %q", name)
		}
		if _, err := s.db.Exec(ctx, statements[linkDatasetTag], id, name); err != nil {
			return sherr.Wrapf(err, "tagging dataset %s with %q", id, name)
		}
	}
	return nil
}

var _ datasetstore.Store = (*SQLDatasetStore)(nil)
