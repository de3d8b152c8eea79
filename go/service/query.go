package service

import (
	"context"

	"github.com/sheafdata/sheaf/go/commitstore"
	"github.com/sheafdata/sheaf/go/datasetstore"
	"github.com/sheafdata/sheaf/go/permstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
	"github.com/sheafdata/sheaf/go/userstore"
)

// RowOut is one row as returned by the query paths.
type RowOut struct {
	LogicalRowID types.LogicalRowID `json:"logical_row_id"`
	Data         types.RowData      `json:"data"`
}

// RefOverview is one ref in a dataset overview.
type RefOverview struct {
	Name     types.RefName          `json:"name"`
	CommitID types.CommitID         `json:"commit_id,omitempty"`
	Tables   []commitstore.TableInfo `json:"tables"`
}

// Overview is the dataset summary: every ref with its tables and counts.
type Overview struct {
	Dataset    datasetstore.Dataset `json:"dataset"`
	Refs       []RefOverview        `json:"refs"`
	DefaultRef types.RefName        `json:"default_ref"`
}

// GetOverview returns the dataset overview.
func (s *Service) GetOverview(ctx context.Context, user userstore.User, datasetID types.DatasetID) (Overview, error) {
	var ret Overview
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		ds, err := s.gate(u).Check(ctx, user, datasetID, permstore.Read)
		if err != nil {
			return err
		}
		refs, err := u.Stores().Refs.List(ctx, datasetID)
		if err != nil {
			return err
		}
		ret = Overview{Dataset: ds, Refs: []RefOverview{}, DefaultRef: types.MainRef}
		for _, ref := range refs {
			ro := RefOverview{Name: ref.Name, CommitID: ref.CommitID, Tables: []commitstore.TableInfo{}}
			if ref.CommitID != types.BadCommitID {
				tables, err := u.Stores().Commits.ListTables(ctx, ref.CommitID)
				if err != nil {
					return err
				}
				ro.Tables = tables
			}
			ret.Refs = append(ret.Refs, ro)
		}
		return nil
	})
	return ret, err
}

// commitOfDataset loads the commit and confirms it belongs to the dataset.
// A commit of another dataset is reported as missing.
func commitOfDataset(ctx context.Context, u uow.UnitOfWork, datasetID types.DatasetID, commitID types.CommitID) (commitstore.Commit, error) {
	commit, err := u.Stores().Commits.Get(ctx, commitID)
	if err != nil {
		return commitstore.Commit{}, err
	}
	if commit.DatasetID != datasetID {
		return commitstore.Commit{}, sherr.New(sherr.NotFound, "commit %s does not exist", commitID)
	}
	return commit, nil
}

// GetDataAtRef returns a page of rows at the ref's current tip. An unborn
// ref has no rows.
func (s *Service) GetDataAtRef(ctx context.Context, user userstore.User, datasetID types.DatasetID, refName types.RefName, table types.TableKey, offset, limit int) ([]RowOut, error) {
	offset, limit, err := s.page(offset, limit)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = types.DefaultTableKey
	}
	ret := []RowOut{}
	err = uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, permstore.Read); err != nil {
			return err
		}
		ref, err := u.Stores().Refs.Get(ctx, datasetID, refName)
		if err != nil {
			return err
		}
		if ref.CommitID == types.BadCommitID {
			return nil
		}
		ret, err = readRowPage(ctx, u, ref.CommitID, table, offset, limit)
		return err
	})
	return ret, err
}

// GetDataAtCommit returns a page of rows at a pinned commit.
func (s *Service) GetDataAtCommit(ctx context.Context, user userstore.User, datasetID types.DatasetID, commitID types.CommitID, table types.TableKey, offset, limit int) ([]RowOut, error) {
	offset, limit, err := s.page(offset, limit)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = types.DefaultTableKey
	}
	ret := []RowOut{}
	err = uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, permstore.Read); err != nil {
			return err
		}
		if _, err := commitOfDataset(ctx, u, datasetID, commitID); err != nil {
			return err
		}
		ret, err = readRowPage(ctx, u, commitID, table, offset, limit)
		return err
	})
	return ret, err
}

func readRowPage(ctx context.Context, u uow.UnitOfWork, commitID types.CommitID, table types.TableKey, offset, limit int) ([]RowOut, error) {
	records, err := u.Stores().Commits.ReadRows(ctx, commitID, table, offset, limit)
	if err != nil {
		return nil, err
	}
	ret := make([]RowOut, 0, len(records))
	for _, r := range records {
		ret = append(ret, RowOut{
			LogicalRowID: types.MakeLogicalRowID(r.Table, int(r.Index)),
			Data:         r.Data,
		})
	}
	return ret, nil
}

// ListTables returns the tables of a commit with their row counts.
func (s *Service) ListTables(ctx context.Context, user userstore.User, datasetID types.DatasetID, commitID types.CommitID) ([]commitstore.TableInfo, error) {
	var ret []commitstore.TableInfo
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, permstore.Read); err != nil {
			return err
		}
		if _, err := commitOfDataset(ctx, u, datasetID, commitID); err != nil {
			return err
		}
		var err error
		ret, err = u.Stores().Commits.ListTables(ctx, commitID)
		return err
	})
	return ret, err
}

// GetSchema returns a commit's captured schema, optionally narrowed to one
// table.
func (s *Service) GetSchema(ctx context.Context, user userstore.User, datasetID types.DatasetID, commitID types.CommitID, table types.TableKey) (types.CommitSchema, error) {
	var ret types.CommitSchema
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, permstore.Read); err != nil {
			return err
		}
		if _, err := commitOfDataset(ctx, u, datasetID, commitID); err != nil {
			return err
		}
		schema, err := u.Stores().Commits.GetSchema(ctx, commitID)
		if err != nil {
			return err
		}
		if table == "" {
			ret = schema
			return nil
		}
		tableSchema, ok := schema[table]
		if !ok {
			return sherr.New(sherr.NotFound, "commit %s has no table %q", commitID, table)
		}
		ret = types.CommitSchema{table: tableSchema}
		return nil
	})
	return ret, err
}

// GetHistory returns a page of the ancestry of a ref's tip, most recent
// first.
func (s *Service) GetHistory(ctx context.Context, user userstore.User, datasetID types.DatasetID, refName types.RefName, offset, limit int) ([]commitstore.Commit, error) {
	offset, limit, err := s.page(offset, limit)
	if err != nil {
		return nil, err
	}
	if refName == "" {
		refName = types.MainRef
	}
	ret := []commitstore.Commit{}
	err = uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, permstore.Read); err != nil {
			return err
		}
		ref, err := u.Stores().Refs.Get(ctx, datasetID, refName)
		if err != nil {
			return err
		}
		if ref.CommitID == types.BadCommitID {
			return nil
		}
		ret, err = u.Stores().Commits.ListAncestors(ctx, ref.CommitID, limit, offset)
		return err
	})
	return ret, err
}
