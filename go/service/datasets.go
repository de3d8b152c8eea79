package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/sheafdata/sheaf/go/datasetstore"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/now"
	"github.com/sheafdata/sheaf/go/permstore"
	"github.com/sheafdata/sheaf/go/refstore"
	"github.com/sheafdata/sheaf/go/searchindex"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
	"github.com/sheafdata/sheaf/go/userstore"
)

// maxNameLen bounds dataset names.
const maxNameLen = 256

func validateDatasetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return sherr.New(sherr.Validation, "dataset name must not be empty")
	}
	if len(name) > maxNameLen {
		return sherr.New(sherr.Validation, "dataset name must not exceed %d characters", maxNameLen)
	}
	return nil
}

// CreateDataset creates a dataset owned by the user, with its main ref
// pointing at no commit yet.
func (s *Service) CreateDataset(ctx context.Context, user userstore.User, name, description string, tags []string) (datasetstore.Dataset, error) {
	if err := validateDatasetName(name); err != nil {
		return datasetstore.Dataset{}, err
	}
	ts := now.Now(ctx)
	ds := datasetstore.Dataset{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(name),
		Description: description,
		CreatedBy:   user.ID,
		CreatedAt:   ts,
		UpdatedAt:   ts,
		Tags:        tags,
	}
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if err := u.Stores().Datasets.Create(ctx, ds); err != nil {
			return err
		}
		if err := u.Stores().Refs.Create(ctx, refstore.Ref{DatasetID: ds.ID, Name: types.MainRef}); err != nil {
			return err
		}
		e := events.New(events.DatasetCreated, events.AggregateDataset, ds.ID.String(), ts)
		e.UserID = user.ID.String()
		u.Publish(e)
		return nil
	})
	if err != nil {
		return datasetstore.Dataset{}, err
	}
	s.index.RequestRefresh()
	return ds, nil
}

// GetDataset returns the dataset if the user may read it.
func (s *Service) GetDataset(ctx context.Context, user userstore.User, id types.DatasetID) (datasetstore.Dataset, error) {
	var ds datasetstore.Dataset
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		var err error
		ds, err = s.gate(u).Check(ctx, user, id, permstore.Read)
		return err
	})
	return ds, err
}

// UpdateDataset renames the dataset and replaces its description.
func (s *Service) UpdateDataset(ctx context.Context, user userstore.User, id types.DatasetID, name, description string) (datasetstore.Dataset, error) {
	if err := validateDatasetName(name); err != nil {
		return datasetstore.Dataset{}, err
	}
	ts := now.Now(ctx)
	var ds datasetstore.Dataset
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, id, permstore.Write); err != nil {
			return err
		}
		if err := u.Stores().Datasets.Update(ctx, id, strings.TrimSpace(name), description, ts); err != nil {
			return err
		}
		var err error
		ds, err = u.Stores().Datasets.Get(ctx, id)
		if err != nil {
			return err
		}
		e := events.New(events.DatasetUpdated, events.AggregateDataset, id.String(), ts)
		e.UserID = user.ID.String()
		u.Publish(e)
		return nil
	})
	if err != nil {
		return datasetstore.Dataset{}, err
	}
	s.index.RequestRefresh()
	return ds, nil
}

// SetDatasetTags replaces the dataset's tags.
func (s *Service) SetDatasetTags(ctx context.Context, user userstore.User, id types.DatasetID, tags []string) error {
	ts := now.Now(ctx)
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, id, permstore.Write); err != nil {
			return err
		}
		if err := u.Stores().Datasets.SetTags(ctx, id, tags); err != nil {
			return err
		}
		e := events.New(events.DatasetUpdated, events.AggregateDataset, id.String(), ts)
		e.UserID = user.ID.String()
		u.Publish(e)
		return nil
	})
	if err != nil {
		return err
	}
	s.index.RequestRefresh()
	return nil
}

// DeleteDataset removes the dataset and everything owned by it. Row
// payloads stay: they are content-addressed and possibly shared.
func (s *Service) DeleteDataset(ctx context.Context, user userstore.User, id types.DatasetID) error {
	ts := now.Now(ctx)
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, id, permstore.Admin); err != nil {
			return err
		}
		if err := u.Stores().Datasets.Delete(ctx, id); err != nil {
			return err
		}
		e := events.New(events.DatasetDeleted, events.AggregateDataset, id.String(), ts)
		e.UserID = user.ID.String()
		u.Publish(e)
		return nil
	})
	if err != nil {
		return err
	}
	s.index.RequestRefresh()
	return nil
}

// ListDatasets returns a page of datasets visible to the user.
func (s *Service) ListDatasets(ctx context.Context, user userstore.User, offset, limit int) ([]datasetstore.Dataset, error) {
	offset, limit, err := s.page(offset, limit)
	if err != nil {
		return nil, err
	}
	var ret []datasetstore.Dataset
	err = uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		var err error
		ret, err = u.Stores().Datasets.List(ctx, user.ID, user.IsAdmin, offset, limit)
		return err
	})
	return ret, err
}

// SearchDatasets queries the search index and filters the hits down to
// datasets the user may read. The index trails writes; a just-created
// dataset may be missing until the next refresh.
func (s *Service) SearchDatasets(ctx context.Context, user userstore.User, query string, offset, limit int) ([]searchindex.Result, error) {
	offset, limit, err := s.page(offset, limit)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Search(ctx, query, offset, limit)
	if err != nil {
		return nil, err
	}
	visible := []searchindex.Result{}
	err = uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		gate := s.gate(u)
		for _, hit := range hits {
			if _, err := gate.Check(ctx, user, hit.DatasetID, permstore.Read); err != nil {
				if sherr.IsKind(err, sherr.NotFound) {
					continue
				}
				return err
			}
			visible = append(visible, hit)
		}
		return nil
	})
	return visible, err
}

// datasetEventPayload is a convenience for event payloads built from maps.
func datasetEventPayload(fields map[string]interface{}) json.RawMessage {
	b, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return b
}
