package service

import (
	"context"

	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/now"
	"github.com/sheafdata/sheaf/go/permstore"
	"github.com/sheafdata/sheaf/go/refstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
	"github.com/sheafdata/sheaf/go/userstore"
)

// CreateRef creates a branch pointing where fromRef currently points.
func (s *Service) CreateRef(ctx context.Context, user userstore.User, datasetID types.DatasetID, name types.RefName, fromRef types.RefName) (refstore.Ref, error) {
	if err := name.Validate(); err != nil {
		return refstore.Ref{}, err
	}
	if fromRef == "" {
		fromRef = types.MainRef
	}
	ts := now.Now(ctx)
	var ref refstore.Ref
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, permstore.Write); err != nil {
			return err
		}
		source, err := u.Stores().Refs.Get(ctx, datasetID, fromRef)
		if err != nil {
			return err
		}
		ref = refstore.Ref{DatasetID: datasetID, Name: name, CommitID: source.CommitID}
		if err := u.Stores().Refs.Create(ctx, ref); err != nil {
			return err
		}
		e := events.New(events.RefCreated, events.AggregateRef, string(name), ts)
		e.UserID = user.ID.String()
		e.Payload = datasetEventPayload(map[string]interface{}{
			"dataset_id": datasetID,
			"commit_id":  ref.CommitID,
			"from_ref":   fromRef,
		})
		u.Publish(e)
		return nil
	})
	return ref, err
}

// DeleteRef deletes a branch. The main ref is protected while the dataset
// lives; commits stay reachable by id either way.
func (s *Service) DeleteRef(ctx context.Context, user userstore.User, datasetID types.DatasetID, name types.RefName) error {
	if name == types.MainRef {
		return sherr.New(sherr.BusinessRule, "the %s ref cannot be deleted", types.MainRef)
	}
	ts := now.Now(ctx)
	return uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, permstore.Write); err != nil {
			return err
		}
		if err := u.Stores().Refs.Delete(ctx, datasetID, name); err != nil {
			return err
		}
		e := events.New(events.RefDeleted, events.AggregateRef, string(name), ts)
		e.UserID = user.ID.String()
		e.Payload = datasetEventPayload(map[string]interface{}{"dataset_id": datasetID})
		u.Publish(e)
		return nil
	})
}

// ListRefs returns the dataset's refs.
func (s *Service) ListRefs(ctx context.Context, user userstore.User, datasetID types.DatasetID) ([]refstore.Ref, error) {
	var ret []refstore.Ref
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, permstore.Read); err != nil {
			return err
		}
		var err error
		ret, err = u.Stores().Refs.List(ctx, datasetID)
		return err
	})
	return ret, err
}
