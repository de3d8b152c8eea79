package service

import (
	"context"

	"github.com/sheafdata/sheaf/go/permstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
	"github.com/sheafdata/sheaf/go/userstore"
)

// GrantPermission gives target the level on the dataset, replacing any
// earlier grant. Requires admin on the dataset.
func (s *Service) GrantPermission(ctx context.Context, user userstore.User, datasetID types.DatasetID, target types.UserID, level permstore.Level) error {
	return uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		ds, err := s.gate(u).Check(ctx, user, datasetID, permstore.Admin)
		if err != nil {
			return err
		}
		if target == ds.CreatedBy {
			return sherr.New(sherr.BusinessRule, "the dataset owner's access cannot be changed")
		}
		return u.Stores().Perms.Set(ctx, permstore.Grant{DatasetID: datasetID, UserID: target, Level: level})
	})
}

// RevokePermission removes target's grant on the dataset. Requires admin.
func (s *Service) RevokePermission(ctx context.Context, user userstore.User, datasetID types.DatasetID, target types.UserID) error {
	return uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		ds, err := s.gate(u).Check(ctx, user, datasetID, permstore.Admin)
		if err != nil {
			return err
		}
		if target == ds.CreatedBy {
			return sherr.New(sherr.BusinessRule, "the dataset owner's access cannot be changed")
		}
		return u.Stores().Perms.Delete(ctx, datasetID, target)
	})
}

// ListPermissions returns the dataset's explicit grants. Requires admin.
func (s *Service) ListPermissions(ctx context.Context, user userstore.User, datasetID types.DatasetID) ([]permstore.Grant, error) {
	var ret []permstore.Grant
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, permstore.Admin); err != nil {
			return err
		}
		var err error
		ret, err = u.Stores().Perms.List(ctx, datasetID)
		return err
	})
	return ret, err
}
