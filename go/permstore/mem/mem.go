// Package mem provides an in-memory permstore.Store for tests.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/sheafdata/sheaf/go/permstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

type grantKey struct {
	dataset types.DatasetID
	user    types.UserID
}

// PermStore implements permstore.Store in memory.
type PermStore struct {
	mtx    sync.Mutex
	grants map[grantKey]permstore.Level
}

// New returns an empty in-memory permission store.
func New() *PermStore {
	return &PermStore{grants: map[grantKey]permstore.Level{}}
}

// Set implements permstore.Store.
func (s *PermStore) Set(ctx context.Context, g permstore.Grant) error {
	if g.Level < permstore.Read || g.Level > permstore.Admin {
		return sherr.New(sherr.Validation, "cannot grant level %q", g.Level)
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.grants[grantKey{dataset: g.DatasetID, user: g.UserID}] = g.Level
	return nil
}

// Delete implements permstore.Store.
func (s *PermStore) Delete(ctx context.Context, datasetID types.DatasetID, userID types.UserID) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	k := grantKey{dataset: datasetID, user: userID}
	if _, ok := s.grants[k]; !ok {
		return sherr.New(sherr.NotFound, "no grant for user %s on dataset %s", userID, datasetID)
	}
	delete(s.grants, k)
	return nil
}

// Level implements permstore.Store.
func (s *PermStore) Level(ctx context.Context, datasetID types.DatasetID, userID types.UserID) (permstore.Level, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.grants[grantKey{dataset: datasetID, user: userID}], nil
}

// List implements permstore.Store.
func (s *PermStore) List(ctx context.Context, datasetID types.DatasetID) ([]permstore.Grant, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ret := []permstore.Grant{}
	for k, level := range s.grants {
		if k.dataset == datasetID {
			ret = append(ret, permstore.Grant{DatasetID: k.dataset, UserID: k.user, Level: level})
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].UserID.String() < ret[j].UserID.String() })
	return ret, nil
}

var _ permstore.Store = (*PermStore)(nil)
