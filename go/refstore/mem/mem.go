// Package mem provides an in-memory refstore.Store for tests.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/sheafdata/sheaf/go/refstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

type refKey struct {
	dataset types.DatasetID
	name    types.RefName
}

// RefStore implements refstore.Store in memory.
type RefStore struct {
	mtx  sync.Mutex
	refs map[refKey]types.CommitID
}

// New returns an empty in-memory ref store.
func New() *RefStore {
	return &RefStore{refs: map[refKey]types.CommitID{}}
}

// Create implements refstore.Store.
func (s *RefStore) Create(ctx context.Context, ref refstore.Ref) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	k := refKey{dataset: ref.DatasetID, name: ref.Name}
	if _, ok := s.refs[k]; ok {
		return sherr.New(sherr.Conflict, "ref %q already exists", ref.Name)
	}
	s.refs[k] = ref.CommitID
	return nil
}

// Get implements refstore.Store.
func (s *RefStore) Get(ctx context.Context, datasetID types.DatasetID, name types.RefName) (refstore.Ref, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	id, ok := s.refs[refKey{dataset: datasetID, name: name}]
	if !ok {
		return refstore.Ref{}, sherr.New(sherr.NotFound, "ref %q does not exist", name)
	}
	return refstore.Ref{DatasetID: datasetID, Name: name, CommitID: id}, nil
}

// List implements refstore.Store.
func (s *RefStore) List(ctx context.Context, datasetID types.DatasetID) ([]refstore.Ref, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ret := []refstore.Ref{}
	for k, id := range s.refs {
		if k.dataset == datasetID {
			ret = append(ret, refstore.Ref{DatasetID: datasetID, Name: k.name, CommitID: id})
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

// CompareAndSet implements refstore.Store.
func (s *RefStore) CompareAndSet(ctx context.Context, datasetID types.DatasetID, name types.RefName, expected, next types.CommitID) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	k := refKey{dataset: datasetID, name: name}
	cur, ok := s.refs[k]
	if !ok {
		return sherr.New(sherr.NotFound, "ref %q does not exist", name)
	}
	if cur != expected {
		return sherr.New(sherr.Conflict, "ref %q moved, expected %s", name, expected)
	}
	s.refs[k] = next
	return nil
}

// Delete implements refstore.Store.
func (s *RefStore) Delete(ctx context.Context, datasetID types.DatasetID, name types.RefName) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	k := refKey{dataset: datasetID, name: name}
	if _, ok := s.refs[k]; !ok {
		return sherr.New(sherr.NotFound, "ref %q does not exist", name)
	}
	delete(s.refs, k)
	return nil
}

var _ refstore.Store = (*RefStore)(nil)
