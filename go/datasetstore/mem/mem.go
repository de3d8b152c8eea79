// Package mem provides an in-memory datasetstore.Store for tests.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sheafdata/sheaf/go/datasetstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

// DatasetStore implements datasetstore.Store in memory.
type DatasetStore struct {
	mtx      sync.Mutex
	datasets map[types.DatasetID]datasetstore.Dataset

	// readers maps dataset id to the users holding any permission on it,
	// mirroring what the SQL store derives from the Permissions table.
	readers map[types.DatasetID]map[types.UserID]bool
}

// New returns an empty in-memory dataset store.
func New() *DatasetStore {
	return &DatasetStore{
		datasets: map[types.DatasetID]datasetstore.Dataset{},
		readers:  map[types.DatasetID]map[types.UserID]bool{},
	}
}

// GrantVisibility marks the user as holding a permission on the dataset so
// that List includes it. Test helper, paired with the permission store.
func (s *DatasetStore) GrantVisibility(id types.DatasetID, userID types.UserID) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.readers[id] == nil {
		s.readers[id] = map[types.UserID]bool{}
	}
	s.readers[id][userID] = true
}

// Create implements datasetstore.Store.
func (s *DatasetStore) Create(ctx context.Context, ds datasetstore.Dataset) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, existing := range s.datasets {
		if existing.CreatedBy == ds.CreatedBy && existing.Name == ds.Name {
			return sherr.New(sherr.Conflict, "dataset %q already exists for this user", ds.Name)
		}
	}
	s.datasets[ds.ID] = copyDataset(ds)
	return nil
}

// Get implements datasetstore.Store.
func (s *DatasetStore) Get(ctx context.Context, id types.DatasetID) (datasetstore.Dataset, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ds, ok := s.datasets[id]
	if !ok {
		return ds, sherr.New(sherr.NotFound, "dataset %s does not exist", id)
	}
	return copyDataset(ds), nil
}

// Update implements datasetstore.Store.
func (s *DatasetStore) Update(ctx context.Context, id types.DatasetID, name, description string, now time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ds, ok := s.datasets[id]
	if !ok {
		return sherr.New(sherr.NotFound, "dataset %s does not exist", id)
	}
	ds.Name = name
	ds.Description = description
	ds.UpdatedAt = now
	s.datasets[id] = ds
	return nil
}

// Delete implements datasetstore.Store.
func (s *DatasetStore) Delete(ctx context.Context, id types.DatasetID) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.datasets[id]; !ok {
		return sherr.New(sherr.NotFound, "dataset %s does not exist", id)
	}
	delete(s.datasets, id)
	delete(s.readers, id)
	return nil
}

// List implements datasetstore.Store.
func (s *DatasetStore) List(ctx context.Context, userID types.UserID, isAdmin bool, offset, limit int) ([]datasetstore.Dataset, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	visible := []datasetstore.Dataset{}
	for id, ds := range s.datasets {
		if isAdmin || ds.CreatedBy == userID || s.readers[id][userID] {
			visible = append(visible, copyDataset(ds))
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].CreatedAt.After(visible[j].CreatedAt)
		}
		return visible[i].ID.String() < visible[j].ID.String()
	})
	if offset >= len(visible) {
		return []datasetstore.Dataset{}, nil
	}
	end := offset + limit
	if end > len(visible) {
		end = len(visible)
	}
	return visible[offset:end], nil
}

// SetTags implements datasetstore.Store.
func (s *DatasetStore) SetTags(ctx context.Context, id types.DatasetID, tags []string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ds, ok := s.datasets[id]
	if !ok {
		return sherr.New(sherr.NotFound, "dataset %s does not exist", id)
	}
	cpy := make([]string, len(tags))
	copy(cpy, tags)
	sort.Strings(cpy)
	ds.Tags = cpy
	s.datasets[id] = ds
	return nil
}

func copyDataset(ds datasetstore.Dataset) datasetstore.Dataset {
	tags := make([]string, len(ds.Tags))
	copy(tags, ds.Tags)
	ds.Tags = tags
	return ds
}

var _ datasetstore.Store = (*DatasetStore)(nil)
