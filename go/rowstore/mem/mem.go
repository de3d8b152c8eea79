// Package mem provides an in-memory rowstore.Store for tests.
package mem

import (
	"context"
	"sync"

	"github.com/sheafdata/sheaf/go/rowstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

// RowStore implements rowstore.Store in memory.
type RowStore struct {
	mtx  sync.Mutex
	rows map[types.RowHash]types.RowData
}

// New returns an empty in-memory row store.
func New() *RowStore {
	return &RowStore{rows: map[types.RowHash]types.RowData{}}
}

// Put implements rowstore.Store.
func (s *RowStore) Put(ctx context.Context, rows []types.RowData) ([]types.RowHash, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ret := make([]types.RowHash, len(rows))
	for i, r := range rows {
		h, err := rowstore.HashRow(r)
		if err != nil {
			return nil, sherr.Wrapf(err, "hashing row %d", i)
		}
		ret[i] = h
		if _, ok := s.rows[h]; !ok {
			cpy := make(types.RowData, len(r))
			for k, v := range r {
				cpy[k] = v
			}
			s.rows[h] = cpy
		}
	}
	return ret, nil
}

// Get implements rowstore.Store.
func (s *RowStore) Get(ctx context.Context, hashes []types.RowHash) (map[types.RowHash]types.RowData, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ret := make(map[types.RowHash]types.RowData, len(hashes))
	for _, h := range hashes {
		if data, ok := s.rows[h]; ok {
			ret[h] = data
		}
	}
	return ret, nil
}

// Len returns the number of distinct rows stored.
func (s *RowStore) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.rows)
}

var _ rowstore.Store = (*RowStore)(nil)
