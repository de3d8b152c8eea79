// Package mem provides an in-memory searchindex.Index for tests.
package mem

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sheafdata/sheaf/go/searchindex"
)

// SearchIndex implements searchindex.Index over an explicit document set.
// Tests seed it with Put and assert on RefreshRequests.
type SearchIndex struct {
	mtx             sync.Mutex
	docs            map[string]searchindex.Result
	refreshRequests int
}

// New returns an empty in-memory search index.
func New() *SearchIndex {
	return &SearchIndex{docs: map[string]searchindex.Result{}}
}

// Put adds or replaces a document.
func (s *SearchIndex) Put(r searchindex.Result) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.docs[r.DatasetID.String()] = r
}

// Remove deletes a document.
func (s *SearchIndex) Remove(datasetID string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.docs, datasetID)
}

// Search implements searchindex.Index.
func (s *SearchIndex) Search(ctx context.Context, query string, offset, limit int) ([]searchindex.Result, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	q := strings.ToLower(query)
	matched := []searchindex.Result{}
	for _, r := range s.docs {
		text := strings.ToLower(r.Name + " " + r.Description + " " + r.Tags)
		if q == "" || strings.Contains(text, q) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].DatasetID.String() < matched[j].DatasetID.String()
	})
	if offset >= len(matched) {
		return []searchindex.Result{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// RequestRefresh implements searchindex.Index.
func (s *SearchIndex) RequestRefresh() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.refreshRequests++
}

// RefreshRequests returns how many refreshes were requested. Test helper.
func (s *SearchIndex) RefreshRequests() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.refreshRequests
}

var _ searchindex.Index = (*SearchIndex)(nil)
