// Package mem provides an in-memory commitstore.Store for tests.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sheafdata/sheaf/go/commitstore"
	"github.com/sheafdata/sheaf/go/rowstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

type stagedKey struct {
	table types.TableKey
	index int64
}

// CommitStore implements commitstore.Store in memory. ReadRows joins
// against the given row store.
type CommitStore struct {
	mtx       sync.Mutex
	rows      rowstore.Store
	commits   map[types.CommitID]commitstore.Commit
	manifests map[types.CommitID][]commitstore.ManifestEntry
	schemas   map[types.CommitID]types.CommitSchema
	staged    map[uuid.UUID]map[stagedKey]types.RowHash
}

// New returns an empty in-memory commit store.
func New(rows rowstore.Store) *CommitStore {
	return &CommitStore{
		rows:      rows,
		commits:   map[types.CommitID]commitstore.Commit{},
		manifests: map[types.CommitID][]commitstore.ManifestEntry{},
		schemas:   map[types.CommitID]types.CommitSchema{},
		staged:    map[uuid.UUID]map[stagedKey]types.RowHash{},
	}
}

func sortManifest(m []commitstore.ManifestEntry) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Table != m[j].Table {
			return m[i].Table < m[j].Table
		}
		return m[i].Index < m[j].Index
	})
}

// Create implements commitstore.Store.
func (s *CommitStore) Create(ctx context.Context, commit commitstore.Commit, manifest []commitstore.ManifestEntry, schema types.CommitSchema) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.commits[commit.ID]; ok {
		return sherr.New(sherr.Conflict, "commit %s already exists", commit.ID)
	}
	cpy := make([]commitstore.ManifestEntry, len(manifest))
	copy(cpy, manifest)
	sortManifest(cpy)
	s.commits[commit.ID] = commit
	s.manifests[commit.ID] = cpy
	if schema == nil {
		schema = types.CommitSchema{}
	}
	s.schemas[commit.ID] = schema
	return nil
}

// CreateFromStaged implements commitstore.Store.
func (s *CommitStore) CreateFromStaged(ctx context.Context, commit commitstore.Commit, runID uuid.UUID, schema types.CommitSchema) error {
	s.mtx.Lock()
	staged := s.staged[runID]
	manifest := make([]commitstore.ManifestEntry, 0, len(staged))
	for k, h := range staged {
		manifest = append(manifest, commitstore.ManifestEntry{Table: k.table, Index: k.index, Hash: h})
	}
	s.mtx.Unlock()
	return s.Create(ctx, commit, manifest, schema)
}

// Get implements commitstore.Store.
func (s *CommitStore) Get(ctx context.Context, id types.CommitID) (commitstore.Commit, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	c, ok := s.commits[id]
	if !ok {
		return c, sherr.New(sherr.NotFound, "commit %s does not exist", id)
	}
	return c, nil
}

// ListAncestors implements commitstore.Store.
func (s *CommitStore) ListAncestors(ctx context.Context, id types.CommitID, limit, offset int) ([]commitstore.Commit, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	chain := []commitstore.Commit{}
	for cur := id; cur != types.BadCommitID; {
		c, ok := s.commits[cur]
		if !ok {
			break
		}
		chain = append(chain, c)
		cur = c.Parent
	}
	if offset >= len(chain) {
		return []commitstore.Commit{}, nil
	}
	end := offset + limit
	if end > len(chain) {
		end = len(chain)
	}
	return chain[offset:end], nil
}

// GetSchema implements commitstore.Store.
func (s *CommitStore) GetSchema(ctx context.Context, id types.CommitID) (types.CommitSchema, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	schema, ok := s.schemas[id]
	if !ok {
		return nil, sherr.New(sherr.NotFound, "no schema for commit %s", id)
	}
	return schema, nil
}

func (s *CommitStore) manifestPage(id types.CommitID, table types.TableKey, offset, limit int) []commitstore.ManifestEntry {
	all := []commitstore.ManifestEntry{}
	for _, e := range s.manifests[id] {
		if e.Table == table {
			all = append(all, e)
		}
	}
	if offset >= len(all) {
		return []commitstore.ManifestEntry{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// Manifest implements commitstore.Store.
func (s *CommitStore) Manifest(ctx context.Context, id types.CommitID, table types.TableKey, offset, limit int) ([]commitstore.ManifestEntry, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.manifestPage(id, table, offset, limit), nil
}

// ReadRows implements commitstore.Store.
func (s *CommitStore) ReadRows(ctx context.Context, id types.CommitID, table types.TableKey, offset, limit int) ([]commitstore.RowRecord, error) {
	s.mtx.Lock()
	page := s.manifestPage(id, table, offset, limit)
	s.mtx.Unlock()

	hashes := make([]types.RowHash, 0, len(page))
	for _, e := range page {
		hashes = append(hashes, e.Hash)
	}
	data, err := s.rows.Get(ctx, hashes)
	if err != nil {
		return nil, err
	}
	ret := make([]commitstore.RowRecord, 0, len(page))
	for _, e := range page {
		d, ok := data[e.Hash]
		if !ok {
			return nil, sherr.New(sherr.Internal, "manifest of commit %s references missing row %s", id, e.Hash)
		}
		ret = append(ret, commitstore.RowRecord{Table: e.Table, Index: e.Index, Hash: e.Hash, Data: d})
	}
	return ret, nil
}

// ListTables implements commitstore.Store.
func (s *CommitStore) ListTables(ctx context.Context, id types.CommitID) ([]commitstore.TableInfo, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	counts := map[types.TableKey]int64{}
	for _, e := range s.manifests[id] {
		counts[e.Table]++
	}
	schema := s.schemas[id]
	ret := make([]commitstore.TableInfo, 0, len(counts))
	for k, n := range counts {
		ret = append(ret, commitstore.TableInfo{Key: k, RowCount: n, ColumnCount: len(schema[k].Columns)})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Key < ret[j].Key })
	return ret, nil
}

// StageManifest implements commitstore.Store.
func (s *CommitStore) StageManifest(ctx context.Context, runID uuid.UUID, entries []commitstore.ManifestEntry) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	staged, ok := s.staged[runID]
	if !ok {
		staged = map[stagedKey]types.RowHash{}
		s.staged[runID] = staged
	}
	for _, e := range entries {
		k := stagedKey{table: e.Table, index: e.Index}
		if _, ok := staged[k]; !ok {
			staged[k] = e.Hash
		}
	}
	return nil
}

// StagedCounts implements commitstore.Store.
func (s *CommitStore) StagedCounts(ctx context.Context, runID uuid.UUID) (map[types.TableKey]int64, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ret := map[types.TableKey]int64{}
	for k := range s.staged[runID] {
		ret[k.table]++
	}
	return ret, nil
}

// DeleteStaged implements commitstore.Store.
func (s *CommitStore) DeleteStaged(ctx context.Context, runID uuid.UUID) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.staged, runID)
	return nil
}

// ManifestHashes returns the multiset of row hashes in the commit's
// manifest. Test helper.
func (s *CommitStore) ManifestHashes(id types.CommitID) []types.RowHash {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ret := []types.RowHash{}
	for _, e := range s.manifests[id] {
		ret = append(ret, e.Hash)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

var _ commitstore.Store = (*CommitStore)(nil)
