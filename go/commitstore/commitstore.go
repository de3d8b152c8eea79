// Package commitstore defines the commit graph: immutable commits chained
// by parent pointers, their manifests, and their captured schemas.
package commitstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/sheafdata/sheaf/go/types"
)

// Commit is one immutable snapshot of a dataset.
type Commit struct {
	ID        types.CommitID `json:"commit_id"`
	DatasetID types.DatasetID `json:"dataset_id"`
	// Parent is empty for root commits.
	Parent      types.CommitID `json:"parent_commit_id,omitempty"`
	Message     string         `json:"message"`
	AuthorID    types.UserID   `json:"author_id"`
	AuthoredAt  time.Time      `json:"authored_at"`
	CommittedAt time.Time      `json:"committed_at"`
}

// ManifestEntry is one row reference inside a commit.
type ManifestEntry struct {
	Table types.TableKey
	Index int64
	Hash  types.RowHash
}

// LogicalRowID returns the entry's "<table_key>:<index>" id.
func (e ManifestEntry) LogicalRowID() types.LogicalRowID {
	return types.MakeLogicalRowID(e.Table, int(e.Index))
}

// RowRecord is a manifest entry joined with its payload.
type RowRecord struct {
	Table types.TableKey
	Index int64
	Hash  types.RowHash
	Data  types.RowData
}

// TableInfo summarizes one logical table of a commit.
type TableInfo struct {
	Key         types.TableKey `json:"key"`
	RowCount    int64          `json:"row_count"`
	ColumnCount int            `json:"column_count"`
}

// Store is the interface for the commit graph.
//
// Create and CreateFromStaged are atomic with their manifest insert when the
// store is bound to a transaction, which is how the Unit-of-Work uses them.
type Store interface {
	// Create writes the commit, its manifest and its schema.
	Create(ctx context.Context, commit Commit, manifest []ManifestEntry, schema types.CommitSchema) error

	// CreateFromStaged writes the commit and copies its manifest from the
	// staged scratch region of the given run.
	CreateFromStaged(ctx context.Context, commit Commit, runID uuid.UUID, schema types.CommitSchema) error

	// Get returns the commit with the given id.
	Get(ctx context.Context, id types.CommitID) (Commit, error)

	// ListAncestors returns the commit and its ancestors following parent
	// pointers, most recent first.
	ListAncestors(ctx context.Context, id types.CommitID, limit, offset int) ([]Commit, error)

	// GetSchema returns the schema captured for the commit.
	GetSchema(ctx context.Context, id types.CommitID) (types.CommitSchema, error)

	// Manifest returns a page of the commit's manifest for one table,
	// ordered by row index.
	Manifest(ctx context.Context, id types.CommitID, table types.TableKey, offset, limit int) ([]ManifestEntry, error)

	// ReadRows returns a page of the commit's rows for one table, joined
	// against the row store, ordered by row index.
	ReadRows(ctx context.Context, id types.CommitID, table types.TableKey, offset, limit int) ([]RowRecord, error)

	// ListTables returns the distinct tables of the commit with their row
	// counts, ordered by table key.
	ListTables(ctx context.Context, id types.CommitID) ([]TableInfo, error)

	// StageManifest appends entries to the scratch manifest of the given
	// run. Idempotent: re-staging the same (table, index) is a no-op.
	StageManifest(ctx context.Context, runID uuid.UUID, entries []ManifestEntry) error

	// StagedCounts returns the number of staged entries per table for the
	// given run.
	StagedCounts(ctx context.Context, runID uuid.UUID) (map[types.TableKey]int64, error)

	// DeleteStaged removes the scratch manifest of the given run.
	DeleteStaged(ctx context.Context, runID uuid.UUID) error
}

// ComputeID returns the deterministic commit id: the SHA-256 digest over
// the commit's identifying fields plus a uniqueness salt. The import
// pipeline salts with the job id so a re-run of the same job reproduces the
// same id.
func ComputeID(datasetID types.DatasetID, parent types.CommitID, message string, authoredAt time.Time, salt string) types.CommitID {
	h := sha256.New()
	h.Write([]byte(datasetID.String()))
	h.Write([]byte{'\n'})
	h.Write([]byte(parent))
	h.Write([]byte{'\n'})
	h.Write([]byte(message))
	h.Write([]byte{'\n'})
	h.Write([]byte(authoredAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{'\n'})
	h.Write([]byte(salt))
	return types.CommitID(hex.EncodeToString(h.Sum(nil)))
}
