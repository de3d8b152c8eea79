// Package schema describes every SQL table used by Sheaf. Tables are
// declared as Go structs with sql struct tags so the DDL and the row types
// stay next to each other, and so tests can build rows programmatically.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// RowHashBytes is the raw 32 byte content hash as stored in BYTEA columns.
// Declared as a byte slice rather than an array because the pgx driver only
// accepts slices.
type RowHashBytes []byte

// CommitIDBytes is the raw 32 byte commit digest as stored in BYTEA columns.
type CommitIDBytes []byte

// SerializedJSON is the string form of a JSON-encoded value. Object keys are
// in lexicographic order (the canonical encoding) for determinism.
type SerializedJSON string

// Tables represents all SQL tables used by Sheaf.
type Tables struct {
	Users           []UserRow
	Datasets        []DatasetRow
	Tags            []TagRow
	DatasetTags     []DatasetTagRow
	Permissions     []PermissionRow
	Rows            []RowRow
	Commits         []CommitRow
	CommitManifests []CommitManifestRow
	CommitSchemas   []CommitSchemaRow
	Refs            []RefRow
	AnalysisRuns    []AnalysisRunRow
	AuditEvents     []AuditEventRow
	StagedManifests []StagedManifestRow
}

type UserRow struct {
	UserID      uuid.UUID `sql:"user_id UUID PRIMARY KEY DEFAULT gen_random_uuid()"`
	Email       string    `sql:"email TEXT UNIQUE NOT NULL"`
	DisplayName string    `sql:"display_name TEXT NOT NULL DEFAULT ''"`
	// IsAdmin grants every permission on every dataset.
	IsAdmin   bool      `sql:"is_admin BOOL NOT NULL DEFAULT FALSE"`
	CreatedAt time.Time `sql:"created_at TIMESTAMPTZ NOT NULL DEFAULT now()"`
}

type DatasetRow struct {
	DatasetID   uuid.UUID `sql:"dataset_id UUID PRIMARY KEY DEFAULT gen_random_uuid()"`
	Name        string    `sql:"name TEXT NOT NULL"`
	Description string    `sql:"description TEXT NOT NULL DEFAULT ''"`
	CreatedBy   uuid.UUID `sql:"created_by UUID NOT NULL REFERENCES Users (user_id)"`
	CreatedAt   time.Time `sql:"created_at TIMESTAMPTZ NOT NULL DEFAULT now()"`
	UpdatedAt   time.Time `sql:"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()"`
	// A user cannot own two datasets with the same name.
	unique struct{} `sql:"UNIQUE (name, created_by)"`
}

type TagRow struct {
	TagID uuid.UUID `sql:"tag_id UUID PRIMARY KEY DEFAULT gen_random_uuid()"`
	Name  string    `sql:"name TEXT UNIQUE NOT NULL"`
}

type DatasetTagRow struct {
	DatasetID  uuid.UUID `sql:"dataset_id UUID NOT NULL REFERENCES Datasets (dataset_id) ON DELETE CASCADE"`
	TagID      uuid.UUID `sql:"tag_id UUID NOT NULL REFERENCES Tags (tag_id) ON DELETE CASCADE"`
	primaryKey struct{}  `sql:"PRIMARY KEY (dataset_id, tag_id)"`
}

type PermissionRow struct {
	DatasetID uuid.UUID `sql:"dataset_id UUID NOT NULL REFERENCES Datasets (dataset_id) ON DELETE CASCADE"`
	UserID    uuid.UUID `sql:"user_id UUID NOT NULL REFERENCES Users (user_id) ON DELETE CASCADE"`
	// Kind is one of "read", "write", "admin". admin ⊃ write ⊃ read.
	Kind       string   `sql:"kind TEXT NOT NULL"`
	primaryKey struct{} `sql:"PRIMARY KEY (dataset_id, user_id)"`
}

// RowRow is the content-addressed row store. Insert-only, never mutated, and
// deliberately not cascaded when datasets are deleted: hashes may be shared
// between datasets.
type RowRow struct {
	// RowHash is the SHA-256 of the canonicalized row payload.
	RowHash RowHashBytes `sql:"row_hash BYTEA PRIMARY KEY"`
	// Data is the canonicalized payload itself. Same hash implies same data.
	Data SerializedJSON `sql:"data JSONB NOT NULL"`
}

type CommitRow struct {
	CommitID  CommitIDBytes `sql:"commit_id BYTEA PRIMARY KEY"`
	DatasetID uuid.UUID     `sql:"dataset_id UUID NOT NULL REFERENCES Datasets (dataset_id) ON DELETE CASCADE"`
	// ParentCommitID is null for root commits. Cascaded so that deleting a
	// dataset can remove whole chains in one statement.
	ParentCommitID CommitIDBytes `sql:"parent_commit_id BYTEA REFERENCES Commits (commit_id) ON DELETE CASCADE"`
	Message        string        `sql:"message TEXT NOT NULL"`
	AuthorID       uuid.UUID     `sql:"author_id UUID NOT NULL"`
	AuthoredAt     time.Time     `sql:"authored_at TIMESTAMPTZ NOT NULL"`
	CommittedAt    time.Time     `sql:"committed_at TIMESTAMPTZ NOT NULL"`
}

// CommitManifestRow stores one manifest entry. The logical row id
// "<table_key>:<row_index>" is stored split so that reads can page in
// (table_key, row_index) order without parsing strings in SQL.
type CommitManifestRow struct {
	CommitID   CommitIDBytes `sql:"commit_id BYTEA NOT NULL REFERENCES Commits (commit_id) ON DELETE CASCADE"`
	TableKey   string        `sql:"table_key TEXT NOT NULL"`
	RowIndex   int64         `sql:"row_index INT8 NOT NULL"`
	RowHash    RowHashBytes  `sql:"row_hash BYTEA NOT NULL"`
	primaryKey struct{}      `sql:"PRIMARY KEY (commit_id, table_key, row_index)"`
}

type CommitSchemaRow struct {
	CommitID CommitIDBytes `sql:"commit_id BYTEA PRIMARY KEY REFERENCES Commits (commit_id) ON DELETE CASCADE"`
	// Schema is a JSON map of table_key -> {columns: [{name, type, nullable}]}.
	Schema SerializedJSON `sql:"schema JSONB NOT NULL"`
}

type RefRow struct {
	DatasetID uuid.UUID `sql:"dataset_id UUID NOT NULL REFERENCES Datasets (dataset_id) ON DELETE CASCADE"`
	Name      string    `sql:"name TEXT NOT NULL"`
	// CommitID is null for refs of empty datasets. SET NULL keeps dataset
	// cascades from tripping over the ref while both rows are being removed.
	CommitID   CommitIDBytes `sql:"commit_id BYTEA REFERENCES Commits (commit_id) ON DELETE SET NULL"`
	primaryKey struct{}      `sql:"PRIMARY KEY (dataset_id, name)"`
}

type AnalysisRunRow struct {
	RunID uuid.UUID `sql:"run_id UUID PRIMARY KEY"`
	// RunType is one of "import", "sampling", "exploration", "profiling".
	RunType string `sql:"run_type TEXT NOT NULL"`
	// Status is one of "pending", "running", "completed", "failed", "cancelled".
	Status         string         `sql:"status TEXT NOT NULL"`
	DatasetID      uuid.UUID      `sql:"dataset_id UUID NOT NULL REFERENCES Datasets (dataset_id) ON DELETE CASCADE"`
	SourceCommitID CommitIDBytes  `sql:"source_commit_id BYTEA REFERENCES Commits (commit_id) ON DELETE SET NULL"`
	UserID         uuid.UUID      `sql:"user_id UUID NOT NULL"`
	Params         SerializedJSON `sql:"params JSONB NOT NULL DEFAULT '{}'"`
	Progress       SerializedJSON `sql:"progress JSONB"`
	Checkpoint     SerializedJSON `sql:"checkpoint JSONB"`
	OutputSummary  SerializedJSON `sql:"output_summary JSONB"`
	ErrorMessage   string         `sql:"error_message TEXT NOT NULL DEFAULT ''"`
	ClaimedBy      string         `sql:"claimed_by TEXT NOT NULL DEFAULT ''"`
	HeartbeatAt    *time.Time     `sql:"heartbeat_at TIMESTAMPTZ"`
	CreatedAt      time.Time      `sql:"created_at TIMESTAMPTZ NOT NULL DEFAULT now()"`
	CompletedAt    *time.Time     `sql:"completed_at TIMESTAMPTZ"`
}

type AuditEventRow struct {
	EventID       uuid.UUID      `sql:"event_id UUID PRIMARY KEY"`
	EventType     string         `sql:"event_type TEXT NOT NULL"`
	AggregateID   string         `sql:"aggregate_id TEXT NOT NULL"`
	AggregateType string         `sql:"aggregate_type TEXT NOT NULL"`
	UserID        string         `sql:"user_id TEXT NOT NULL DEFAULT ''"`
	Payload       SerializedJSON `sql:"payload JSONB"`
	OccurredAt    time.Time      `sql:"occurred_at TIMESTAMPTZ NOT NULL"`
	CorrelationID string         `sql:"correlation_id TEXT NOT NULL DEFAULT ''"`
}

// StagedManifestRow is the scratch region used while an import is running.
// The table is UNLOGGED; its contents are deleted when the import finishes,
// whatever the outcome.
type StagedManifestRow struct {
	RunID      uuid.UUID    `sql:"run_id UUID NOT NULL"`
	TableKey   string       `sql:"table_key TEXT NOT NULL"`
	RowIndex   int64        `sql:"row_index INT8 NOT NULL"`
	RowHash    RowHashBytes `sql:"row_hash BYTEA NOT NULL"`
	primaryKey struct{}     `sql:"PRIMARY KEY (run_id, table_key, row_index)"`
}
