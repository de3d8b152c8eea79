package schema

// Schema is the SQL schema. It must be kept in sync with the struct tags in
// tables.go. Statements are idempotent so cmd/sheafmigrate can be re-run.
const Schema = `
CREATE TABLE IF NOT EXISTS Users (
	user_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email TEXT UNIQUE NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	is_admin BOOL NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS Datasets (
	dataset_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_by UUID NOT NULL REFERENCES Users (user_id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, created_by)
);

CREATE TABLE IF NOT EXISTS Tags (
	tag_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS DatasetTags (
	dataset_id UUID NOT NULL REFERENCES Datasets (dataset_id) ON DELETE CASCADE,
	tag_id UUID NOT NULL REFERENCES Tags (tag_id) ON DELETE CASCADE,
	PRIMARY KEY (dataset_id, tag_id)
);

CREATE TABLE IF NOT EXISTS Permissions (
	dataset_id UUID NOT NULL REFERENCES Datasets (dataset_id) ON DELETE CASCADE,
	user_id UUID NOT NULL REFERENCES Users (user_id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	PRIMARY KEY (dataset_id, user_id)
);

CREATE TABLE IF NOT EXISTS Rows (
	row_hash BYTEA PRIMARY KEY,
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS Commits (
	commit_id BYTEA PRIMARY KEY,
	dataset_id UUID NOT NULL REFERENCES Datasets (dataset_id) ON DELETE CASCADE,
	parent_commit_id BYTEA REFERENCES Commits (commit_id) ON DELETE CASCADE,
	message TEXT NOT NULL,
	author_id UUID NOT NULL,
	authored_at TIMESTAMPTZ NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS commits_by_dataset
	ON Commits (dataset_id, committed_at DESC, commit_id DESC);

CREATE TABLE IF NOT EXISTS CommitManifests (
	commit_id BYTEA NOT NULL REFERENCES Commits (commit_id) ON DELETE CASCADE,
	table_key TEXT NOT NULL,
	row_index INT8 NOT NULL,
	row_hash BYTEA NOT NULL,
	PRIMARY KEY (commit_id, table_key, row_index)
);

CREATE TABLE IF NOT EXISTS CommitSchemas (
	commit_id BYTEA PRIMARY KEY REFERENCES Commits (commit_id) ON DELETE CASCADE,
	schema JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS Refs (
	dataset_id UUID NOT NULL REFERENCES Datasets (dataset_id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	commit_id BYTEA REFERENCES Commits (commit_id) ON DELETE SET NULL,
	PRIMARY KEY (dataset_id, name)
);

CREATE TABLE IF NOT EXISTS AnalysisRuns (
	run_id UUID PRIMARY KEY,
	run_type TEXT NOT NULL,
	status TEXT NOT NULL,
	dataset_id UUID NOT NULL REFERENCES Datasets (dataset_id) ON DELETE CASCADE,
	source_commit_id BYTEA REFERENCES Commits (commit_id) ON DELETE SET NULL,
	user_id UUID NOT NULL,
	params JSONB NOT NULL DEFAULT '{}',
	progress JSONB,
	checkpoint JSONB,
	output_summary JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	claimed_by TEXT NOT NULL DEFAULT '',
	heartbeat_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS analysis_runs_claim
	ON AnalysisRuns (status, run_type, created_at);

CREATE INDEX IF NOT EXISTS analysis_runs_by_user
	ON AnalysisRuns (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS AuditEvents (
	event_id UUID PRIMARY KEY,
	event_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	payload JSONB,
	occurred_at TIMESTAMPTZ NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS audit_events_by_aggregate
	ON AuditEvents (aggregate_type, aggregate_id, occurred_at DESC);

CREATE UNLOGGED TABLE IF NOT EXISTS StagedManifests (
	run_id UUID NOT NULL,
	table_key TEXT NOT NULL,
	row_index INT8 NOT NULL,
	row_hash BYTEA NOT NULL,
	PRIMARY KEY (run_id, table_key, row_index)
);
`

// SearchIndexView creates the materialized dataset summary. Kept out of
// Schema because materialized views cannot be created inside every test
// transaction and cmd/sheafmigrate applies it separately.
const SearchIndexView = `
CREATE MATERIALIZED VIEW IF NOT EXISTS DatasetSearchIndex AS
SELECT
	d.dataset_id,
	d.name,
	d.description,
	u.email AS creator,
	d.created_at,
	d.updated_at,
	COALESCE(string_agg(t.name, ' '), '') AS tags,
	d.name || ' ' || d.description || ' ' || COALESCE(string_agg(t.name, ' '), '') AS search_text
FROM Datasets d
JOIN Users u ON u.user_id = d.created_by
LEFT JOIN DatasetTags dt ON dt.dataset_id = d.dataset_id
LEFT JOIN Tags t ON t.tag_id = dt.tag_id
GROUP BY d.dataset_id, d.name, d.description, u.email, d.created_at, d.updated_at;

CREATE UNIQUE INDEX IF NOT EXISTS dataset_search_index_by_id
	ON DatasetSearchIndex (dataset_id);
`
