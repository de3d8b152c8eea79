// Package jobstore defines the registry of asynchronous runs: imports,
// sampling and profiling.
package jobstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sheafdata/sheaf/go/types"
)

// RunType is the kind of work a job performs.
type RunType string

const (
	RunImport      RunType = "import"
	RunSampling    RunType = "sampling"
	RunExploration RunType = "exploration"
	RunProfiling   RunType = "profiling"
)

// Valid returns true for known run types.
func (t RunType) Valid() bool {
	return t == RunImport || t == RunSampling || t == RunExploration || t == RunProfiling
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal returns true for states a job never leaves.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress is the coarse progress a worker reports at batch boundaries.
type Progress struct {
	Phase         string `json:"phase"`
	RowsProcessed int64  `json:"rows_processed"`
	BatchesDone   int64  `json:"batches_done"`
}

// ListFilter narrows a job listing. Zero-valued fields match everything.
type ListFilter struct {
	Type   RunType
	Status Status
}

// Job is one asynchronous run.
type Job struct {
	ID            uuid.UUID       `json:"job_id"`
	Type          RunType         `json:"type"`
	Status        Status          `json:"status"`
	DatasetID     types.DatasetID `json:"dataset_id"`
	SourceCommit  types.CommitID  `json:"source_commit_id,omitempty"`
	UserID        types.UserID    `json:"user_id"`
	Params        json.RawMessage `json:"params,omitempty"`
	Progress      *Progress       `json:"progress,omitempty"`
	Checkpoint    json.RawMessage `json:"-"`
	OutputSummary json.RawMessage `json:"output_summary,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ClaimedBy     string          `json:"-"`
	HeartbeatAt   *time.Time      `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Store is the interface for the job registry.
//
// Terminal states absorb: Complete and Fail on an already-terminal job
// return a Conflict error, Cancel on one is a no-op. A worker holding a
// job that was cancelled under it observes the state flip via Get or a
// failing Heartbeat and abandons the run.
type Store interface {
	// Enqueue adds a new pending job.
	Enqueue(ctx context.Context, job Job) error

	// Get returns the job with the given id.
	Get(ctx context.Context, id uuid.UUID) (Job, error)

	// ListForUser returns a page of the user's jobs matching the filter,
	// newest first.
	ListForUser(ctx context.Context, userID types.UserID, filter ListFilter, offset, limit int) ([]Job, error)

	// Claim atomically moves the oldest pending job of one of the given
	// run types to running on behalf of the named worker. An empty type
	// list claims any type. Returns false if no job is pending.
	Claim(ctx context.Context, workerID string, runTypes []RunType, now time.Time) (Job, bool, error)

	// Heartbeat refreshes the claim of a running job. Returns a Conflict
	// error if the job is no longer running as this worker, which is the
	// worker's cancellation signal.
	Heartbeat(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error

	// SetProgress records coarse progress on a running job.
	SetProgress(ctx context.Context, id uuid.UUID, p Progress) error

	// SetCheckpoint records the resumable checkpoint of a running job.
	SetCheckpoint(ctx context.Context, id uuid.UUID, checkpoint json.RawMessage) error

	// Complete moves a running job to completed with its output summary.
	Complete(ctx context.Context, id uuid.UUID, summary json.RawMessage, now time.Time) error

	// Fail moves a pending or running job to failed.
	Fail(ctx context.Context, id uuid.UUID, msg string, now time.Time) error

	// Cancel moves a pending or running job to cancelled. No-op when the
	// job is already terminal.
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) error

	// RecoverStale resets running jobs whose heartbeat is older than the
	// cutoff back to pending, keeping their checkpoints. Returns how many
	// were reset.
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)

	// CountActive returns the number of pending or running import jobs
	// on the dataset.
	CountActive(ctx context.Context, datasetID types.DatasetID) (int, error)
}
