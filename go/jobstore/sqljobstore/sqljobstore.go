// Package sqljobstore implements jobstore.Store on SQL.
//
// Claiming uses FOR UPDATE SKIP LOCKED so concurrent workers never contend
// on the same pending job.
package sqljobstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/sql/pool"
	"github.com/sheafdata/sheaf/go/types"
)

// statement is an SQL statement identifier.
type statement int

const (
	insertJob statement = iota
	getJob
	listJobsForUser
	claimJob
	heartbeatJob
	setProgress
	setCheckpoint
	completeJob
	failJob
	cancelJob
	recoverStale
	countActive
)

const jobColumns = `
            run_id, run_type, status, dataset_id, source_commit_id, user_id,
            params, progress, checkpoint, output_summary, error_message,
            claimed_by, heartbeat_at, created_at, completed_at`

// statements holds all the raw SQL statements used.
var statements = map[statement]string{
	insertJob: `
        INSERT INTO
            AnalysisRuns (run_id, run_type, status, dataset_id,
                source_commit_id, user_id, params, created_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8)`,
	getJob: `
        SELECT` + jobColumns + `
        FROM
            AnalysisRuns
        WHERE
            run_id = $1`,
	listJobsForUser: `
        SELECT` + jobColumns + `
        FROM
            AnalysisRuns
        WHERE
            user_id = $1
            AND ($2 = '' OR run_type = $2)
            AND ($3 = '' OR status = $3)
        ORDER BY
            created_at DESC, run_id
        LIMIT $4 OFFSET $5`,
	claimJob: `
        UPDATE
            AnalysisRuns
        SET
            status = 'running', claimed_by = $1, heartbeat_at = $2
        WHERE
            run_id = (
                SELECT run_id FROM AnalysisRuns
                WHERE status = 'pending'
                    AND (cardinality($3::text[]) = 0 OR run_type = ANY($3))
                ORDER BY created_at
                LIMIT 1
                FOR UPDATE SKIP LOCKED)
        RETURNING` + jobColumns,
	heartbeatJob: `
        UPDATE
            AnalysisRuns
        SET
            heartbeat_at = $3
        WHERE
            run_id = $1 AND status = 'running' AND claimed_by = $2`,
	setProgress: `
        UPDATE
            AnalysisRuns
        SET
            progress = $2
        WHERE
            run_id = $1 AND status = 'running'`,
	setCheckpoint: `
        UPDATE
            AnalysisRuns
        SET
            checkpoint = $2
        WHERE
            run_id = $1 AND status = 'running'`,
	completeJob: `
        UPDATE
            AnalysisRuns
        SET
            status = 'completed', output_summary = $2, completed_at = $3
        WHERE
            run_id = $1 AND status = 'running'`,
	failJob: `
        UPDATE
            AnalysisRuns
        SET
            status = 'failed', error_message = $2, completed_at = $3
        WHERE
            run_id = $1 AND status IN ('pending', 'running')`,
	cancelJob: `
        UPDATE
            AnalysisRuns
        SET
            status = 'cancelled', completed_at = $2
        WHERE
            run_id = $1 AND status IN ('pending', 'running')`,
	recoverStale: `
        UPDATE
            AnalysisRuns
        SET
            status = 'pending', claimed_by = '', heartbeat_at = NULL
        WHERE
            status = 'running' AND heartbeat_at < $1`,
	countActive: `
        SELECT
            COUNT(*)
        FROM
            AnalysisRuns
        WHERE
            dataset_id = $1 AND run_type = 'import' AND status IN ('pending', 'running')`,
}

// SQLJobStore implements jobstore.Store.
type SQLJobStore struct {
	db pool.Pool
}

// New returns a new SQLJobStore.
func New(db pool.Pool) *SQLJobStore {
	return &SQLJobStore{db: db}
}

// WithPool returns a copy of the store bound to a different pool.
func (s *SQLJobStore) WithPool(db pool.Pool) *SQLJobStore {
	return &SQLJobStore{db: db}
}

// Enqueue implements jobstore.Store.
func (s *SQLJobStore) Enqueue(ctx context.Context, job jobstore.Job) error {
	if !job.Type.Valid() {
		return sherr.New(sherr.Validation, "unknown run type %q", job.Type)
	}
	params := job.Params
	if params == nil {
		params = json.RawMessage(`{}`)
	}
	var sourceCommit interface{}
	if job.SourceCommit != types.BadCommitID {
		sourceCommit = job.SourceCommit.Bytes()
	}
	_, err := s.db.Exec(ctx, statements[insertJob],
		job.ID, string(job.Type), string(jobstore.StatusPending), job.DatasetID,
		sourceCommit, job.UserID, []byte(params), job.CreatedAt)
	if err != nil {
		return sherr.Wrapf(err, "enqueueing %s job %s", job.Type, job.ID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scannable) (jobstore.Job, error) {
	var job jobstore.Job
	var runType, status string
	var sourceCommit []byte
	var params, progress, checkpoint, summary []byte
	err := row.Scan(&job.ID, &runType, &status, &job.DatasetID, &sourceCommit,
		&job.UserID, &params, &progress, &checkpoint, &summary,
		&job.ErrorMessage, &job.ClaimedBy, &job.HeartbeatAt, &job.CreatedAt,
		&job.CompletedAt)
	if err != nil {
		return job, err
	}
	job.Type = jobstore.RunType(runType)
	job.Status = jobstore.Status(status)
	job.SourceCommit = types.CommitIDFromBytes(sourceCommit)
	job.Params = json.RawMessage(params)
	job.Checkpoint = json.RawMessage(checkpoint)
	job.OutputSummary = json.RawMessage(summary)
	if len(progress) > 0 {
		var p jobstore.Progress
		if err := json.Unmarshal(progress, &p); err != nil {
			return job, sherr.Wrapf(err, "corrupt progress of job %s", job.ID)
		}
		job.Progress = &p
	}
	return job, nil
}

// Get implements jobstore.Store.
func (s *SQLJobStore) Get(ctx context.Context, id uuid.UUID) (jobstore.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, statements[getJob], id))
	if err == pgx.ErrNoRows {
		return job, sherr.New(sherr.NotFound, "job %s does not exist", id)
	}
	if err != nil {
		return job, sherr.Wrapf(err, "getting job %s", id)
	}
	return job, nil
}

// ListForUser implements jobstore.Store.
func (s *SQLJobStore) ListForUser(ctx context.Context, userID types.UserID, filter jobstore.ListFilter, offset, limit int) ([]jobstore.Job, error) {
	rows, err := s.db.Query(ctx, statements[listJobsForUser], userID,
		string(filter.Type), string(filter.Status), limit, offset)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := []jobstore.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, sherr.Wrap(err)
		}
		ret = append(ret, job)
	}
	if err := rows.Err(); err != nil {
		return nil, sherr.Wrap(err)
	}
	return ret, nil
}

// Claim implements jobstore.Store.
func (s *SQLJobStore) Claim(ctx context.Context, workerID string, runTypes []jobstore.RunType, now time.Time) (jobstore.Job, bool, error) {
	typeNames := make([]string, 0, len(runTypes))
	for _, t := range runTypes {
		typeNames = append(typeNames, string(t))
	}
	job, err := scanJob(s.db.QueryRow(ctx, statements[claimJob], workerID, now, typeNames))
	if err == pgx.ErrNoRows {
		return jobstore.Job{}, false, nil
	}
	if err != nil {
		return jobstore.Job{}, false, sherr.Wrapf(err, "claiming a job for %q", workerID)
	}
	return job, true, nil
}

// guarded runs a conditional update and converts "nothing matched" into a
// Conflict error naming the job's actual state.
func (s *SQLJobStore) guarded(ctx context.Context, stmt statement, id uuid.UUID, args ...interface{}) error {
	tag, err := s.db.Exec(ctx, statements[stmt], append([]interface{}{id}, args...)...)
	if err != nil {
		return sherr.Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return sherr.New(sherr.Conflict, "job %s is %s", id, job.Status)
}

// Heartbeat implements jobstore.Store.
func (s *SQLJobStore) Heartbeat(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error {
	return s.guarded(ctx, heartbeatJob, id, workerID, now)
}

// SetProgress implements jobstore.Store.
func (s *SQLJobStore) SetProgress(ctx context.Context, id uuid.UUID, p jobstore.Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return sherr.Wrap(err)
	}
	return s.guarded(ctx, setProgress, id, b)
}

// SetCheckpoint implements jobstore.Store.
func (s *SQLJobStore) SetCheckpoint(ctx context.Context, id uuid.UUID, checkpoint json.RawMessage) error {
	return s.guarded(ctx, setCheckpoint, id, []byte(checkpoint))
}

// Complete implements jobstore.Store.
func (s *SQLJobStore) Complete(ctx context.Context, id uuid.UUID, summary json.RawMessage, now time.Time) error {
	if summary == nil {
		summary = json.RawMessage(`{}`)
	}
	return s.guarded(ctx, completeJob, id, []byte(summary), now)
}

// Fail implements jobstore.Store.
func (s *SQLJobStore) Fail(ctx context.Context, id uuid.UUID, msg string, now time.Time) error {
	return s.guarded(ctx, failJob, id, msg, now)
}

// Cancel implements jobstore.Store.
func (s *SQLJobStore) Cancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := s.db.Exec(ctx, statements[cancelJob], id, now)
	if err != nil {
		return sherr.Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Already terminal is fine, only a missing job is an error.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// RecoverStale implements jobstore.Store.
func (s *SQLJobStore) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, statements[recoverStale], cutoff)
	if err != nil {
		return 0, sherr.Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

// CountActive implements jobstore.Store.
func (s *SQLJobStore) CountActive(ctx context.Context, datasetID types.DatasetID) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, statements[countActive], datasetID).Scan(&n); err != nil {
		return 0, sherr.Wrap(err)
	}
	return n, nil
}

var _ jobstore.Store = (*SQLJobStore)(nil)
