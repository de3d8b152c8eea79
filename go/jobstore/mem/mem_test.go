package mem

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/sherr"
)

var baseTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func enqueue(t *testing.T, s *JobStore, createdAt time.Time) jobstore.Job {
	job := jobstore.Job{
		ID:        uuid.New(),
		Type:      jobstore.RunImport,
		DatasetID: uuid.New(),
		UserID:    uuid.New(),
		CreatedAt: createdAt,
	}
	require.NoError(t, s.Enqueue(context.Background(), job))
	return job
}

func TestClaim_OldestPendingFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	second := enqueue(t, s, baseTime.Add(time.Minute))
	first := enqueue(t, s, baseTime)

	claimed, ok, err := s.Claim(ctx, "w1", nil, baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.ID, claimed.ID)
	require.Equal(t, jobstore.StatusRunning, claimed.Status)
	require.Equal(t, "w1", claimed.ClaimedBy)

	claimed, ok, err = s.Claim(ctx, "w2", nil, baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second.ID, claimed.ID)

	_, ok, err = s.Claim(ctx, "w3", nil, baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHeartbeat_WrongWorkerIsConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	job := enqueue(t, s, baseTime)
	_, _, err := s.Claim(ctx, "w1", nil, baseTime)
	require.NoError(t, err)

	require.NoError(t, s.Heartbeat(ctx, job.ID, "w1", baseTime.Add(time.Second)))
	err = s.Heartbeat(ctx, job.ID, "w2", baseTime.Add(time.Second))
	require.True(t, sherr.IsKind(err, sherr.Conflict))
}

func TestComplete_TerminalAbsorbs(t *testing.T) {
	ctx := context.Background()
	s := New()
	job := enqueue(t, s, baseTime)
	_, _, err := s.Claim(ctx, "w1", nil, baseTime)
	require.NoError(t, err)

	require.NoError(t, s.Complete(ctx, job.ID, json.RawMessage(`{"row_count":3}`), baseTime.Add(time.Minute)))

	// Terminal states reject Complete and Fail with a Conflict.
	err = s.Complete(ctx, job.ID, nil, baseTime.Add(time.Minute))
	require.True(t, sherr.IsKind(err, sherr.Conflict))
	err = s.Fail(ctx, job.ID, "boom", baseTime.Add(time.Minute))
	require.True(t, sherr.IsKind(err, sherr.Conflict))

	// But Cancel on a terminal job is a no-op.
	require.NoError(t, s.Cancel(ctx, job.ID, baseTime.Add(time.Minute)))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCompleted, got.Status)
	require.JSONEq(t, `{"row_count":3}`, string(got.OutputSummary))
	require.NotNil(t, got.CompletedAt)
}

func TestCancel_RunningJobRefusesHeartbeat(t *testing.T) {
	ctx := context.Background()
	s := New()
	job := enqueue(t, s, baseTime)
	_, _, err := s.Claim(ctx, "w1", nil, baseTime)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, job.ID, baseTime.Add(time.Second)))

	// The holder observes the cancellation on its next heartbeat.
	err = s.Heartbeat(ctx, job.ID, "w1", baseTime.Add(2*time.Second))
	require.True(t, sherr.IsKind(err, sherr.Conflict))
}

func TestFail_PendingJob(t *testing.T) {
	ctx := context.Background()
	s := New()
	job := enqueue(t, s, baseTime)
	require.NoError(t, s.Fail(ctx, job.ID, "parse error", baseTime.Add(time.Second)))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusFailed, got.Status)
	require.Equal(t, "parse error", got.ErrorMessage)
}

func TestRecoverStale_KeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := New()
	job := enqueue(t, s, baseTime)
	_, _, err := s.Claim(ctx, "w1", nil, baseTime)
	require.NoError(t, err)
	require.NoError(t, s.SetCheckpoint(ctx, job.ID, json.RawMessage(`{"manifest_length":500}`)))

	// A fresh heartbeat is not recovered.
	n, err := s.RecoverStale(ctx, baseTime.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = s.RecoverStale(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusPending, got.Status)
	require.Empty(t, got.ClaimedBy)
	require.JSONEq(t, `{"manifest_length":500}`, string(got.Checkpoint))

	// The recovered job can be claimed again.
	claimed, ok, err := s.Claim(ctx, "w2", nil, baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.ID, claimed.ID)
}

func TestCountActive_OnlyNonTerminalImports(t *testing.T) {
	ctx := context.Background()
	s := New()
	datasetID := uuid.New()

	pending := jobstore.Job{ID: uuid.New(), Type: jobstore.RunImport, DatasetID: datasetID, CreatedAt: baseTime}
	require.NoError(t, s.Enqueue(ctx, pending))
	sample := jobstore.Job{ID: uuid.New(), Type: jobstore.RunSampling, DatasetID: datasetID, CreatedAt: baseTime}
	require.NoError(t, s.Enqueue(ctx, sample))
	done := jobstore.Job{ID: uuid.New(), Type: jobstore.RunImport, DatasetID: datasetID, CreatedAt: baseTime}
	require.NoError(t, s.Enqueue(ctx, done))
	require.NoError(t, s.Fail(ctx, done.ID, "x", baseTime))

	n, err := s.CountActive(ctx, datasetID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestListForUser_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	userID := uuid.New()
	old := jobstore.Job{ID: uuid.New(), Type: jobstore.RunImport, UserID: userID, CreatedAt: baseTime}
	recent := jobstore.Job{ID: uuid.New(), Type: jobstore.RunProfiling, UserID: userID, CreatedAt: baseTime.Add(time.Hour)}
	other := jobstore.Job{ID: uuid.New(), Type: jobstore.RunImport, UserID: uuid.New(), CreatedAt: baseTime}
	for _, j := range []jobstore.Job{old, recent, other} {
		require.NoError(t, s.Enqueue(ctx, j))
	}

	jobs, err := s.ListForUser(ctx, userID, jobstore.ListFilter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, recent.ID, jobs[0].ID)
	require.Equal(t, old.ID, jobs[1].ID)

	jobs, err = s.ListForUser(ctx, userID, jobstore.ListFilter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, old.ID, jobs[0].ID)
}

func TestListForUser_Filtered(t *testing.T) {
	ctx := context.Background()
	s := New()
	userID := uuid.New()
	imp := jobstore.Job{ID: uuid.New(), Type: jobstore.RunImport, UserID: userID, CreatedAt: baseTime}
	prof := jobstore.Job{ID: uuid.New(), Type: jobstore.RunProfiling, UserID: userID, CreatedAt: baseTime.Add(time.Minute)}
	for _, j := range []jobstore.Job{imp, prof} {
		require.NoError(t, s.Enqueue(ctx, j))
	}
	require.NoError(t, s.Cancel(ctx, prof.ID, baseTime.Add(time.Hour)))

	jobs, err := s.ListForUser(ctx, userID, jobstore.ListFilter{Type: jobstore.RunImport}, 0, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, imp.ID, jobs[0].ID)

	jobs, err = s.ListForUser(ctx, userID, jobstore.ListFilter{Status: jobstore.StatusCancelled}, 0, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, prof.ID, jobs[0].ID)

	jobs, err = s.ListForUser(ctx, userID, jobstore.ListFilter{Type: jobstore.RunImport, Status: jobstore.StatusCancelled}, 0, 10)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestClaim_RestrictedToRunTypes(t *testing.T) {
	ctx := context.Background()
	s := New()
	older := jobstore.Job{ID: uuid.New(), Type: jobstore.RunExploration, CreatedAt: baseTime}
	newer := jobstore.Job{ID: uuid.New(), Type: jobstore.RunImport, CreatedAt: baseTime.Add(time.Minute)}
	for _, j := range []jobstore.Job{older, newer} {
		require.NoError(t, s.Enqueue(ctx, j))
	}

	// The older exploration job is skipped when the claim names types.
	claimed, ok, err := s.Claim(ctx, "w1", []jobstore.RunType{jobstore.RunImport, jobstore.RunSampling}, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newer.ID, claimed.ID)

	_, ok, err = s.Claim(ctx, "w1", []jobstore.RunType{jobstore.RunImport}, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	// An unrestricted claim still reaches it.
	claimed, ok, err = s.Claim(ctx, "w2", nil, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, older.ID, claimed.ID)
}
