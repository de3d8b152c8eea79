// Package mem provides an in-memory jobstore.Store for tests.
package mem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

// JobStore implements jobstore.Store in memory.
type JobStore struct {
	mtx  sync.Mutex
	jobs map[uuid.UUID]jobstore.Job
}

// New returns an empty in-memory job store.
func New() *JobStore {
	return &JobStore{jobs: map[uuid.UUID]jobstore.Job{}}
}

// Enqueue implements jobstore.Store.
func (s *JobStore) Enqueue(ctx context.Context, job jobstore.Job) error {
	if !job.Type.Valid() {
		return sherr.New(sherr.Validation, "unknown run type %q", job.Type)
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return sherr.New(sherr.Conflict, "job %s already exists", job.ID)
	}
	job.Status = jobstore.StatusPending
	s.jobs[job.ID] = job
	return nil
}

// Get implements jobstore.Store.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (jobstore.Job, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return job, sherr.New(sherr.NotFound, "job %s does not exist", id)
	}
	return job, nil
}

// ListForUser implements jobstore.Store.
func (s *JobStore) ListForUser(ctx context.Context, userID types.UserID, filter jobstore.ListFilter, offset, limit int) ([]jobstore.Job, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ret := []jobstore.Job{}
	for _, job := range s.jobs {
		if job.UserID != userID {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		ret = append(ret, job)
	}
	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].CreatedAt.After(ret[j].CreatedAt)
		}
		return ret[i].ID.String() < ret[j].ID.String()
	})
	if offset >= len(ret) {
		return []jobstore.Job{}, nil
	}
	end := offset + limit
	if end > len(ret) {
		end = len(ret)
	}
	return ret[offset:end], nil
}

// Claim implements jobstore.Store.
func (s *JobStore) Claim(ctx context.Context, workerID string, runTypes []jobstore.RunType, now time.Time) (jobstore.Job, bool, error) {
	claimable := func(t jobstore.RunType) bool {
		if len(runTypes) == 0 {
			return true
		}
		for _, rt := range runTypes {
			if t == rt {
				return true
			}
		}
		return false
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var oldest *jobstore.Job
	for id := range s.jobs {
		job := s.jobs[id]
		if job.Status != jobstore.StatusPending || !claimable(job.Type) {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &job
		}
	}
	if oldest == nil {
		return jobstore.Job{}, false, nil
	}
	oldest.Status = jobstore.StatusRunning
	oldest.ClaimedBy = workerID
	hb := now
	oldest.HeartbeatAt = &hb
	s.jobs[oldest.ID] = *oldest
	return *oldest, true, nil
}

// mutateRunning applies fn to the job if it is running, otherwise returns
// a Conflict error naming its state.
func (s *JobStore) mutateRunning(id uuid.UUID, fn func(*jobstore.Job)) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sherr.New(sherr.NotFound, "job %s does not exist", id)
	}
	if job.Status != jobstore.StatusRunning {
		return sherr.New(sherr.Conflict, "job %s is %s", id, job.Status)
	}
	fn(&job)
	s.jobs[id] = job
	return nil
}

// Heartbeat implements jobstore.Store.
func (s *JobStore) Heartbeat(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error {
	s.mtx.Lock()
	job, ok := s.jobs[id]
	claimMismatch := ok && job.ClaimedBy != workerID
	s.mtx.Unlock()
	if claimMismatch {
		return sherr.New(sherr.Conflict, "job %s is claimed by %q", id, job.ClaimedBy)
	}
	return s.mutateRunning(id, func(j *jobstore.Job) {
		hb := now
		j.HeartbeatAt = &hb
	})
}

// SetProgress implements jobstore.Store.
func (s *JobStore) SetProgress(ctx context.Context, id uuid.UUID, p jobstore.Progress) error {
	return s.mutateRunning(id, func(j *jobstore.Job) {
		cpy := p
		j.Progress = &cpy
	})
}

// SetCheckpoint implements jobstore.Store.
func (s *JobStore) SetCheckpoint(ctx context.Context, id uuid.UUID, checkpoint json.RawMessage) error {
	return s.mutateRunning(id, func(j *jobstore.Job) {
		j.Checkpoint = append(json.RawMessage{}, checkpoint...)
	})
}

// Complete implements jobstore.Store.
func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, summary json.RawMessage, now time.Time) error {
	return s.mutateRunning(id, func(j *jobstore.Job) {
		j.Status = jobstore.StatusCompleted
		j.OutputSummary = append(json.RawMessage{}, summary...)
		done := now
		j.CompletedAt = &done
	})
}

// Fail implements jobstore.Store.
func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, msg string, now time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sherr.New(sherr.NotFound, "job %s does not exist", id)
	}
	if job.Status.Terminal() {
		return sherr.New(sherr.Conflict, "job %s is %s", id, job.Status)
	}
	job.Status = jobstore.StatusFailed
	job.ErrorMessage = msg
	done := now
	job.CompletedAt = &done
	s.jobs[id] = job
	return nil
}

// Cancel implements jobstore.Store.
func (s *JobStore) Cancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sherr.New(sherr.NotFound, "job %s does not exist", id)
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = jobstore.StatusCancelled
	done := now
	job.CompletedAt = &done
	s.jobs[id] = job
	return nil
}

// RecoverStale implements jobstore.Store.
func (s *JobStore) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.Status == jobstore.StatusRunning && job.HeartbeatAt != nil && job.HeartbeatAt.Before(cutoff) {
			job.Status = jobstore.StatusPending
			job.ClaimedBy = ""
			job.HeartbeatAt = nil
			s.jobs[id] = job
			n++
		}
	}
	return n, nil
}

// CountActive implements jobstore.Store.
func (s *JobStore) CountActive(ctx context.Context, datasetID types.DatasetID) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.DatasetID == datasetID && job.Type == jobstore.RunImport && !job.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

var _ jobstore.Store = (*JobStore)(nil)
