package service

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"

	"github.com/sheafdata/sheaf/go/derive"
	"github.com/sheafdata/sheaf/go/ingest/process"
	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/now"
	"github.com/sheafdata/sheaf/go/permstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
	"github.com/sheafdata/sheaf/go/userstore"
)

// EnqueueImport stages the upload and queues an import job onto the given
// ref. The upload is streamed to disk with the size cap enforced before
// anything is enqueued.
func (s *Service) EnqueueImport(ctx context.Context, user userstore.User, datasetID types.DatasetID, refName types.RefName, message string, file io.Reader, filename string) (uuid.UUID, error) {
	if message == "" {
		return uuid.Nil, sherr.New(sherr.Validation, "commit message must not be empty")
	}
	if refName == "" {
		refName = types.MainRef
	}
	jobID := uuid.New()
	ts := now.Now(ctx)

	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, permstore.Write); err != nil {
			return err
		}
		if _, err := u.Stores().Refs.Get(ctx, datasetID, refName); err != nil {
			return err
		}
		active, err := u.Stores().Jobs.CountActive(ctx, datasetID)
		if err != nil {
			return err
		}
		if active >= s.opts.MaxActiveImports {
			return sherr.New(sherr.QuotaExceeded, "dataset %s already has %d active imports", datasetID, active)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	staged, err := s.stager.Stage(file, filename)
	if err != nil {
		return uuid.Nil, err
	}

	params, err := json.Marshal(process.Params{
		FilePath: staged.Path,
		Filename: staged.Filename,
		Ref:      refName,
		Message:  message,
	})
	if err != nil {
		_ = staged.Remove()
		return uuid.Nil, sherr.Wrap(err)
	}
	err = uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		return u.Stores().Jobs.Enqueue(ctx, jobstore.Job{
			ID:        jobID,
			Type:      jobstore.RunImport,
			DatasetID: datasetID,
			UserID:    user.ID,
			Params:    params,
			CreatedAt: ts,
		})
	})
	if err != nil {
		_ = staged.Remove()
		return uuid.Nil, err
	}
	return jobID, nil
}

// resolveSourceCommit turns (commitID | refName) into the commit a derived
// job reads from.
func resolveSourceCommit(ctx context.Context, u uow.UnitOfWork, datasetID types.DatasetID, commitID types.CommitID, refName types.RefName) (types.CommitID, error) {
	if commitID != types.BadCommitID {
		if _, err := commitOfDataset(ctx, u, datasetID, commitID); err != nil {
			return types.BadCommitID, err
		}
		return commitID, nil
	}
	if refName == "" {
		refName = types.MainRef
	}
	ref, err := u.Stores().Refs.Get(ctx, datasetID, refName)
	if err != nil {
		return types.BadCommitID, err
	}
	if ref.CommitID == types.BadCommitID {
		return types.BadCommitID, sherr.New(sherr.BusinessRule, "ref %q has no commits yet", refName)
	}
	return ref.CommitID, nil
}

// EnqueueSample queues a sampling job against a commit or a ref's tip.
func (s *Service) EnqueueSample(ctx context.Context, user userstore.User, datasetID types.DatasetID, commitID types.CommitID, refName types.RefName, params derive.SampleParams) (uuid.UUID, error) {
	if params.Table == "" {
		params.Table = types.DefaultTableKey
	}
	if err := params.Validate(); err != nil {
		return uuid.Nil, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return uuid.Nil, sherr.Wrap(err)
	}
	return s.enqueueDerived(ctx, user, datasetID, commitID, refName, jobstore.RunSampling, permstore.Write, raw)
}

// EnqueueProfile queues a profiling job against a commit or a ref's tip.
func (s *Service) EnqueueProfile(ctx context.Context, user userstore.User, datasetID types.DatasetID, commitID types.CommitID, refName types.RefName, params derive.ProfileParams) (uuid.UUID, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return uuid.Nil, sherr.Wrap(err)
	}
	return s.enqueueDerived(ctx, user, datasetID, commitID, refName, jobstore.RunProfiling, permstore.Read, raw)
}

func (s *Service) enqueueDerived(ctx context.Context, user userstore.User, datasetID types.DatasetID, commitID types.CommitID, refName types.RefName, runType jobstore.RunType, need permstore.Level, params json.RawMessage) (uuid.UUID, error) {
	jobID := uuid.New()
	ts := now.Now(ctx)
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		if _, err := s.gate(u).Check(ctx, user, datasetID, need); err != nil {
			return err
		}
		source, err := resolveSourceCommit(ctx, u, datasetID, commitID, refName)
		if err != nil {
			return err
		}
		return u.Stores().Jobs.Enqueue(ctx, jobstore.Job{
			ID:           jobID,
			Type:         runType,
			DatasetID:    datasetID,
			SourceCommit: source,
			UserID:       user.ID,
			Params:       params,
			CreatedAt:    ts,
		})
	})
	if err != nil {
		return uuid.Nil, err
	}
	return jobID, nil
}

// GetJob returns a job if the user may read its dataset.
func (s *Service) GetJob(ctx context.Context, user userstore.User, jobID uuid.UUID) (jobstore.Job, error) {
	var job jobstore.Job
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		var err error
		job, err = u.Stores().Jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if _, err := s.gate(u).Check(ctx, user, job.DatasetID, permstore.Read); err != nil {
			// Hide the job the same way its dataset is hidden.
			if sherr.IsKind(err, sherr.NotFound) {
				return sherr.New(sherr.NotFound, "job %s does not exist", jobID)
			}
			return err
		}
		return nil
	})
	return job, err
}

// ListJobs returns a page of the user's own jobs matching the filter,
// newest first.
func (s *Service) ListJobs(ctx context.Context, user userstore.User, filter jobstore.ListFilter, offset, limit int) ([]jobstore.Job, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, sherr.New(sherr.Validation, "unknown run type %q", filter.Type)
	}
	offset, limit, err := s.page(offset, limit)
	if err != nil {
		return nil, err
	}
	var ret []jobstore.Job
	err = uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		var err error
		ret, err = u.Stores().Jobs.ListForUser(ctx, user.ID, filter, offset, limit)
		return err
	})
	return ret, err
}

// CancelJob cancels a pending or running job. Already-terminal jobs are
// left as they are. A commit the job already made is not undone.
func (s *Service) CancelJob(ctx context.Context, user userstore.User, jobID uuid.UUID) error {
	ts := now.Now(ctx)
	return uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		job, err := u.Stores().Jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if job.UserID != user.ID {
			if _, err := s.gate(u).Check(ctx, user, job.DatasetID, permstore.Write); err != nil {
				if sherr.IsKind(err, sherr.NotFound) {
					return sherr.New(sherr.NotFound, "job %s does not exist", jobID)
				}
				return err
			}
		}
		return u.Stores().Jobs.Cancel(ctx, jobID, ts)
	})
}
