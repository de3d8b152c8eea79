// Package process runs import jobs: stream the staged file, batch and
// dedup its rows, persist a resumable checkpoint, create the commit and
// advance the ref by compare-and-set, reparenting once if the ref moved.
package process

import (
	"context"
	"encoding/json"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sheafdata/sheaf/go/commitstore"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/ingest/parser"
	"github.com/sheafdata/sheaf/go/ingest/upload"
	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/metrics"
	"github.com/sheafdata/sheaf/go/now"
	"github.com/sheafdata/sheaf/go/searchindex"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/shlog"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
)

// ErrRefMovedUnderImport is returned when the target ref moved twice under
// one import: once absorbed by the reparent, and again on the retried CAS.
var ErrRefMovedUnderImport = sherr.New(sherr.Conflict, "ref moved under import")

// Params is the run_parameters payload of an import job.
type Params struct {
	FilePath string        `json:"file_path"`
	Filename string        `json:"filename"`
	Ref      types.RefName `json:"ref"`
	Message  string        `json:"message"`
}

// Checkpoint is persisted at intervals so a reclaimed job can resume
// without re-staging rows it already wrote.
type Checkpoint struct {
	RowsEmitted   map[types.TableKey]int64 `json:"rows_emitted_per_table"`
	ManifestLen   int64                    `json:"manifest_length"`
	ParentAtStart types.CommitID           `json:"parent_at_start"`
}

// TableSummary is the per-table part of an import's output summary.
type TableSummary struct {
	Key      types.TableKey `json:"key"`
	RowCount int64          `json:"row_count"`
}

// Summary is the output summary of a successful import.
type Summary struct {
	CommitID types.CommitID `json:"commit_id"`
	RowCount int64          `json:"row_count"`
	Sheets   []TableSummary `json:"sheets"`
}

// Importer runs import jobs.
type Importer struct {
	uowf  uow.Factory
	jobs  jobstore.Store
	index searchindex.Index

	// batchSize is the number of rows staged per transaction.
	batchSize int
	// checkpointEvery is the number of batches between checkpoints.
	checkpointEvery int

	rowsImported prometheus.Counter
	reparents    prometheus.Counter
}

// New returns an Importer.
func New(uowf uow.Factory, jobs jobstore.Store, index searchindex.Index, batchSize, checkpointEvery int) *Importer {
	return &Importer{
		uowf:            uowf,
		jobs:            jobs,
		index:           index,
		batchSize:       batchSize,
		checkpointEvery: checkpointEvery,
		rowsImported:    metrics.GetCounter("sheaf_import_rows"),
		reparents:       metrics.GetCounter("sheaf_import_reparents"),
	}
}

// Run executes one claimed import job to completion. A nil return means
// the job reached a terminal state itself (completed, or cancelled under
// us); an error return means the caller should mark the job failed.
func (i *Importer) Run(ctx context.Context, job jobstore.Job, workerID string) error {
	var params Params
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return sherr.WithKind(sherr.Wrap(err), sherr.Validation)
	}
	staged := upload.Staged{Path: params.FilePath, Filename: params.Filename}

	cp, err := i.loadOrInitCheckpoint(ctx, job, params)
	if err != nil {
		return i.cleanupAfter(ctx, job, staged, err)
	}

	r, format, err := parser.Open(params.FilePath)
	if err != nil {
		return i.cleanupAfter(ctx, job, staged, err)
	}
	defer func() {
		_ = r.Close()
	}()
	shlog.Infof("Job %s: importing %q (%s) onto %s parent %q", job.ID, params.Filename, format, params.Ref, cp.ParentAtStart)

	if err := i.stageAll(ctx, job, workerID, r, &cp); err != nil {
		if sherr.IsKind(err, sherr.Conflict) {
			// The job was cancelled or reclaimed under us; stageAll
			// already decided what to clean up.
			return nil
		}
		return i.cleanupAfter(ctx, job, staged, err)
	}

	summary, err := i.commit(ctx, job, params, cp, r.Schemas())
	if err != nil {
		return i.cleanupAfter(ctx, job, staged, err)
	}

	b, err := json.Marshal(summary)
	if err != nil {
		return i.cleanupAfter(ctx, job, staged, sherr.Wrap(err))
	}
	if err := i.jobs.Complete(ctx, job.ID, b, now.Now(ctx)); err != nil {
		return i.cleanupAfter(ctx, job, staged, err)
	}
	i.index.RequestRefresh()
	if err := i.cleanup(ctx, job, staged); err != nil {
		// The import itself succeeded; leftovers only cost disk.
		shlog.Warningf("Job %s: cleanup failed: %s", job.ID, err)
	}
	shlog.Infof("Job %s: committed %s with %d rows", job.ID, summary.CommitID, summary.RowCount)
	return nil
}

// loadOrInitCheckpoint returns the job's persisted checkpoint, or a fresh
// one anchored at the ref's current tip.
func (i *Importer) loadOrInitCheckpoint(ctx context.Context, job jobstore.Job, params Params) (Checkpoint, error) {
	if len(job.Checkpoint) > 0 {
		var cp Checkpoint
		if err := json.Unmarshal(job.Checkpoint, &cp); err != nil {
			return Checkpoint{}, sherr.Wrapf(err, "corrupt checkpoint of job %s", job.ID)
		}
		if cp.RowsEmitted == nil {
			cp.RowsEmitted = map[types.TableKey]int64{}
		}
		shlog.Infof("Job %s: resuming from checkpoint, %d manifest entries staged", job.ID, cp.ManifestLen)
		return cp, nil
	}
	cp := Checkpoint{RowsEmitted: map[types.TableKey]int64{}}
	err := uow.Do(ctx, i.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		ref, err := u.Stores().Refs.Get(ctx, job.DatasetID, params.Ref)
		if err != nil {
			return err
		}
		cp.ParentAtStart = ref.CommitID
		return nil
	})
	return cp, err
}

// stageAll streams the file, staging one batch of rows per transaction.
func (i *Importer) stageAll(ctx context.Context, job jobstore.Job, workerID string, r parser.Reader, cp *Checkpoint) error {
	batch := make([]parser.Row, 0, i.batchSize)
	batchesDone := int64(0)

	flush := func() error {
		if len(batch) > 0 {
			if err := i.stageBatch(ctx, job, batch, cp); err != nil {
				return err
			}
			i.rowsImported.Add(float64(len(batch)))
			batch = batch[:0]
		}
		batchesDone++

		// Progress, heartbeat and the cancellation check happen at batch
		// boundaries only.
		if err := i.jobs.Heartbeat(ctx, job.ID, workerID, now.Now(ctx)); err != nil {
			return i.abandoned(ctx, job, err)
		}
		if err := i.jobs.SetProgress(ctx, job.ID, jobstore.Progress{
			Phase:         "importing",
			RowsProcessed: cp.ManifestLen,
			BatchesDone:   batchesDone,
		}); err != nil {
			return err
		}
		if i.checkpointEvery > 0 && batchesDone%int64(i.checkpointEvery) == 0 {
			if err := i.persistCheckpoint(ctx, job, *cp); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		row, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		// Rows staged before the checkpoint was taken are skipped, not
		// re-hashed.
		if row.Index <= cp.RowsEmitted[row.Table] {
			continue
		}
		batch = append(batch, row)
		if len(batch) >= i.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// abandoned decides what to do when a heartbeat is refused: a cancelled
// job is cleaned up, a reclaimed one is left for its new owner.
func (i *Importer) abandoned(ctx context.Context, job jobstore.Job, heartbeatErr error) error {
	current, err := i.jobs.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.Status == jobstore.StatusCancelled {
		shlog.Infof("Job %s: cancelled, aborting import", job.ID)
		staged := upload.Staged{Path: pathOf(job)}
		if err := i.cleanup(ctx, job, staged); err != nil {
			shlog.Warningf("Job %s: cleanup after cancel failed: %s", job.ID, err)
		}
	} else {
		shlog.Warningf("Job %s: no longer ours (%s), abandoning", job.ID, current.Status)
	}
	return heartbeatErr
}

func pathOf(job jobstore.Job) string {
	var params Params
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return ""
	}
	return params.FilePath
}

// stageBatch writes one batch: novel rows into the row store and manifest
// entries into the job's scratch region, in a single transaction.
func (i *Importer) stageBatch(ctx context.Context, job jobstore.Job, batch []parser.Row, cp *Checkpoint) error {
	return uow.Do(ctx, i.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		rows := make([]types.RowData, 0, len(batch))
		for _, r := range batch {
			rows = append(rows, r.Data)
		}
		hashes, err := u.Stores().Rows.Put(ctx, rows)
		if err != nil {
			return err
		}
		entries := make([]commitstore.ManifestEntry, 0, len(batch))
		for n, r := range batch {
			entries = append(entries, commitstore.ManifestEntry{Table: r.Table, Index: r.Index, Hash: hashes[n]})
		}
		if err := u.Stores().Commits.StageManifest(ctx, job.ID, entries); err != nil {
			return err
		}
		for _, r := range batch {
			if r.Index > cp.RowsEmitted[r.Table] {
				cp.RowsEmitted[r.Table] = r.Index
			}
		}
		cp.ManifestLen += int64(len(batch))
		return nil
	})
}

func (i *Importer) persistCheckpoint(ctx context.Context, job jobstore.Job, cp Checkpoint) error {
	b, err := json.Marshal(cp)
	if err != nil {
		return sherr.Wrap(err)
	}
	return i.jobs.SetCheckpoint(ctx, job.ID, b)
}

// commit creates the commit from the staged manifest and advances the ref
// by CAS, reparenting onto the new tip and retrying exactly once if the
// ref moved since the job started.
func (i *Importer) commit(ctx context.Context, job jobstore.Job, params Params, cp Checkpoint, schema types.CommitSchema) (Summary, error) {
	summary, err := i.tryCommit(ctx, job, params, cp.ParentAtStart, schema)
	if err == nil {
		return summary, nil
	}
	if !sherr.IsKind(err, sherr.Conflict) {
		return Summary{}, err
	}

	i.reparents.Add(1)
	var newTip types.CommitID
	if err := uow.Do(ctx, i.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		ref, err := u.Stores().Refs.Get(ctx, job.DatasetID, params.Ref)
		if err != nil {
			return err
		}
		newTip = ref.CommitID
		return nil
	}); err != nil {
		return Summary{}, err
	}
	shlog.Infof("Job %s: ref %s moved from %q to %q, reparenting", job.ID, params.Ref, cp.ParentAtStart, newTip)

	summary, err = i.tryCommit(ctx, job, params, newTip, schema)
	if err == nil {
		return summary, nil
	}
	if sherr.IsKind(err, sherr.Conflict) {
		return Summary{}, ErrRefMovedUnderImport
	}
	return Summary{}, err
}

// tryCommit writes the commit and moves the ref in one transaction. If the
// CAS loses, the whole transaction rolls back and no commit is persisted.
func (i *Importer) tryCommit(ctx context.Context, job jobstore.Job, params Params, parent types.CommitID, schema types.CommitSchema) (Summary, error) {
	var summary Summary
	err := uow.Do(ctx, i.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		ts := now.Now(ctx)
		commit := commitstore.Commit{
			ID:          commitstore.ComputeID(job.DatasetID, parent, params.Message, ts, job.ID.String()),
			DatasetID:   job.DatasetID,
			Parent:      parent,
			Message:     params.Message,
			AuthorID:    job.UserID,
			AuthoredAt:  ts,
			CommittedAt: ts,
		}
		if err := u.Stores().Commits.CreateFromStaged(ctx, commit, job.ID, schema); err != nil {
			return err
		}
		if err := u.Stores().Refs.CompareAndSet(ctx, job.DatasetID, params.Ref, parent, commit.ID); err != nil {
			return err
		}
		counts, err := u.Stores().Commits.StagedCounts(ctx, job.ID)
		if err != nil {
			return err
		}
		summary = Summary{CommitID: commit.ID, Sheets: []TableSummary{}}
		tables, err := u.Stores().Commits.ListTables(ctx, commit.ID)
		if err != nil {
			return err
		}
		for _, t := range tables {
			summary.RowCount += counts[t.Key]
			summary.Sheets = append(summary.Sheets, TableSummary{Key: t.Key, RowCount: t.RowCount})
		}

		payload, err := json.Marshal(map[string]interface{}{
			"commit_id": commit.ID,
			"ref":       params.Ref,
			"row_count": summary.RowCount,
		})
		if err != nil {
			return sherr.Wrap(err)
		}
		committed := events.New(events.DatasetCommitted, events.AggregateDataset, job.DatasetID.String(), ts)
		committed.UserID = job.UserID.String()
		committed.Payload = payload
		committed.CorrelationID = job.ID.String()
		u.Publish(committed)

		updated := events.New(events.DatasetUpdated, events.AggregateDataset, job.DatasetID.String(), ts)
		updated.UserID = job.UserID.String()
		updated.CorrelationID = job.ID.String()
		u.Publish(updated)
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// cleanup removes the staged file and the job's scratch manifest.
func (i *Importer) cleanup(ctx context.Context, job jobstore.Job, staged upload.Staged) error {
	var result *multierror.Error
	if staged.Path != "" {
		if err := staged.Remove(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	err := uow.Do(ctx, i.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		return u.Stores().Commits.DeleteStaged(ctx, job.ID)
	})
	if err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// cleanupAfter runs cleanup on the failure path and returns the original
// error with any cleanup failures appended.
func (i *Importer) cleanupAfter(ctx context.Context, job jobstore.Job, staged upload.Staged, cause error) error {
	if err := i.cleanup(ctx, job, staged); err != nil {
		return multierror.Append(cause, err).ErrorOrNil()
	}
	return cause
}
