package process_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sheafdata/sheaf/go/commitstore"
	commitmem "github.com/sheafdata/sheaf/go/commitstore/mem"
	"github.com/sheafdata/sheaf/go/eventbus"
	"github.com/sheafdata/sheaf/go/ingest/process"
	"github.com/sheafdata/sheaf/go/jobstore"
	jobmem "github.com/sheafdata/sheaf/go/jobstore/mem"
	"github.com/sheafdata/sheaf/go/now"
	"github.com/sheafdata/sheaf/go/refstore"
	refmem "github.com/sheafdata/sheaf/go/refstore/mem"
	"github.com/sheafdata/sheaf/go/rowstore"
	rowmem "github.com/sheafdata/sheaf/go/rowstore/mem"
	searchmem "github.com/sheafdata/sheaf/go/searchindex/mem"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
	"github.com/sheafdata/sheaf/go/uow/memuow"
)

type harness struct {
	ctx      context.Context
	rows     *rowmem.RowStore
	commits  *commitmem.CommitStore
	refs     *refmem.RefStore
	jobs     *jobmem.JobStore
	index    *searchmem.SearchIndex
	importer *process.Importer

	datasetID types.DatasetID
	userID    types.UserID
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()
	h := &harness{
		ctx:       now.TimeTravelingContext(context.Background(), time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)),
		rows:      rowmem.New(),
		jobs:      jobmem.New(),
		refs:      refmem.New(),
		index:     searchmem.New(),
		datasetID: uuid.New(),
		userID:    uuid.New(),
	}
	h.commits = commitmem.New(h.rows)
	uowf := memuow.New(uow.Stores{
		Rows:    h.rows,
		Commits: h.commits,
		Refs:    h.refs,
		Jobs:    h.jobs,
	}, eventbus.New())
	h.importer = process.New(uowf, h.jobs, h.index, batchSize, 1)
	require.NoError(t, h.refs.Create(h.ctx, refstore.Ref{DatasetID: h.datasetID, Name: types.MainRef}))
	return h
}

// enqueueImport stages a file with the given contents, enqueues the import
// job and claims it.
func (h *harness) enqueueImport(t *testing.T, contents string) jobstore.Job {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	params, err := json.Marshal(process.Params{
		FilePath: path,
		Filename: "people.csv",
		Ref:      types.MainRef,
		Message:  "import people",
	})
	require.NoError(t, err)
	job := jobstore.Job{
		ID:        uuid.New(),
		Type:      jobstore.RunImport,
		DatasetID: h.datasetID,
		UserID:    h.userID,
		Params:    params,
		CreatedAt: now.Now(h.ctx),
	}
	require.NoError(t, h.jobs.Enqueue(h.ctx, job))
	claimed, ok, err := h.jobs.Claim(h.ctx, "w1", nil, now.Now(h.ctx))
	require.NoError(t, err)
	require.True(t, ok)
	return claimed
}

func (h *harness) mainTip(t *testing.T) types.CommitID {
	t.Helper()
	ref, err := h.refs.Get(h.ctx, h.datasetID, types.MainRef)
	require.NoError(t, err)
	return ref.CommitID
}

func TestRun_ImportRoundTrip(t *testing.T) {
	h := newHarness(t, 2)
	job := h.enqueueImport(t, "name,age\nada,36\ngrace,85\nlinus,55\n")

	require.NoError(t, h.importer.Run(h.ctx, job, "w1"))

	done, err := h.jobs.Get(h.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCompleted, done.Status)

	var summary process.Summary
	require.NoError(t, json.Unmarshal(done.OutputSummary, &summary))
	require.Equal(t, int64(3), summary.RowCount)
	require.Len(t, summary.Sheets, 1)
	require.Equal(t, types.DefaultTableKey, summary.Sheets[0].Key)

	tip := h.mainTip(t)
	require.Equal(t, summary.CommitID, tip)
	commit, err := h.commits.Get(h.ctx, tip)
	require.NoError(t, err)
	require.Equal(t, types.BadCommitID, commit.Parent)
	require.Equal(t, "import people", commit.Message)
	require.Equal(t, h.userID, commit.AuthorID)

	records, err := h.commits.ReadRows(h.ctx, tip, types.DefaultTableKey, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, types.RowData{"name": "ada", "age": "36"}, records[0].Data)
	require.Equal(t, types.RowData{"name": "linus", "age": "55"}, records[2].Data)

	// The staged file and the scratch manifest are gone and the search
	// index was poked.
	var params process.Params
	require.NoError(t, json.Unmarshal(job.Params, &params))
	_, err = os.Stat(params.FilePath)
	require.True(t, os.IsNotExist(err))
	counts, err := h.commits.StagedCounts(h.ctx, job.ID)
	require.NoError(t, err)
	require.Empty(t, counts)
	require.Equal(t, 1, h.index.RefreshRequests())
}

func TestRun_DuplicateRowsStoredOnce(t *testing.T) {
	h := newHarness(t, 10)
	job := h.enqueueImport(t, "name\nada\nada\ngrace\nada\n")

	require.NoError(t, h.importer.Run(h.ctx, job, "w1"))

	// Four manifest entries, two distinct payloads.
	tip := h.mainTip(t)
	records, err := h.commits.ReadRows(h.ctx, tip, types.DefaultTableKey, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, 2, h.rows.Len())
	require.Equal(t, records[0].Hash, records[1].Hash)
	require.NotEqual(t, records[0].Hash, records[2].Hash)
}

func TestRun_EmptyFileCommitsNothing(t *testing.T) {
	h := newHarness(t, 10)
	job := h.enqueueImport(t, "")

	require.NoError(t, h.importer.Run(h.ctx, job, "w1"))

	done, err := h.jobs.Get(h.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCompleted, done.Status)

	var summary process.Summary
	require.NoError(t, json.Unmarshal(done.OutputSummary, &summary))
	require.Equal(t, int64(0), summary.RowCount)

	// An empty commit still advances the ref.
	require.Equal(t, summary.CommitID, h.mainTip(t))
}

func TestRun_MalformedFileFailsAndCleansUp(t *testing.T) {
	h := newHarness(t, 10)
	job := h.enqueueImport(t, "name,age\nada,36\nbroken\n")

	err := h.importer.Run(h.ctx, job, "w1")
	require.True(t, sherr.IsKind(err, sherr.InvalidFileFormat))

	var params process.Params
	require.NoError(t, json.Unmarshal(job.Params, &params))
	_, statErr := os.Stat(params.FilePath)
	require.True(t, os.IsNotExist(statErr))
	counts, err := h.commits.StagedCounts(h.ctx, job.ID)
	require.NoError(t, err)
	require.Empty(t, counts)
	require.Equal(t, types.BadCommitID, h.mainTip(t))
}

func TestRun_CancelledUnderWorker(t *testing.T) {
	h := newHarness(t, 10)
	job := h.enqueueImport(t, "name\nada\n")
	require.NoError(t, h.jobs.Cancel(h.ctx, job.ID, now.Now(h.ctx)))

	// A nil return: the job reached a terminal state itself.
	require.NoError(t, h.importer.Run(h.ctx, job, "w1"))

	done, err := h.jobs.Get(h.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCancelled, done.Status)
	require.Equal(t, types.BadCommitID, h.mainTip(t))

	var params process.Params
	require.NoError(t, json.Unmarshal(job.Params, &params))
	_, statErr := os.Stat(params.FilePath)
	require.True(t, os.IsNotExist(statErr))
}

func TestRun_ResumeSkipsCheckpointedRows(t *testing.T) {
	h := newHarness(t, 10)
	job := h.enqueueImport(t, "name\nada\ngrace\nlinus\n")

	// Simulate a previous owner that staged the first two rows and
	// checkpointed before dying.
	var staged []commitstore.ManifestEntry
	for i, name := range []string{"ada", "grace"} {
		hash, err := rowstore.HashRow(types.RowData{"name": name})
		require.NoError(t, err)
		_, err = h.rows.Put(h.ctx, []types.RowData{{"name": name}})
		require.NoError(t, err)
		staged = append(staged, commitstore.ManifestEntry{
			Table: types.DefaultTableKey,
			Index: int64(i) + 1,
			Hash:  hash,
		})
	}
	require.NoError(t, h.commits.StageManifest(h.ctx, job.ID, staged))
	cp, err := json.Marshal(process.Checkpoint{
		RowsEmitted: map[types.TableKey]int64{types.DefaultTableKey: 2},
		ManifestLen: 2,
	})
	require.NoError(t, err)
	job.Checkpoint = cp

	require.NoError(t, h.importer.Run(h.ctx, job, "w1"))

	records, err := h.commits.ReadRows(h.ctx, h.mainTip(t), types.DefaultTableKey, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, types.RowData{"name": "ada"}, records[0].Data)
	require.Equal(t, types.RowData{"name": "linus"}, records[2].Data)
}

func TestRun_ReparentsOnceWhenRefMoved(t *testing.T) {
	h := newHarness(t, 10)
	job := h.enqueueImport(t, "name\nada\n")

	// The ref moved after the job recorded its parent.
	movedTo := commitstore.ComputeID(h.datasetID, "", "concurrent import", now.Now(h.ctx), "other")
	require.NoError(t, h.commits.Create(h.ctx, commitstore.Commit{
		ID:        movedTo,
		DatasetID: h.datasetID,
		Message:   "concurrent import",
	}, nil, nil))
	require.NoError(t, h.refs.CompareAndSet(h.ctx, h.datasetID, types.MainRef, types.BadCommitID, movedTo))
	cp, err := json.Marshal(process.Checkpoint{
		RowsEmitted: map[types.TableKey]int64{},
		// ParentAtStart is the unborn tip the job saw at claim time.
	})
	require.NoError(t, err)
	job.Checkpoint = cp

	require.NoError(t, h.importer.Run(h.ctx, job, "w1"))

	tip := h.mainTip(t)
	commit, err := h.commits.Get(h.ctx, tip)
	require.NoError(t, err)
	require.Equal(t, movedTo, commit.Parent)
}
