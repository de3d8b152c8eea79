package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sheafdata/sheaf/go/commitstore"
	commitmem "github.com/sheafdata/sheaf/go/commitstore/mem"
	"github.com/sheafdata/sheaf/go/derive"
	"github.com/sheafdata/sheaf/go/eventbus"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/ingest/process"
	"github.com/sheafdata/sheaf/go/jobstore"
	jobmem "github.com/sheafdata/sheaf/go/jobstore/mem"
	"github.com/sheafdata/sheaf/go/now"
	refmem "github.com/sheafdata/sheaf/go/refstore/mem"
	"github.com/sheafdata/sheaf/go/rowstore"
	rowmem "github.com/sheafdata/sheaf/go/rowstore/mem"
	searchmem "github.com/sheafdata/sheaf/go/searchindex/mem"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
	"github.com/sheafdata/sheaf/go/uow/memuow"
)

type busSpy struct {
	mtx  sync.Mutex
	seen []events.Event
}

func (b *busSpy) record(e events.Event) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.seen = append(b.seen, e)
}

func (b *busSpy) byType(t events.EventType) []events.Event {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	ret := []events.Event{}
	for _, e := range b.seen {
		if e.Type == t {
			ret = append(ret, e)
		}
	}
	return ret
}

type runnerHarness struct {
	ctx    context.Context
	jobs   *jobmem.JobStore
	spy    *busSpy
	runner *Runner

	datasetID types.DatasetID
	source    types.CommitID
}

// newRunnerHarness builds a Runner over mem stores, with a ten-row source
// commit for derived jobs to read.
func newRunnerHarness(t *testing.T) *runnerHarness {
	t.Helper()
	h := &runnerHarness{
		ctx:       now.TimeTravelingContext(context.Background(), time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)),
		jobs:      jobmem.New(),
		spy:       &busSpy{},
		datasetID: uuid.New(),
	}
	rows := rowmem.New()
	commits := commitmem.New(rows)
	refs := refmem.New()
	bus := eventbus.New()
	bus.SubscribeAsync(eventbus.AllEvents, h.spy.record)
	uowf := memuow.New(uow.Stores{
		Rows:    rows,
		Commits: commits,
		Refs:    refs,
		Jobs:    h.jobs,
	}, bus)

	manifest := []commitstore.ManifestEntry{}
	for i := 0; i < 10; i++ {
		data := types.RowData{"n": string(rune('a' + i))}
		hash, err := rowstore.HashRow(data)
		require.NoError(t, err)
		_, err = rows.Put(h.ctx, []types.RowData{data})
		require.NoError(t, err)
		manifest = append(manifest, commitstore.ManifestEntry{
			Table: types.DefaultTableKey,
			Index: int64(i) + 1,
			Hash:  hash,
		})
	}
	ts := now.Now(h.ctx)
	h.source = commitstore.ComputeID(h.datasetID, "", "seed", ts, "seed")
	require.NoError(t, commits.Create(h.ctx, commitstore.Commit{
		ID:          h.source,
		DatasetID:   h.datasetID,
		Message:     "seed",
		AuthoredAt:  ts,
		CommittedAt: ts,
	}, manifest, types.CommitSchema{types.DefaultTableKey: {Columns: []types.Column{{Name: "n", Type: types.ColumnString, Nullable: true}}}}))

	importer := process.New(uowf, h.jobs, searchmem.New(), 100, 1)
	h.runner = New(h.jobs, importer, derive.NewSampler(uowf, h.jobs), derive.NewProfiler(uowf, h.jobs), bus, 1, time.Minute)
	return h
}

// claim enqueues the job and claims it under the runner's worker id.
func (h *runnerHarness) claim(t *testing.T, job jobstore.Job) jobstore.Job {
	t.Helper()
	job.DatasetID = h.datasetID
	job.UserID = uuid.New()
	job.CreatedAt = now.Now(h.ctx)
	require.NoError(t, h.jobs.Enqueue(h.ctx, job))
	claimed, ok, err := h.jobs.Claim(h.ctx, h.runner.workerID, nil, now.Now(h.ctx))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.ID, claimed.ID)
	return claimed
}

func TestRunOne_SampleJobSucceeds(t *testing.T) {
	h := newRunnerHarness(t)
	params, err := json.Marshal(derive.SampleParams{Strategy: derive.StrategyRandom, Size: 3, Seed: 1})
	require.NoError(t, err)
	job := h.claim(t, jobstore.Job{
		ID:           uuid.New(),
		Type:         jobstore.RunSampling,
		SourceCommit: h.source,
		Params:       params,
	})

	h.runner.runOne(h.ctx, job)

	done, err := h.jobs.Get(h.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCompleted, done.Status)

	require.Eventually(t, func() bool {
		return len(h.spy.byType(events.JobCompleted)) == 1
	}, time.Second, 10*time.Millisecond)
	e := h.spy.byType(events.JobCompleted)[0]
	require.Equal(t, job.ID.String(), e.AggregateID)
	require.Equal(t, job.ID.String(), e.CorrelationID)
}

func TestRunOne_ProfileJobSucceeds(t *testing.T) {
	h := newRunnerHarness(t)
	params, err := json.Marshal(derive.ProfileParams{Table: types.DefaultTableKey})
	require.NoError(t, err)
	job := h.claim(t, jobstore.Job{
		ID:           uuid.New(),
		Type:         jobstore.RunProfiling,
		SourceCommit: h.source,
		Params:       params,
	})

	h.runner.runOne(h.ctx, job)

	done, err := h.jobs.Get(h.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCompleted, done.Status)
	var summary derive.ProfileSummary
	require.NoError(t, json.Unmarshal(done.OutputSummary, &summary))
	require.Equal(t, int64(10), summary.RowCount)
}

func TestRunOne_UnrunnableTypeFails(t *testing.T) {
	h := newRunnerHarness(t)
	// Exploration runs are queueable but this worker carries no runner
	// for them.
	job := h.claim(t, jobstore.Job{ID: uuid.New(), Type: jobstore.RunExploration})

	h.runner.runOne(h.ctx, job)

	done, err := h.jobs.Get(h.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusFailed, done.Status)
	require.Contains(t, done.ErrorMessage, "no runner")

	require.Eventually(t, func() bool {
		return len(h.spy.byType(events.JobFailed)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClaimLoop_SkipsTypesWithoutRunners(t *testing.T) {
	h := newRunnerHarness(t)
	job := jobstore.Job{
		ID:        uuid.New(),
		Type:      jobstore.RunExploration,
		DatasetID: h.datasetID,
		UserID:    uuid.New(),
		CreatedAt: now.Now(h.ctx),
	}
	require.NoError(t, h.jobs.Enqueue(h.ctx, job))

	// A claim restricted to the runner's types leaves the job queued.
	_, ok, err := h.jobs.Claim(h.ctx, h.runner.workerID, runnableTypes, now.Now(h.ctx))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := h.jobs.Get(h.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusPending, got.Status)
}

func TestRunOne_CancelledJobRecordsNoOutcome(t *testing.T) {
	h := newRunnerHarness(t)
	params, err := json.Marshal(derive.SampleParams{Strategy: derive.StrategyRandom, Size: 3, Seed: 1})
	require.NoError(t, err)
	job := h.claim(t, jobstore.Job{
		ID:           uuid.New(),
		Type:         jobstore.RunSampling,
		SourceCommit: h.source,
		Params:       params,
	})
	require.NoError(t, h.jobs.Cancel(h.ctx, job.ID, now.Now(h.ctx)))

	h.runner.runOne(h.ctx, job)

	done, err := h.jobs.Get(h.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCancelled, done.Status)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, h.spy.byType(events.JobCompleted))
	require.Empty(t, h.spy.byType(events.JobFailed))
}
