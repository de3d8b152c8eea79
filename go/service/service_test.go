package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sheafdata/sheaf/go/commitstore"
	commitmem "github.com/sheafdata/sheaf/go/commitstore/mem"
	dsmem "github.com/sheafdata/sheaf/go/datasetstore/mem"
	"github.com/sheafdata/sheaf/go/derive"
	"github.com/sheafdata/sheaf/go/eventbus"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/ingest/upload"
	"github.com/sheafdata/sheaf/go/jobstore"
	jobmem "github.com/sheafdata/sheaf/go/jobstore/mem"
	"github.com/sheafdata/sheaf/go/now"
	"github.com/sheafdata/sheaf/go/permstore"
	permmem "github.com/sheafdata/sheaf/go/permstore/mem"
	refmem "github.com/sheafdata/sheaf/go/refstore/mem"
	rowmem "github.com/sheafdata/sheaf/go/rowstore/mem"
	"github.com/sheafdata/sheaf/go/searchindex"
	searchmem "github.com/sheafdata/sheaf/go/searchindex/mem"
	"github.com/sheafdata/sheaf/go/service"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
	"github.com/sheafdata/sheaf/go/uow/memuow"
	"github.com/sheafdata/sheaf/go/userstore"
)

// eventCollector records every event the bus delivers.
type eventCollector struct {
	mtx  sync.Mutex
	seen []events.Event
}

func (c *eventCollector) record(e events.Event) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.seen = append(c.seen, e)
}

func (c *eventCollector) count() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.seen)
}

func (c *eventCollector) types() []events.EventType {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	ret := make([]events.EventType, 0, len(c.seen))
	for _, e := range c.seen {
		ret = append(ret, e.Type)
	}
	return ret
}

type svcHarness struct {
	ctx      context.Context
	datasets *dsmem.DatasetStore
	perms    *permmem.PermStore
	refs     *refmem.RefStore
	commits  *commitmem.CommitStore
	jobs     *jobmem.JobStore
	index    *searchmem.SearchIndex
	events   *eventCollector
	svc      *service.Service

	owner userstore.User
}

func newSvcHarness(t *testing.T, opts service.Options) *svcHarness {
	t.Helper()
	rows := rowmem.New()
	h := &svcHarness{
		ctx:      now.TimeTravelingContext(context.Background(), time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)),
		datasets: dsmem.New(),
		perms:    permmem.New(),
		refs:     refmem.New(),
		commits:  commitmem.New(rows),
		jobs:     jobmem.New(),
		index:    searchmem.New(),
		events:   &eventCollector{},
		owner:    userstore.User{ID: uuid.New(), Email: "owner@example.com"},
	}
	bus := eventbus.New()
	bus.SubscribeAsync(eventbus.AllEvents, h.events.record)
	uowf := memuow.New(uow.Stores{
		Rows:     rows,
		Commits:  h.commits,
		Refs:     h.refs,
		Datasets: h.datasets,
		Perms:    h.perms,
		Jobs:     h.jobs,
	}, bus)
	stager := upload.New(t.TempDir(), 1<<20, 4096)
	h.svc = service.New(uowf, h.jobs, h.index, stager, opts)
	return h
}

func (h *svcHarness) createDataset(t *testing.T, name string) types.DatasetID {
	t.Helper()
	ds, err := h.svc.CreateDataset(h.ctx, h.owner, name, "", nil)
	require.NoError(t, err)
	return ds.ID
}

// seedCommit appends a commit on the given ref and returns its id.
func (h *svcHarness) seedCommit(t *testing.T, datasetID types.DatasetID, refName types.RefName, message string) types.CommitID {
	t.Helper()
	ref, err := h.refs.Get(h.ctx, datasetID, refName)
	require.NoError(t, err)
	ts := now.Now(h.ctx)
	commit := commitstore.Commit{
		ID:          commitstore.ComputeID(datasetID, ref.CommitID, message, ts, message),
		DatasetID:   datasetID,
		Parent:      ref.CommitID,
		Message:     message,
		AuthorID:    h.owner.ID,
		AuthoredAt:  ts,
		CommittedAt: ts,
	}
	require.NoError(t, h.commits.Create(h.ctx, commit, nil, types.CommitSchema{types.DefaultTableKey: {}}))
	require.NoError(t, h.refs.CompareAndSet(h.ctx, datasetID, refName, ref.CommitID, commit.ID))
	return commit.ID
}

func TestCreateDataset_CreatesMainRef(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")

	ref, err := h.refs.Get(h.ctx, id, types.MainRef)
	require.NoError(t, err)
	require.Equal(t, types.BadCommitID, ref.CommitID)
	require.Equal(t, 1, h.index.RefreshRequests())

	require.Eventually(t, func() bool { return h.events.count() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, []events.EventType{events.DatasetCreated}, h.events.types())
}

func TestCreateDataset_NameValidation(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	_, err := h.svc.CreateDataset(h.ctx, h.owner, "   ", "", nil)
	require.True(t, sherr.IsKind(err, sherr.Validation))
	_, err = h.svc.CreateDataset(h.ctx, h.owner, strings.Repeat("x", 300), "", nil)
	require.True(t, sherr.IsKind(err, sherr.Validation))
}

func TestFailedOperationPublishesNothing(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	require.Eventually(t, func() bool { return h.events.count() == 1 }, time.Second, 10*time.Millisecond)

	// Creating a ref that already exists fails, so no RefCreated may leak.
	_, err := h.svc.CreateRef(h.ctx, h.owner, id, types.MainRef, "")
	require.True(t, sherr.IsKind(err, sherr.Conflict))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.events.count())
}

func TestListDatasets_Pagination(t *testing.T) {
	h := newSvcHarness(t, service.Options{DefaultPageLimit: 2, MaxPageLimit: 3, MaxActiveImports: 4})
	for _, name := range []string{"a", "b", "c", "d"} {
		h.createDataset(t, name)
	}

	_, err := h.svc.ListDatasets(h.ctx, h.owner, -1, 10)
	require.True(t, sherr.IsKind(err, sherr.Validation))
	_, err = h.svc.ListDatasets(h.ctx, h.owner, 0, -1)
	require.True(t, sherr.IsKind(err, sherr.Validation))

	// Zero means the default, oversized is clamped to the max.
	page, err := h.svc.ListDatasets(h.ctx, h.owner, 0, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	page, err = h.svc.ListDatasets(h.ctx, h.owner, 0, 100)
	require.NoError(t, err)
	require.Len(t, page, 3)
}

func TestGetDataset_HiddenFromStrangers(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	stranger := userstore.User{ID: uuid.New()}

	_, denied := h.svc.GetDataset(h.ctx, stranger, id)
	require.True(t, sherr.IsKind(denied, sherr.NotFound))
	_, missing := h.svc.GetDataset(h.ctx, stranger, uuid.New())
	require.True(t, sherr.IsKind(missing, sherr.NotFound))
	require.Contains(t, denied.Error(), "does not exist")
	require.Contains(t, missing.Error(), "does not exist")
}

func TestUpdateDataset_ReaderIsForbidden(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	reader := userstore.User{ID: uuid.New()}
	require.NoError(t, h.svc.GrantPermission(h.ctx, h.owner, id, reader.ID, permstore.Read))

	_, err := h.svc.GetDataset(h.ctx, reader, id)
	require.NoError(t, err)
	_, err = h.svc.UpdateDataset(h.ctx, reader, id, "renamed", "")
	require.True(t, sherr.IsKind(err, sherr.Forbidden))
}

func TestGrantPermission_OwnerImmutable(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")

	err := h.svc.GrantPermission(h.ctx, h.owner, id, h.owner.ID, permstore.Read)
	require.True(t, sherr.IsKind(err, sherr.BusinessRule))
	err = h.svc.RevokePermission(h.ctx, h.owner, id, h.owner.ID)
	require.True(t, sherr.IsKind(err, sherr.BusinessRule))
}

func TestRevokePermission_ClosesAccess(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	reader := userstore.User{ID: uuid.New()}
	require.NoError(t, h.svc.GrantPermission(h.ctx, h.owner, id, reader.ID, permstore.Read))
	require.NoError(t, h.svc.RevokePermission(h.ctx, h.owner, id, reader.ID))

	_, err := h.svc.GetDataset(h.ctx, reader, id)
	require.True(t, sherr.IsKind(err, sherr.NotFound))
}

func TestDeleteRef_MainIsProtected(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")

	err := h.svc.DeleteRef(h.ctx, h.owner, id, types.MainRef)
	require.True(t, sherr.IsKind(err, sherr.BusinessRule))

	_, err = h.svc.CreateRef(h.ctx, h.owner, id, "experiment", "")
	require.NoError(t, err)
	require.NoError(t, h.svc.DeleteRef(h.ctx, h.owner, id, "experiment"))
}

func TestCreateRef_PointsAtSourceTip(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	tip := h.seedCommit(t, id, types.MainRef, "first")

	ref, err := h.svc.CreateRef(h.ctx, h.owner, id, "experiment", types.MainRef)
	require.NoError(t, err)
	require.Equal(t, tip, ref.CommitID)

	// Moving main afterwards leaves the branch behind.
	h.seedCommit(t, id, types.MainRef, "second")
	got, err := h.refs.Get(h.ctx, id, "experiment")
	require.NoError(t, err)
	require.Equal(t, tip, got.CommitID)
}

func TestGetHistory_NewestFirst(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	first := h.seedCommit(t, id, types.MainRef, "first")
	second := h.seedCommit(t, id, types.MainRef, "second")

	history, err := h.svc.GetHistory(h.ctx, h.owner, id, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, second, history[0].ID)
	require.Equal(t, first, history[1].ID)

	page, err := h.svc.GetHistory(h.ctx, h.owner, id, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, first, page[0].ID)
}

func TestGetDataAtRef_UnbornRefIsEmpty(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	rows, err := h.svc.GetDataAtRef(h.ctx, h.owner, id, types.MainRef, "", 0, 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestGetDataAtCommit_ForeignCommitHidden(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	mine := h.createDataset(t, "mine")
	other := h.createDataset(t, "other")
	otherTip := h.seedCommit(t, other, types.MainRef, "seed")

	// A commit of another dataset reads as missing, not as forbidden.
	_, err := h.svc.GetDataAtCommit(h.ctx, h.owner, mine, otherTip, "", 0, 0)
	require.True(t, sherr.IsKind(err, sherr.NotFound))
}

func TestGetSchema_NarrowedToTable(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	tip := h.seedCommit(t, id, types.MainRef, "seed")

	schema, err := h.svc.GetSchema(h.ctx, h.owner, id, tip, types.DefaultTableKey)
	require.NoError(t, err)
	require.Len(t, schema, 1)

	_, err = h.svc.GetSchema(h.ctx, h.owner, id, tip, "no-such-table")
	require.True(t, sherr.IsKind(err, sherr.NotFound))
}

func TestEnqueueImport_Validation(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")

	_, err := h.svc.EnqueueImport(h.ctx, h.owner, id, "", "", strings.NewReader("x"), "x.csv")
	require.True(t, sherr.IsKind(err, sherr.Validation))

	_, err = h.svc.EnqueueImport(h.ctx, h.owner, id, "no-such-ref", "import", strings.NewReader("x"), "x.csv")
	require.True(t, sherr.IsKind(err, sherr.NotFound))
}

func TestEnqueueImport_QueuesPendingJob(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")

	jobID, err := h.svc.EnqueueImport(h.ctx, h.owner, id, "", "import people", strings.NewReader("name\nada\n"), "people.csv")
	require.NoError(t, err)
	job, err := h.jobs.Get(h.ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusPending, job.Status)
	require.Equal(t, jobstore.RunImport, job.Type)
	require.Equal(t, h.owner.ID, job.UserID)
}

func TestEnqueueImport_ActiveImportQuota(t *testing.T) {
	h := newSvcHarness(t, service.Options{DefaultPageLimit: 100, MaxPageLimit: 1000, MaxActiveImports: 1})
	id := h.createDataset(t, "taxi-trips")

	_, err := h.svc.EnqueueImport(h.ctx, h.owner, id, "", "first", strings.NewReader("a\n1\n"), "a.csv")
	require.NoError(t, err)
	_, err = h.svc.EnqueueImport(h.ctx, h.owner, id, "", "second", strings.NewReader("a\n2\n"), "a.csv")
	require.True(t, sherr.IsKind(err, sherr.QuotaExceeded))
}

func TestEnqueueSample_ResolvesRefTip(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")

	// An unborn ref has nothing to sample from.
	_, err := h.svc.EnqueueSample(h.ctx, h.owner, id, "", "", sampleParams())
	require.True(t, sherr.IsKind(err, sherr.BusinessRule))

	tip := h.seedCommit(t, id, types.MainRef, "seed")
	jobID, err := h.svc.EnqueueSample(h.ctx, h.owner, id, "", "", sampleParams())
	require.NoError(t, err)
	job, err := h.jobs.Get(h.ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, tip, job.SourceCommit)
	require.Equal(t, jobstore.RunSampling, job.Type)
}

func TestGetJob_HiddenLikeItsDataset(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	jobID, err := h.svc.EnqueueImport(h.ctx, h.owner, id, "", "import", strings.NewReader("a\n1\n"), "a.csv")
	require.NoError(t, err)

	stranger := userstore.User{ID: uuid.New()}
	_, err = h.svc.GetJob(h.ctx, stranger, jobID)
	require.True(t, sherr.IsKind(err, sherr.NotFound))
	require.Contains(t, err.Error(), "job "+jobID.String()+" does not exist")

	got, err := h.svc.GetJob(h.ctx, h.owner, jobID)
	require.NoError(t, err)
	require.Equal(t, jobID, got.ID)
}

func TestListJobs_Filtered(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	h.seedCommit(t, id, types.MainRef, "seed")

	importID, err := h.svc.EnqueueImport(h.ctx, h.owner, id, "", "import", strings.NewReader("a\n1\n"), "a.csv")
	require.NoError(t, err)
	sampleID, err := h.svc.EnqueueSample(h.ctx, h.owner, id, "", "", sampleParams())
	require.NoError(t, err)
	require.NoError(t, h.svc.CancelJob(h.ctx, h.owner, sampleID))

	jobs, err := h.svc.ListJobs(h.ctx, h.owner, jobstore.ListFilter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	jobs, err = h.svc.ListJobs(h.ctx, h.owner, jobstore.ListFilter{Type: jobstore.RunImport}, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, importID, jobs[0].ID)

	jobs, err = h.svc.ListJobs(h.ctx, h.owner, jobstore.ListFilter{Status: jobstore.StatusCancelled}, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, sampleID, jobs[0].ID)

	_, err = h.svc.ListJobs(h.ctx, h.owner, jobstore.ListFilter{Type: jobstore.RunType("shuffle")}, 0, 0)
	require.True(t, sherr.IsKind(err, sherr.Validation))
}

func TestCancelJob_OwnJob(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	id := h.createDataset(t, "taxi-trips")
	jobID, err := h.svc.EnqueueImport(h.ctx, h.owner, id, "", "import", strings.NewReader("a\n1\n"), "a.csv")
	require.NoError(t, err)

	require.NoError(t, h.svc.CancelJob(h.ctx, h.owner, jobID))
	job, err := h.jobs.Get(h.ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCancelled, job.Status)
}

func TestSearchDatasets_FiltersInvisibleHits(t *testing.T) {
	h := newSvcHarness(t, service.DefaultOptions())
	visible := h.createDataset(t, "city taxi trips")
	hidden, err := h.svc.CreateDataset(h.ctx, userstore.User{ID: uuid.New()}, "secret taxi data", "", nil)
	require.NoError(t, err)

	h.index.Put(searchindex.Result{DatasetID: visible, Name: "city taxi trips"})
	h.index.Put(searchindex.Result{DatasetID: hidden.ID, Name: "secret taxi data"})

	hits, err := h.svc.SearchDatasets(h.ctx, h.owner, "taxi", 0, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, visible, hits[0].DatasetID)
}

func sampleParams() derive.SampleParams {
	return derive.SampleParams{Strategy: derive.StrategyRandom, Size: 5, Seed: 1}
}
