package derive_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sheafdata/sheaf/go/commitstore"
	commitmem "github.com/sheafdata/sheaf/go/commitstore/mem"
	"github.com/sheafdata/sheaf/go/derive"
	"github.com/sheafdata/sheaf/go/eventbus"
	"github.com/sheafdata/sheaf/go/jobstore"
	jobmem "github.com/sheafdata/sheaf/go/jobstore/mem"
	"github.com/sheafdata/sheaf/go/now"
	refmem "github.com/sheafdata/sheaf/go/refstore/mem"
	"github.com/sheafdata/sheaf/go/rowstore"
	rowmem "github.com/sheafdata/sheaf/go/rowstore/mem"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
	"github.com/sheafdata/sheaf/go/uow/memuow"
)

type deriveHarness struct {
	ctx     context.Context
	rows    *rowmem.RowStore
	commits *commitmem.CommitStore
	refs    *refmem.RefStore
	jobs    *jobmem.JobStore
	uowf    uow.Factory

	datasetID types.DatasetID
	source    types.CommitID
}

// newDeriveHarness builds mem stores around a single source commit whose
// rows are returned by makeRow for indices 0..n-1.
func newDeriveHarness(t *testing.T, n int, makeRow func(i int) types.RowData) *deriveHarness {
	t.Helper()
	h := &deriveHarness{
		ctx:       now.TimeTravelingContext(context.Background(), time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)),
		rows:      rowmem.New(),
		refs:      refmem.New(),
		jobs:      jobmem.New(),
		datasetID: uuid.New(),
	}
	h.commits = commitmem.New(h.rows)
	h.uowf = memuow.New(uow.Stores{
		Rows:    h.rows,
		Commits: h.commits,
		Refs:    h.refs,
		Jobs:    h.jobs,
	}, eventbus.New())

	manifest := make([]commitstore.ManifestEntry, 0, n)
	columns := map[string]bool{}
	for i := 0; i < n; i++ {
		data := makeRow(i)
		hash, err := rowstore.HashRow(data)
		require.NoError(t, err)
		_, err = h.rows.Put(h.ctx, []types.RowData{data})
		require.NoError(t, err)
		manifest = append(manifest, commitstore.ManifestEntry{
			Table: types.DefaultTableKey,
			Index: int64(i) + 1,
			Hash:  hash,
		})
		for name := range data {
			columns[name] = true
		}
	}
	schema := types.CommitSchema{types.DefaultTableKey: {}}
	for name := range columns {
		table := schema[types.DefaultTableKey]
		table.Columns = append(table.Columns, types.Column{Name: name, Type: types.ColumnString, Nullable: true})
		schema[types.DefaultTableKey] = table
	}
	ts := now.Now(h.ctx)
	h.source = commitstore.ComputeID(h.datasetID, "", "seed", ts, "seed")
	require.NoError(t, h.commits.Create(h.ctx, commitstore.Commit{
		ID:          h.source,
		DatasetID:   h.datasetID,
		Message:     "seed",
		AuthoredAt:  ts,
		CommittedAt: ts,
	}, manifest, schema))
	return h
}

func (h *deriveHarness) sampleJob(t *testing.T, params derive.SampleParams) jobstore.Job {
	t.Helper()
	b, err := json.Marshal(params)
	require.NoError(t, err)
	job := jobstore.Job{
		ID:           uuid.New(),
		Type:         jobstore.RunSampling,
		DatasetID:    h.datasetID,
		UserID:       uuid.New(),
		SourceCommit: h.source,
		Params:       b,
		CreatedAt:    now.Now(h.ctx),
	}
	require.NoError(t, h.jobs.Enqueue(h.ctx, job))
	_, _, err = h.jobs.Claim(h.ctx, "w1", nil, now.Now(h.ctx))
	require.NoError(t, err)
	claimed, err := h.jobs.Get(h.ctx, job.ID)
	require.NoError(t, err)
	return claimed
}

func (h *deriveHarness) runSample(t *testing.T, params derive.SampleParams) derive.SampleSummary {
	t.Helper()
	job := h.sampleJob(t, params)
	require.NoError(t, derive.NewSampler(h.uowf, h.jobs).Run(h.ctx, job))
	done, err := h.jobs.Get(h.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCompleted, done.Status)
	var summary derive.SampleSummary
	require.NoError(t, json.Unmarshal(done.OutputSummary, &summary))
	return summary
}

func (h *deriveHarness) readSample(t *testing.T, summary derive.SampleSummary) []commitstore.RowRecord {
	t.Helper()
	records, err := h.commits.ReadRows(h.ctx, summary.CommitID, types.DefaultTableKey, 0, 1000)
	require.NoError(t, err)
	return records
}

func TestSampler_RandomIsDeterministicUnderSeed(t *testing.T) {
	makeRow := func(i int) types.RowData {
		return types.RowData{"n": fmt.Sprintf("%03d", i)}
	}
	params := derive.SampleParams{Strategy: derive.StrategyRandom, Size: 10, Seed: 42}

	first := newDeriveHarness(t, 100, makeRow)
	a := first.runSample(t, params)
	require.Equal(t, int64(10), a.RowCount)

	second := newDeriveHarness(t, 100, makeRow)
	b := second.runSample(t, params)

	got := first.readSample(t, a)
	want := second.readSample(t, b)
	require.Equal(t, len(want), len(got))
	for i := range got {
		require.Equal(t, want[i].Data, got[i].Data)
	}

	// The derived commit parents on the source and lives on its own ref.
	commit, err := first.commits.Get(first.ctx, a.CommitID)
	require.NoError(t, err)
	require.Equal(t, first.source, commit.Parent)
	require.True(t, len(a.Ref) > len("sample/"))
	ref, err := first.refs.Get(first.ctx, first.datasetID, a.Ref)
	require.NoError(t, err)
	require.Equal(t, a.CommitID, ref.CommitID)
}

func TestSampler_RandomPreservesSourceOrder(t *testing.T) {
	h := newDeriveHarness(t, 50, func(i int) types.RowData {
		return types.RowData{"n": fmt.Sprintf("%03d", i)}
	})
	summary := h.runSample(t, derive.SampleParams{Strategy: derive.StrategyRandom, Size: 20, Seed: 7})
	records := h.readSample(t, summary)
	require.Len(t, records, 20)
	prev := ""
	for _, rec := range records {
		n := rec.Data["n"].(string)
		require.Greater(t, n, prev)
		prev = n
	}
}

func TestSampler_RandomOversizedKeepsEverything(t *testing.T) {
	h := newDeriveHarness(t, 5, func(i int) types.RowData {
		return types.RowData{"n": fmt.Sprintf("%d", i)}
	})
	summary := h.runSample(t, derive.SampleParams{Strategy: derive.StrategyRandom, Size: 50, Seed: 1})
	require.Equal(t, int64(5), summary.RowCount)
}

func TestSampler_StratifiedCoversEveryStratum(t *testing.T) {
	// 90 rows in group a, 10 in group b. A 10-row sample must still touch b.
	h := newDeriveHarness(t, 100, func(i int) types.RowData {
		group := "a"
		if i >= 90 {
			group = "b"
		}
		return types.RowData{"n": fmt.Sprintf("%03d", i), "group": group}
	})
	summary := h.runSample(t, derive.SampleParams{
		Strategy: derive.StrategyStratified,
		Size:     10,
		Column:   "group",
		Seed:     3,
	})
	seen := map[string]int{}
	for _, rec := range h.readSample(t, summary) {
		seen[rec.Data["group"].(string)]++
	}
	require.Positive(t, seen["a"])
	require.Positive(t, seen["b"])
	require.Greater(t, seen["a"], seen["b"])
}

func TestSampler_SystematicInterval(t *testing.T) {
	h := newDeriveHarness(t, 20, func(i int) types.RowData {
		return types.RowData{"n": fmt.Sprintf("%02d", i)}
	})
	summary := h.runSample(t, derive.SampleParams{Strategy: derive.StrategySystematic, Interval: 5, Seed: 9})
	require.Equal(t, int64(4), summary.RowCount)
}

func TestSampler_ClusterKeepsWholeClusters(t *testing.T) {
	h := newDeriveHarness(t, 30, func(i int) types.RowData {
		return types.RowData{"n": fmt.Sprintf("%02d", i), "city": fmt.Sprintf("city-%d", i%3)}
	})
	summary := h.runSample(t, derive.SampleParams{
		Strategy: derive.StrategyCluster,
		Clusters: 1,
		Column:   "city",
		Seed:     5,
	})
	require.Equal(t, int64(10), summary.RowCount)
	cities := map[string]bool{}
	for _, rec := range h.readSample(t, summary) {
		cities[rec.Data["city"].(string)] = true
	}
	require.Len(t, cities, 1)
}

func TestSampler_ReusesRowPayloads(t *testing.T) {
	h := newDeriveHarness(t, 20, func(i int) types.RowData {
		return types.RowData{"n": fmt.Sprintf("%02d", i)}
	})
	before := h.rows.Len()
	h.runSample(t, derive.SampleParams{Strategy: derive.StrategyRandom, Size: 5, Seed: 11})
	require.Equal(t, before, h.rows.Len())
}

func TestSampleParams_Validate(t *testing.T) {
	cases := []derive.SampleParams{
		{Table: types.DefaultTableKey, Strategy: derive.StrategyRandom},
		{Table: types.DefaultTableKey, Strategy: derive.StrategySystematic},
		{Table: types.DefaultTableKey, Strategy: derive.StrategyStratified, Size: 5},
		{Table: types.DefaultTableKey, Strategy: derive.StrategyCluster, Clusters: 2},
		{Table: types.DefaultTableKey, Strategy: "reservoir", Size: 5},
	}
	for _, params := range cases {
		require.True(t, sherr.IsKind(params.Validate(), sherr.Validation), "%+v", params)
	}
	require.NoError(t, derive.SampleParams{
		Table:    types.DefaultTableKey,
		Strategy: derive.StrategyRandom,
		Size:     5,
	}.Validate())
}
