package derive

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sheafdata/sheaf/go/commitstore"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/now"
	"github.com/sheafdata/sheaf/go/refstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/shlog"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
)

// Strategy selects how rows are drawn.
type Strategy string

const (
	StrategyRandom     Strategy = "random"
	StrategyStratified Strategy = "stratified"
	StrategySystematic Strategy = "systematic"
	StrategyCluster    Strategy = "cluster"
)

// SampleParams is the run_parameters payload of a sampling job.
type SampleParams struct {
	Table    types.TableKey `json:"table_key"`
	Strategy Strategy       `json:"strategy"`
	// Size is the number of rows to draw (random, stratified).
	Size int `json:"size,omitempty"`
	// Interval is the step of a systematic sample.
	Interval int `json:"interval,omitempty"`
	// Column is the stratum or cluster column.
	Column string `json:"column,omitempty"`
	// Clusters is how many clusters a cluster sample keeps.
	Clusters int `json:"clusters,omitempty"`
	// Seed makes the draw reproducible.
	Seed int64 `json:"seed"`
}

// Validate rejects parameter combinations the strategies cannot serve.
func (p SampleParams) Validate() error {
	if err := p.Table.Validate(); err != nil {
		return err
	}
	switch p.Strategy {
	case StrategyRandom, StrategyStratified:
		if p.Size <= 0 {
			return sherr.New(sherr.Validation, "%s sampling needs a positive size", p.Strategy)
		}
	case StrategySystematic:
		if p.Interval <= 0 {
			return sherr.New(sherr.Validation, "systematic sampling needs a positive interval")
		}
	case StrategyCluster:
		if p.Clusters <= 0 {
			return sherr.New(sherr.Validation, "cluster sampling needs a positive cluster count")
		}
	default:
		return sherr.New(sherr.Validation, "unknown sampling strategy %q", p.Strategy)
	}
	if (p.Strategy == StrategyStratified || p.Strategy == StrategyCluster) && p.Column == "" {
		return sherr.New(sherr.Validation, "%s sampling needs a column", p.Strategy)
	}
	return nil
}

// SampleSummary is the output summary of a sampling job.
type SampleSummary struct {
	CommitID types.CommitID `json:"commit_id"`
	Ref      types.RefName  `json:"ref"`
	RowCount int64          `json:"row_count"`
}

// Sampler runs sampling jobs. The drawn rows become a new commit parented
// on the source commit, reachable from the derived ref "sample/<job-id>".
// Only manifest entries are written; row payloads are reused by hash.
type Sampler struct {
	uowf uow.Factory
	jobs jobstore.Store
}

// NewSampler returns a Sampler.
func NewSampler(uowf uow.Factory, jobs jobstore.Store) *Sampler {
	return &Sampler{uowf: uowf, jobs: jobs}
}

// Run executes one claimed sampling job.
func (s *Sampler) Run(ctx context.Context, job jobstore.Job) error {
	var params SampleParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return sherr.WithKind(sherr.Wrap(err), sherr.Validation)
	}
	if params.Table == "" {
		params.Table = types.DefaultTableKey
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if job.SourceCommit == types.BadCommitID {
		return sherr.New(sherr.Validation, "sampling job %s has no source commit", job.ID)
	}

	var summary SampleSummary
	err := uow.Do(ctx, s.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		commits := u.Stores().Commits
		population, err := collectAll(ctx, NewRowIterator(commits, job.SourceCommit, params.Table))
		if err != nil {
			return err
		}
		schema, err := commits.GetSchema(ctx, job.SourceCommit)
		if err != nil {
			return err
		}

		drawn := draw(population, params)
		manifest := make([]commitstore.ManifestEntry, 0, len(drawn))
		for n, row := range drawn {
			manifest = append(manifest, commitstore.ManifestEntry{
				Table: params.Table,
				Index: int64(n) + 1,
				Hash:  row.Hash,
			})
		}

		ts := now.Now(ctx)
		message := fmt.Sprintf("%s sample of %s", params.Strategy, job.SourceCommit)
		commit := commitstore.Commit{
			ID:          commitstore.ComputeID(job.DatasetID, job.SourceCommit, message, ts, job.ID.String()),
			DatasetID:   job.DatasetID,
			Parent:      job.SourceCommit,
			Message:     message,
			AuthorID:    job.UserID,
			AuthoredAt:  ts,
			CommittedAt: ts,
		}
		sampleSchema := types.CommitSchema{params.Table: schema[params.Table]}
		if err := commits.Create(ctx, commit, manifest, sampleSchema); err != nil {
			return err
		}

		refName := types.RefName("sample/" + job.ID.String())
		if err := u.Stores().Refs.Create(ctx, refstore.Ref{
			DatasetID: job.DatasetID,
			Name:      refName,
			CommitID:  commit.ID,
		}); err != nil {
			return err
		}

		created := events.New(events.RefCreated, events.AggregateRef, string(refName), ts)
		created.UserID = job.UserID.String()
		created.CorrelationID = job.ID.String()
		u.Publish(created)

		summary = SampleSummary{CommitID: commit.ID, Ref: refName, RowCount: int64(len(manifest))}
		return nil
	})
	if err != nil {
		return err
	}

	b, err := json.Marshal(summary)
	if err != nil {
		return sherr.Wrap(err)
	}
	if err := s.jobs.Complete(ctx, job.ID, b, now.Now(ctx)); err != nil {
		return err
	}
	shlog.Infof("Job %s: sampled %d rows into %s", job.ID, summary.RowCount, summary.Ref)
	return nil
}

// draw applies the strategy. The input is in manifest order and the output
// preserves that order, so a fixed seed reproduces the sample exactly.
func draw(population []commitstore.RowRecord, params SampleParams) []commitstore.RowRecord {
	switch params.Strategy {
	case StrategyRandom:
		return drawRandom(population, params.Size, params.Seed)
	case StrategyStratified:
		return drawStratified(population, params)
	case StrategySystematic:
		return drawSystematic(population, params.Interval, params.Seed)
	case StrategyCluster:
		return drawCluster(population, params)
	}
	return nil
}

// drawRandom keeps a uniform subset of size n via index shuffling.
func drawRandom(population []commitstore.RowRecord, n int, seed int64) []commitstore.RowRecord {
	if n >= len(population) {
		return population
	}
	rng := rand.New(rand.NewSource(seed))
	indices := rng.Perm(len(population))[:n]
	sort.Ints(indices)
	ret := make([]commitstore.RowRecord, 0, n)
	for _, idx := range indices {
		ret = append(ret, population[idx])
	}
	return ret
}

// drawStratified allocates the sample across strata proportionally, at
// least one row per non-empty stratum.
func drawStratified(population []commitstore.RowRecord, params SampleParams) []commitstore.RowRecord {
	strata := map[string][]int{}
	order := []string{}
	for i, row := range population {
		key := stratumKey(row.Data, params.Column)
		if _, ok := strata[key]; !ok {
			order = append(order, key)
		}
		strata[key] = append(strata[key], i)
	}
	sort.Strings(order)

	rng := rand.New(rand.NewSource(params.Seed))
	keep := map[int]bool{}
	for _, key := range order {
		members := strata[key]
		quota := params.Size * len(members) / len(population)
		if quota < 1 {
			quota = 1
		}
		if quota > len(members) {
			quota = len(members)
		}
		for _, pick := range rng.Perm(len(members))[:quota] {
			keep[members[pick]] = true
		}
	}
	ret := make([]commitstore.RowRecord, 0, len(keep))
	for i, row := range population {
		if keep[i] {
			ret = append(ret, row)
		}
	}
	return ret
}

// drawSystematic keeps every interval-th row, starting at a seeded offset.
func drawSystematic(population []commitstore.RowRecord, interval int, seed int64) []commitstore.RowRecord {
	if len(population) == 0 {
		return population
	}
	start := int(rand.New(rand.NewSource(seed)).Int63n(int64(interval)))
	ret := []commitstore.RowRecord{}
	for i := start; i < len(population); i += interval {
		ret = append(ret, population[i])
	}
	return ret
}

// drawCluster keeps every row of a seeded choice of clusters.
func drawCluster(population []commitstore.RowRecord, params SampleParams) []commitstore.RowRecord {
	clusters := map[string]bool{}
	order := []string{}
	for _, row := range population {
		key := stratumKey(row.Data, params.Column)
		if !clusters[key] {
			clusters[key] = true
			order = append(order, key)
		}
	}
	sort.Strings(order)
	if params.Clusters < len(order) {
		rng := rand.New(rand.NewSource(params.Seed))
		picked := rng.Perm(len(order))[:params.Clusters]
		sort.Ints(picked)
		chosen := make([]string, 0, params.Clusters)
		for _, idx := range picked {
			chosen = append(chosen, order[idx])
		}
		order = chosen
	}
	keep := map[string]bool{}
	for _, key := range order {
		keep[key] = true
	}
	ret := []commitstore.RowRecord{}
	for _, row := range population {
		if keep[stratumKey(row.Data, params.Column)] {
			ret = append(ret, row)
		}
	}
	return ret
}

func stratumKey(data types.RowData, column string) string {
	v, ok := data[column]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
