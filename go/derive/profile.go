package derive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/now"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/shlog"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/uow"
)

// distinctCap bounds the distinct-value tracking per column. Columns with
// more distinct values report the cap and approximate = true.
const distinctCap = 10000

// ProfileParams is the run_parameters payload of a profiling job.
type ProfileParams struct {
	Table types.TableKey `json:"table_key"`
}

// ColumnProfile is the computed statistics of one column.
type ColumnProfile struct {
	Name     string `json:"name"`
	Count    int64  `json:"count"`
	Nulls    int64  `json:"nulls"`
	Distinct int64  `json:"distinct"`
	// DistinctApproximate is true when Distinct hit the tracking cap.
	DistinctApproximate bool `json:"distinct_approximate,omitempty"`
	// Min and Max compare numerically for numeric columns, else as text.
	Min interface{} `json:"min,omitempty"`
	Max interface{} `json:"max,omitempty"`
	// Mean is set for columns whose non-null values are all numeric.
	Mean *float64 `json:"mean,omitempty"`
}

// ProfileSummary is the output summary of a profiling job.
type ProfileSummary struct {
	Table    types.TableKey  `json:"table_key"`
	RowCount int64           `json:"row_count"`
	Columns  []ColumnProfile `json:"columns"`
}

// Profiler runs profiling jobs.
type Profiler struct {
	uowf uow.Factory
	jobs jobstore.Store
}

// NewProfiler returns a Profiler.
func NewProfiler(uowf uow.Factory, jobs jobstore.Store) *Profiler {
	return &Profiler{uowf: uowf, jobs: jobs}
}

// columnState accumulates one column's statistics while streaming.
type columnState struct {
	count    int64
	nulls    int64
	distinct map[string]bool
	overflow bool

	numeric    bool
	numSum     float64
	numMin     float64
	numMax     float64
	numSamples int64

	textMin string
	textMax string
}

func newColumnState() *columnState {
	return &columnState{distinct: map[string]bool{}, numeric: true}
}

func (c *columnState) observe(v interface{}) {
	c.count++
	if v == nil {
		c.nulls++
		return
	}
	text := fmt.Sprintf("%v", v)
	if !c.overflow {
		c.distinct[text] = true
		if len(c.distinct) > distinctCap {
			c.overflow = true
		}
	}
	if n, ok := asFloat(v); ok && c.numeric {
		if c.numSamples == 0 || n < c.numMin {
			c.numMin = n
		}
		if c.numSamples == 0 || n > c.numMax {
			c.numMax = n
		}
		c.numSum += n
		c.numSamples++
	} else {
		c.numeric = false
	}
	if c.textMin == "" || text < c.textMin {
		c.textMin = text
	}
	if text > c.textMax {
		c.textMax = text
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		return 0, false
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (c *columnState) profile(name string) ColumnProfile {
	ret := ColumnProfile{
		Name:                name,
		Count:               c.count,
		Nulls:               c.nulls,
		Distinct:            int64(len(c.distinct)),
		DistinctApproximate: c.overflow,
	}
	if c.numeric && c.numSamples > 0 {
		mean := c.numSum / float64(c.numSamples)
		ret.Min = c.numMin
		ret.Max = c.numMax
		ret.Mean = &mean
	} else if c.count > c.nulls {
		ret.Min = c.textMin
		ret.Max = c.textMax
	}
	return ret
}

// Run executes one claimed profiling job.
func (p *Profiler) Run(ctx context.Context, job jobstore.Job) error {
	var params ProfileParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return sherr.WithKind(sherr.Wrap(err), sherr.Validation)
	}
	if params.Table == "" {
		params.Table = types.DefaultTableKey
	}
	if job.SourceCommit == types.BadCommitID {
		return sherr.New(sherr.Validation, "profiling job %s has no source commit", job.ID)
	}

	summary := ProfileSummary{Table: params.Table, Columns: []ColumnProfile{}}
	err := uow.Do(ctx, p.uowf, func(ctx context.Context, u uow.UnitOfWork) error {
		commits := u.Stores().Commits
		schema, err := commits.GetSchema(ctx, job.SourceCommit)
		if err != nil {
			return err
		}
		columns := schema[params.Table].Columns
		states := make([]*columnState, len(columns))
		for i := range columns {
			states[i] = newColumnState()
		}

		it := NewRowIterator(commits, job.SourceCommit, params.Table)
		for {
			row, ok, err := it.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			summary.RowCount++
			for i, col := range columns {
				states[i].observe(row.Data[col.Name])
			}
		}
		for i, col := range columns {
			summary.Columns = append(summary.Columns, states[i].profile(col.Name))
		}
		return nil
	})
	if err != nil {
		return err
	}

	b, err := json.Marshal(summary)
	if err != nil {
		return sherr.Wrap(err)
	}
	if err := p.jobs.Complete(ctx, job.ID, b, now.Now(ctx)); err != nil {
		return err
	}
	shlog.Infof("Job %s: profiled %d rows of %s", job.ID, summary.RowCount, params.Table)
	return nil
}
