// Package sqlsearchindex implements searchindex.Index on the
// DatasetSearchIndex materialized view.
package sqlsearchindex

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sheafdata/sheaf/go/metrics"
	"github.com/sheafdata/sheaf/go/searchindex"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/shlog"
	"github.com/sheafdata/sheaf/go/sql/pool"
)

// refreshTimeout bounds one REFRESH of the view.
const refreshTimeout = 5 * time.Minute

// statement is an SQL statement identifier.
type statement int

const (
	search statement = iota
	refreshView
)

// statements holds all the raw SQL statements used.
var statements = map[statement]string{
	search: `
        SELECT
            dataset_id, name, description, creator, tags, created_at, updated_at
        FROM
            DatasetSearchIndex
        WHERE
            $1 = '' OR search_text ILIKE '%' || $1 || '%'
        ORDER BY
            updated_at DESC, dataset_id
        LIMIT $2 OFFSET $3`,
	// CONCURRENTLY keeps searches readable during the rebuild. Requires
	// the unique index on dataset_id.
	refreshView: `REFRESH MATERIALIZED VIEW CONCURRENTLY DatasetSearchIndex`,
}

// SQLSearchIndex implements searchindex.Index.
type SQLSearchIndex struct {
	db pool.Pool

	// requests carries queued refreshes. Capacity one: a refresh already
	// queued absorbs later requests.
	requests chan bool

	refreshes prometheus.Counter
	failures  prometheus.Counter
}

// New returns a new SQLSearchIndex. Start must be called to run the
// refresher.
func New(db pool.Pool) *SQLSearchIndex {
	return &SQLSearchIndex{
		db:        db,
		requests:  make(chan bool, 1),
		refreshes: metrics.GetCounter("sheaf_searchindex_refreshes"),
		failures:  metrics.GetCounter("sheaf_searchindex_refresh_failures"),
	}
}

// Search implements searchindex.Index.
func (s *SQLSearchIndex) Search(ctx context.Context, query string, offset, limit int) ([]searchindex.Result, error) {
	rows, err := s.db.Query(ctx, statements[search], query, limit, offset)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()
	ret := []searchindex.Result{}
	for rows.Next() {
		var r searchindex.Result
		if err := rows.Scan(&r.DatasetID, &r.Name, &r.Description, &r.Creator,
			&r.Tags, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, sherr.Wrap(err)
		}
		ret = append(ret, r)
	}
	if err := rows.Err(); err != nil {
		return nil, sherr.Wrap(err)
	}
	return ret, nil
}

// RequestRefresh implements searchindex.Index.
func (s *SQLSearchIndex) RequestRefresh() {
	select {
	case s.requests <- true:
	default:
	}
}

// Refresh rebuilds the view once, retrying transient failures.
func (s *SQLSearchIndex) Refresh(ctx context.Context) error {
	refresh := func() error {
		ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		_, err := s.db.Exec(ctx, statements[refreshView])
		return err
	}
	if err := backoff.Retry(refresh, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		s.failures.Add(1)
		return sherr.WithKind(sherr.Wrap(err), sherr.Transient)
	}
	s.refreshes.Add(1)
	return nil
}

// Start runs the refresher until the context is cancelled.
func (s *SQLSearchIndex) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.requests:
				if err := s.Refresh(ctx); err != nil {
					shlog.Errorf("Search index refresh failed: %s", err)
				}
			}
		}
	}()
}

var _ searchindex.Index = (*SQLSearchIndex)(nil)
