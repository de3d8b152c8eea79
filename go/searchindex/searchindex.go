// Package searchindex defines the denormalized dataset summary used for
// text search, and the refresher that keeps it in sync with the source
// tables.
package searchindex

import (
	"context"
	"time"

	"github.com/sheafdata/sheaf/go/types"
)

// Result is one search hit.
type Result struct {
	DatasetID   types.DatasetID `json:"dataset_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Creator     string          `json:"creator"`
	Tags        string          `json:"tags"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Index is the interface for searching datasets.
//
// The index trails the source tables: RequestRefresh only queues a
// rebuild, and concurrent requests coalesce into one. Callers must not
// expect read-your-writes.
type Index interface {
	// Search returns a page of datasets matching the query, newest first.
	// An empty query matches everything.
	Search(ctx context.Context, query string, offset, limit int) ([]Result, error)

	// RequestRefresh queues an index rebuild. Never blocks.
	RequestRefresh()
}
