// Package rowstore defines the content-addressed row store: canonicalized
// row payloads keyed by their SHA-256 hash. Writes are put-if-absent; rows
// are never mutated and never garbage collected.
package rowstore

import (
	"context"

	"github.com/sheafdata/sheaf/go/types"
)

// Store is the interface for the content-addressed row store.
type Store interface {
	// Put writes the given rows, silently skipping hashes that already
	// exist, and returns the hash of every input row in order.
	Put(ctx context.Context, rows []types.RowData) ([]types.RowHash, error)

	// Get returns the payloads for the given hashes. Hashes that do not
	// exist are absent from the returned map.
	Get(ctx context.Context, hashes []types.RowHash) (map[types.RowHash]types.RowData, error)
}
