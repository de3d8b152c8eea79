// Package refstore defines refs, the movable named pointers into a
// dataset's commit graph.
package refstore

import (
	"context"

	"github.com/sheafdata/sheaf/go/types"
)

// Ref is one named pointer. CommitID is empty for an unborn ref, i.e. a
// ref on a dataset with no commits yet, or one whose target was pruned.
type Ref struct {
	DatasetID types.DatasetID `json:"dataset_id"`
	Name      types.RefName   `json:"name"`
	CommitID  types.CommitID  `json:"commit_id,omitempty"`
}

// Store is the interface for refs. All moves are compare-and-set: the
// caller states what it believes the ref points at, and the store refuses
// the move with a Conflict error when that belief is stale.
type Store interface {
	// Create adds a new ref. Returns a Conflict error if the ref already
	// exists.
	Create(ctx context.Context, ref Ref) error

	// Get returns the named ref.
	Get(ctx context.Context, datasetID types.DatasetID, name types.RefName) (Ref, error)

	// List returns all refs of the dataset ordered by name.
	List(ctx context.Context, datasetID types.DatasetID) ([]Ref, error)

	// CompareAndSet moves the ref to next iff it currently points at
	// expected. Returns a Conflict error if the ref moved, a NotFound
	// error if it does not exist.
	CompareAndSet(ctx context.Context, datasetID types.DatasetID, name types.RefName, expected, next types.CommitID) error

	// Delete removes the ref. The protection of the main ref is enforced
	// a layer up, in the service.
	Delete(ctx context.Context, datasetID types.DatasetID, name types.RefName) error
}
