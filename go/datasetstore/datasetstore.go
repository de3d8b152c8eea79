// Package datasetstore defines datasets and their tags.
package datasetstore

import (
	"context"
	"time"

	"github.com/sheafdata/sheaf/go/types"
)

// Dataset is one versioned dataset.
type Dataset struct {
	ID          types.DatasetID `json:"dataset_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	CreatedBy   types.UserID    `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Tags        []string        `json:"tags"`
}

// Store is the interface for datasets.
type Store interface {
	// Create adds a new dataset. Returns a Conflict error if the creator
	// already has a dataset with the same name.
	Create(ctx context.Context, ds Dataset) error

	// Get returns the dataset with its tags.
	Get(ctx context.Context, id types.DatasetID) (Dataset, error)

	// Update replaces name and description and bumps updated_at.
	Update(ctx context.Context, id types.DatasetID, name, description string, now time.Time) error

	// Delete removes the dataset. Commits, manifests, refs, permissions
	// and tag links cascade; row payloads are never deleted.
	Delete(ctx context.Context, id types.DatasetID) error

	// List returns a page of datasets visible to the user: those they
	// created, those they hold a permission on, or all of them for
	// admins. Ordered by created_at descending, then id.
	List(ctx context.Context, userID types.UserID, isAdmin bool, offset, limit int) ([]Dataset, error)

	// SetTags replaces the dataset's tag set. Unknown tags are created.
	SetTags(ctx context.Context, id types.DatasetID, tags []string) error
}
