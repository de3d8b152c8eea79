// Package userstore defines user accounts.
package userstore

import (
	"context"
	"time"

	"github.com/sheafdata/sheaf/go/types"
)

// User is one account.
type User struct {
	ID          types.UserID `json:"user_id"`
	Email       string       `json:"email"`
	DisplayName string       `json:"display_name"`
	IsAdmin     bool         `json:"is_admin"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Store is the interface for users.
type Store interface {
	// Create adds a new user. Returns a Conflict error if the email is
	// taken.
	Create(ctx context.Context, u User) error

	// Get returns the user with the given id.
	Get(ctx context.Context, id types.UserID) (User, error)

	// GetByEmail returns the user with the given email.
	GetByEmail(ctx context.Context, email string) (User, error)
}
