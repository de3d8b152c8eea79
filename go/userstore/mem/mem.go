// Package mem provides an in-memory userstore.Store for tests.
package mem

import (
	"context"
	"sync"

	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/userstore"
)

// UserStore implements userstore.Store in memory.
type UserStore struct {
	mtx   sync.Mutex
	users map[types.UserID]userstore.User
}

// New returns an empty in-memory user store.
func New() *UserStore {
	return &UserStore{users: map[types.UserID]userstore.User{}}
}

// Create implements userstore.Store.
func (s *UserStore) Create(ctx context.Context, u userstore.User) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return sherr.New(sherr.Conflict, "user %q already exists", u.Email)
		}
	}
	s.users[u.ID] = u
	return nil
}

// Get implements userstore.Store.
func (s *UserStore) Get(ctx context.Context, id types.UserID) (userstore.User, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	u, ok := s.users[id]
	if !ok {
		return u, sherr.New(sherr.NotFound, "user %s does not exist", id)
	}
	return u, nil
}

// GetByEmail implements userstore.Store.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (userstore.User, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return userstore.User{}, sherr.New(sherr.NotFound, "user %q does not exist", email)
}

var _ userstore.Store = (*UserStore)(nil)
