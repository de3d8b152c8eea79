// Package sqluserstore implements userstore.Store on SQL.
package sqluserstore

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/sql/pool"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/userstore"
)

// statement is an SQL statement identifier.
type statement int

const (
	insertUser statement = iota
	getUser
	getUserByEmail
)

// statements holds all the raw SQL statements used.
var statements = map[statement]string{
	insertUser: `
        INSERT INTO
            Users (user_id, email, display_name, is_admin, created_at)
        VALUES
            ($1, $2, $3, $4, $5)
        ON CONFLICT
        DO NOTHING`,
	getUser: `
        SELECT
            user_id, email, display_name, is_admin, created_at
        FROM
            Users
        WHERE
            user_id = $1`,
	getUserByEmail: `
        SELECT
            user_id, email, display_name, is_admin, created_at
        FROM
            Users
        WHERE
            email = $1`,
}

// SQLUserStore implements userstore.Store.
type SQLUserStore struct {
	db pool.Pool
}

// New returns a new SQLUserStore.
func New(db pool.Pool) *SQLUserStore {
	return &SQLUserStore{db: db}
}

// Create implements userstore.Store.
func (s *SQLUserStore) Create(ctx context.Context, u userstore.User) error {
	tag, err := s.db.Exec(ctx, statements[insertUser], u.ID, u.Email, u.DisplayName, u.IsAdmin, u.CreatedAt)
	if err != nil {
		return sherr.Wrapf(err, "creating user %q", u.Email)
	}
	if tag.RowsAffected() == 0 {
		return sherr.New(sherr.Conflict, "user %q already exists", u.Email)
	}
	return nil
}

func (s *SQLUserStore) get(ctx context.Context, stmt statement, arg interface{}) (userstore.User, error) {
	var ret userstore.User
	err := s.db.QueryRow(ctx, statements[stmt], arg).Scan(
		&ret.ID, &ret.Email, &ret.DisplayName, &ret.IsAdmin, &ret.CreatedAt)
	if err == pgx.ErrNoRows {
		return ret, sherr.New(sherr.NotFound, "user %v does not exist", arg)
	}
	if err != nil {
		return ret, sherr.Wrap(err)
	}
	return ret, nil
}

// Get implements userstore.Store.
func (s *SQLUserStore) Get(ctx context.Context, id types.UserID) (userstore.User, error) {
	return s.get(ctx, getUser, id)
}

// GetByEmail implements userstore.Store.
func (s *SQLUserStore) GetByEmail(ctx context.Context, email string) (userstore.User, error) {
	return s.get(ctx, getUserByEmail, email)
}

var _ userstore.Store = (*SQLUserStore)(nil)
