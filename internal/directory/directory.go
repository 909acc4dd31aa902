// Package directory provides read-only lookup of platform users. The users
// table is owned by the main platform; this core only reads the fields it
// needs to authenticate connections and enrich delivered messages.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RoleAdmin is the role value that grants admin-channel membership.
const RoleAdmin = "admin"

// User is the subset of a platform account visible to the messaging core.
type User struct {
	ID        int64
	Name      string
	AvatarURL string
	Role      string
	IsActive  bool
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Directory looks up users by id. Lookup returns (nil, nil) when the user
// does not exist.
type Directory interface {
	Lookup(ctx context.Context, id int64) (*User, error)
}

// Store is the PostgreSQL-backed Directory.
type Store struct {
	db *sql.DB
}

// NewStore creates a directory backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Lookup fetches one user row. A missing row is not an error.
func (s *Store) Lookup(ctx context.Context, id int64) (*User, error) {
	const query = `
		SELECT id, name, COALESCE(avatar_url, ''), role, is_active
		FROM users
		WHERE id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &u.AvatarURL, &u.Role, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: lookup user %d: %w", id, err)
	}
	return &u, nil
}
