package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// UserRepo reads user rows. Rows are created out of band or provisioned by
// the ingest worker on a user's first upload.
type UserRepo struct {
	pool *pgxpool.Pool
}

const sqlUserByUsername = `
SELECT user_id, username, password_hash, display_name, created_at, updated_at
FROM users WHERE username = $1`

// ByUsername returns the user with the given login name, or ErrNotFound.
func (r *UserRepo) ByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, sqlUserByUsername, username).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user %q: %w", username, err)
	}
	return &u, nil
}

// Exists reports whether a user row exists for the login name.
func (r *UserRepo) Exists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user %q: %w", username, err)
	}
	return exists, nil
}

// Create inserts a user row.
func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO users (user_id, username, password_hash, display_name)
VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.PasswordHash, u.DisplayName)
	if err != nil {
		return fmt.Errorf("create user %q: %w", u.Username, err)
	}
	return nil
}
