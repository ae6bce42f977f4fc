package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// ReflectionRepo persists one reflection per (user, local date).
type ReflectionRepo struct {
	pool *pgxpool.Pool
}

// Upsert writes a reflection, replacing any prior one for the same day.
func (r *ReflectionRepo) Upsert(ctx context.Context, ref *models.DailyReflection) error {
	content, err := json.Marshal(ref.Content)
	if err != nil {
		return fmt.Errorf("marshal reflection content: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO daily_reflections (reflection_id, username, reflection_date, content)
VALUES ($1, $2, $3, $4)
ON CONFLICT (username, reflection_date) DO UPDATE SET content = EXCLUDED.content`,
		ref.ID, ref.Username, ref.Date, content)
	if err != nil {
		return fmt.Errorf("upsert reflection %s/%s: %w", ref.Username, ref.Date, err)
	}
	return nil
}

// GetByDate returns the reflection for a local date, or ErrNotFound.
func (r *ReflectionRepo) GetByDate(ctx context.Context, username, date string) (*models.DailyReflection, error) {
	var (
		ref     models.DailyReflection
		content []byte
	)
	err := r.pool.QueryRow(ctx, `
SELECT reflection_id, username, reflection_date, content, created_at
FROM daily_reflections WHERE username = $1 AND reflection_date = $2`,
		username, date).Scan(&ref.ID, &ref.Username, &ref.Date, &content, &ref.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reflection %s/%s: %w", username, date, err)
	}
	if err := json.Unmarshal(content, &ref.Content); err != nil {
		return nil, fmt.Errorf("unmarshal reflection content: %w", err)
	}
	return &ref, nil
}

// Exists reports whether a reflection already exists for the day.
func (r *ReflectionRepo) Exists(ctx context.Context, username, date string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM daily_reflections WHERE username = $1 AND reflection_date = $2)`,
		username, date).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reflection %s/%s: %w", username, date, err)
	}
	return exists, nil
}
