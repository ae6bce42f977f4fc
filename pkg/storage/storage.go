// Package storage provides the relational repositories used by the pipeline
// workers and the API services. All repositories share one pgx connection
// pool and are safe for concurrent use.
package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store bundles the per-entity repositories over a shared pool.
type Store struct {
	pool *pgxpool.Pool

	Users          *UserRepo
	AudioFiles     *AudioFileRepo
	Batches        *BatchRepo
	Transcriptions *TranscriptionRepo
	Events         *EventRepo
	Scores         *ScoreRepo
	Reflections    *ReflectionRepo
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("storage.New: pool must not be nil")
	}
	return &Store{
		pool:           pool,
		Users:          &UserRepo{pool: pool},
		AudioFiles:     &AudioFileRepo{pool: pool},
		Batches:        &BatchRepo{pool: pool},
		Transcriptions: &TranscriptionRepo{pool: pool},
		Events:         &EventRepo{pool: pool},
		Scores:         &ScoreRepo{pool: pool},
		Reflections:    &ReflectionRepo{pool: pool},
	}
}
