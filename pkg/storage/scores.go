package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// ScoreRepo persists mental-state samples; they feed the personal-adjustment
// lookup and act as a timeline cache.
type ScoreRepo struct {
	pool *pgxpool.Pool
}

// Insert writes one sample.
func (r *ScoreRepo) Insert(ctx context.Context, s *models.MentalStateScore) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO mental_state_scores (score_id, username, ts, energy, stress, confidence, data_source, event_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Username, s.Timestamp, s.Energy, s.Stress, s.Confidence, s.DataSource, s.EventID)
	if err != nil {
		return fmt.Errorf("insert mental state score: %w", err)
	}
	return nil
}

// Since returns the user's samples newer than the cutoff, oldest first.
func (r *ScoreRepo) Since(ctx context.Context, username string, cutoff time.Time) ([]*models.MentalStateScore, error) {
	rows, err := r.pool.Query(ctx, `
SELECT score_id, username, ts, energy, stress, confidence, data_source, event_id
FROM mental_state_scores
WHERE username = $1 AND ts >= $2
ORDER BY ts`,
		username, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list mental state scores: %w", err)
	}
	defer rows.Close()

	var scores []*models.MentalStateScore
	for rows.Next() {
		var s models.MentalStateScore
		if err := rows.Scan(&s.ID, &s.Username, &s.Timestamp, &s.Energy,
			&s.Stress, &s.Confidence, &s.DataSource, &s.EventID); err != nil {
			return nil, fmt.Errorf("scan mental state score: %w", err)
		}
		scores = append(scores, &s)
	}
	return scores, rows.Err()
}
