package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// BatchRepo persists transcription batches. The single-accumulating-batch-
// per-user invariant is maintained by doing get-or-create inside a
// transaction with a row lock on the open batch.
type BatchRepo struct {
	pool *pgxpool.Pool
}

const batchColumns = `
batch_id, username, first_segment_time, last_segment_time, segment_count,
speech_duration, status, processed_at, created_at, updated_at`

// Get returns a batch by id, or ErrNotFound.
func (r *BatchRepo) Get(ctx context.Context, id string) (*models.Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE batch_id = $1`, id)
	return scanBatch(row)
}

// GetOrCreateForSegment returns the user's open batch when its last segment
// is within gap of segmentTime; otherwise it creates a fresh accumulating
// batch starting at segmentTime. When a stale open batch had to be closed to
// preserve the one-accumulating-batch-per-user invariant, its id is returned
// as staleClosed (already flipped to processing) so the caller can dispatch
// transcription for it.
func (r *BatchRepo) GetOrCreateForSegment(ctx context.Context, username string, segmentTime time.Time, gap time.Duration) (batch *models.Batch, staleClosed string, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
SELECT `+batchColumns+` FROM batches
WHERE username = $1 AND status = $2
ORDER BY created_at DESC LIMIT 1
FOR UPDATE`,
		username, models.BatchStatusAccumulating)

	open, err := scanBatch(row)
	switch {
	case err == nil:
		// Reuse only when the new segment is close enough to the batch tail.
		if segmentTime.Sub(open.LastSegmentTime) <= gap && open.LastSegmentTime.Sub(segmentTime) <= gap {
			if err := tx.Commit(ctx); err != nil {
				return nil, "", fmt.Errorf("commit batch tx: %w", err)
			}
			return open, "", nil
		}
	case errors.Is(err, ErrNotFound):
		open = nil
	default:
		return nil, "", err
	}

	fresh := &models.Batch{
		ID:               uuid.New().String(),
		Username:         username,
		FirstSegmentTime: segmentTime,
		LastSegmentTime:  segmentTime,
		Status:           models.BatchStatusAccumulating,
	}

	// Close any stale open batch first so the per-user invariant holds. The
	// flip to processing doubles as the claim; the caller dispatches it.
	if open != nil {
		if _, err := tx.Exec(ctx, `
UPDATE batches SET status = $2, updated_at = now()
WHERE batch_id = $1 AND status = $3`,
			open.ID, models.BatchStatusProcessing, models.BatchStatusAccumulating); err != nil {
			return nil, "", fmt.Errorf("close stale batch %s: %w", open.ID, err)
		}
		staleClosed = open.ID
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO batches (batch_id, username, first_segment_time, last_segment_time, status)
VALUES ($1, $2, $3, $4, $5)`,
		fresh.ID, fresh.Username, fresh.FirstSegmentTime, fresh.LastSegmentTime, fresh.Status); err != nil {
		return nil, "", fmt.Errorf("create batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit batch tx: %w", err)
	}
	return fresh, staleClosed, nil
}

// AddSegment links a file to its batch and advances the batch counters and
// tail timestamp in one transaction.
func (r *BatchRepo) AddSegment(ctx context.Context, batchID, fileID string, speechDuration float64, segmentTime time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add-segment tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
UPDATE audio_files SET batch_id = $2, updated_at = now() WHERE file_id = $1`,
		fileID, batchID); err != nil {
		return fmt.Errorf("link file %s to batch %s: %w", fileID, batchID, err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE batches SET
	segment_count = segment_count + 1,
	speech_duration = speech_duration + $2,
	last_segment_time = GREATEST(last_segment_time, $3),
	updated_at = now()
WHERE batch_id = $1`,
		batchID, speechDuration, segmentTime); err != nil {
		return fmt.Errorf("advance batch %s: %w", batchID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit add-segment tx: %w", err)
	}
	return nil
}

// ListExpired returns accumulating batches whose first segment is older than
// the cutoff, plus any batch already flipped to processing but never picked
// up (stale-closed by the batch manager).
func (r *BatchRepo) ListExpired(ctx context.Context, cutoff time.Time) ([]*models.Batch, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+batchColumns+` FROM batches
WHERE status = $1 AND first_segment_time < $2
ORDER BY first_segment_time`,
		models.BatchStatusAccumulating, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

// ClaimForProcessing atomically flips accumulating → processing. Returns
// false if another worker already claimed the batch.
func (r *BatchRepo) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE batches SET status = $2, updated_at = now()
WHERE batch_id = $1 AND status = $3`,
		id, models.BatchStatusProcessing, models.BatchStatusAccumulating)
	if err != nil {
		return false, fmt.Errorf("claim batch %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetStatus records a terminal batch status and stamps processed_at.
func (r *BatchRepo) SetStatus(ctx context.Context, id string, status models.BatchStatus) error {
	_, err := r.pool.Exec(ctx, `
UPDATE batches SET status = $2, processed_at = now(), updated_at = now()
WHERE batch_id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("set batch %s status %s: %w", id, status, err)
	}
	return nil
}

// ResetFailed returns a failed batch to accumulating so the monitor can close
// it again. Returns false when the batch is not in status failed.
func (r *BatchRepo) ResetFailed(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE batches SET status = $2, processed_at = NULL, updated_at = now()
WHERE batch_id = $1 AND status = $3`,
		id, models.BatchStatusAccumulating, models.BatchStatusFailed)
	if err != nil {
		return false, fmt.Errorf("reset failed batch %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanBatch(row rowScanner) (*models.Batch, error) {
	var b models.Batch
	err := row.Scan(
		&b.ID, &b.Username, &b.FirstSegmentTime, &b.LastSegmentTime,
		&b.SegmentCount, &b.SpeechDuration, &b.Status, &b.ProcessedAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	return &b, nil
}

func collectBatches(rows pgx.Rows) ([]*models.Batch, error) {
	var batches []*models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
