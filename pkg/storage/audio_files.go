package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// AudioFileRepo persists uploaded audio segments. (bucket, object_key) is
// unique, which is what makes at-least-once notification delivery safe.
type AudioFileRepo struct {
	pool *pgxpool.Pool
}

const audioFileColumns = `
file_id, username, bucket, object_key, format, size_bytes,
captured_at, uploaded_at, status, speech_segments, segment_count,
speech_duration, speech_ratio, total_duration, vad_processed_at,
vad_error, batch_id, created_at, updated_at`

// Insert writes a new row in status "uploaded". It returns false without
// error when a row already exists for (bucket, key), which is the
// idempotence point for redelivered notifications.
func (r *AudioFileRepo) Insert(ctx context.Context, f *models.AudioFile) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
INSERT INTO audio_files (file_id, username, bucket, object_key, format, size_bytes, captured_at, uploaded_at, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (bucket, object_key) DO NOTHING`,
		f.ID, f.Username, f.Bucket, f.Key, f.Format, f.SizeBytes,
		f.CapturedAt, f.UploadedAt, models.AudioStatusUploaded)
	if err != nil {
		return false, fmt.Errorf("insert audio file %s/%s: %w", f.Bucket, f.Key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByObject returns the row for an object-store coordinate, or ErrNotFound.
func (r *AudioFileRepo) GetByObject(ctx context.Context, bucket, key string) (*models.AudioFile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+audioFileColumns+` FROM audio_files WHERE bucket = $1 AND object_key = $2`,
		bucket, key)
	return scanAudioFile(row)
}

// Get returns the row by id, or ErrNotFound.
func (r *AudioFileRepo) Get(ctx context.Context, id string) (*models.AudioFile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+audioFileColumns+` FROM audio_files WHERE file_id = $1`, id)
	return scanAudioFile(row)
}

// ExistsByObject reports whether a row exists for (bucket, key). Used by the
// reconciliation sweep.
func (r *AudioFileRepo) ExistsByObject(ctx context.Context, bucket, key string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM audio_files WHERE bucket = $1 AND object_key = $2)`,
		bucket, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check audio file %s/%s: %w", bucket, key, err)
	}
	return exists, nil
}

// SetVADResult records a completed VAD pass. status must be one of
// vad_complete, no_speech, vad_failed.
func (r *AudioFileRepo) SetVADResult(ctx context.Context, id string, status models.AudioFileStatus,
	segments []models.Span, speechDuration, speechRatio, totalDuration float64, vadErr string) error {

	segJSON, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("marshal speech segments: %w", err)
	}
	if segments == nil {
		segJSON = []byte("[]")
	}

	_, err = r.pool.Exec(ctx, `
UPDATE audio_files SET
	status = $2, speech_segments = $3, segment_count = $4,
	speech_duration = $5, speech_ratio = $6, total_duration = $7,
	vad_processed_at = now(), vad_error = $8, updated_at = now()
WHERE file_id = $1`,
		id, status, segJSON, len(segments), speechDuration, speechRatio, totalDuration, vadErr)
	if err != nil {
		return fmt.Errorf("set vad result for %s: %w", id, err)
	}
	return nil
}

// ListByBatch returns all files attached to a batch, ordered by upload time.
func (r *AudioFileRepo) ListByBatch(ctx context.Context, batchID string) ([]*models.AudioFile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+audioFileColumns+` FROM audio_files WHERE batch_id = $1 ORDER BY uploaded_at`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("list files for batch %s: %w", batchID, err)
	}
	defer rows.Close()

	var files []*models.AudioFile
	for rows.Next() {
		f, err := scanAudioFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// MarkBatchTranscribed flips every file in the batch to "transcribed".
func (r *AudioFileRepo) MarkBatchTranscribed(ctx context.Context, batchID string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE audio_files SET status = $2, updated_at = now() WHERE batch_id = $1`,
		batchID, models.AudioStatusTranscribed)
	if err != nil {
		return fmt.Errorf("mark batch %s transcribed: %w", batchID, err)
	}
	return nil
}

// ResetBatchFiles returns non-terminal batch files to vad_complete so a
// failed batch can be retried.
func (r *AudioFileRepo) ResetBatchFiles(ctx context.Context, batchID string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE audio_files SET status = $2, updated_at = now()
WHERE batch_id = $1 AND status <> $3`,
		batchID, models.AudioStatusVADComplete, models.AudioStatusTranscribed)
	if err != nil {
		return fmt.Errorf("reset files for batch %s: %w", batchID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudioFile(row rowScanner) (*models.AudioFile, error) {
	var (
		f       models.AudioFile
		segJSON []byte
		vadAt   *time.Time
		batchID *string
	)
	err := row.Scan(
		&f.ID, &f.Username, &f.Bucket, &f.Key, &f.Format, &f.SizeBytes,
		&f.CapturedAt, &f.UploadedAt, &f.Status, &segJSON, &f.SegmentCount,
		&f.SpeechDuration, &f.SpeechRatio, &f.TotalDuration, &vadAt,
		&f.VADError, &batchID, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan audio file: %w", err)
	}
	if len(segJSON) > 0 {
		if err := json.Unmarshal(segJSON, &f.SpeechSegments); err != nil {
			return nil, fmt.Errorf("unmarshal speech segments: %w", err)
		}
	}
	f.VADProcessedAt = vadAt
	f.BatchID = batchID
	return &f, nil
}
