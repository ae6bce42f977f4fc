package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// TranscriptionRepo persists merged batch transcripts and their analysis
// lifecycle (pending → processing → completed | failed).
type TranscriptionRepo struct {
	pool *pgxpool.Pool
}

const transcriptionColumns = `
transcription_id, username, batch_id, start_time, end_time,
transcription_text, confidence, language, sentiments, topics, intents,
raw_response, segment_count, analysis_status, analyzed_at, created_at`

// Insert writes a new transcription result.
func (r *TranscriptionRepo) Insert(ctx context.Context, t *models.TranscriptionResult) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO transcription_results (
	transcription_id, username, batch_id, start_time, end_time,
	transcription_text, confidence, language, sentiments, topics, intents,
	raw_response, segment_count, analysis_status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.Username, t.BatchID, t.StartTime, t.EndTime,
		t.Text, t.Confidence, t.Language,
		nullableJSON(t.Sentiments), nullableJSON(t.Topics), nullableJSON(t.Intents),
		nullableJSON(t.RawResponse), t.SegmentCount, models.AnalysisStatusPending)
	if err != nil {
		return fmt.Errorf("insert transcription for batch %s: %w", t.BatchID, err)
	}
	return nil
}

// ListPending returns up to limit pending transcripts ordered by user then
// start time. This is the analyzer's per-cycle work set.
func (r *TranscriptionRepo) ListPending(ctx context.Context, limit int) ([]*models.TranscriptionResult, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+transcriptionColumns+` FROM transcription_results
WHERE analysis_status = $1
ORDER BY username, start_time
LIMIT $2`,
		models.AnalysisStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending transcriptions: %w", err)
	}
	defer rows.Close()
	return collectTranscriptions(rows)
}

// MarkProcessing flips the given transcripts pending → processing; the
// returned count is how many were actually claimed, which guards against a
// parallel analyzer working the same group.
func (r *TranscriptionRepo) MarkProcessing(ctx context.Context, ids []string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE transcription_results SET analysis_status = $2
WHERE transcription_id = ANY($1) AND analysis_status = $3`,
		ids, models.AnalysisStatusProcessing, models.AnalysisStatusPending)
	if err != nil {
		return 0, fmt.Errorf("mark transcriptions processing: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkCompleted finalizes analyzed transcripts and stamps analyzed_at.
func (r *TranscriptionRepo) MarkCompleted(ctx context.Context, ids []string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE transcription_results SET analysis_status = $2, analyzed_at = now()
WHERE transcription_id = ANY($1)`,
		ids, models.AnalysisStatusCompleted)
	if err != nil {
		return fmt.Errorf("mark transcriptions completed: %w", err)
	}
	return nil
}

// MarkFailed records an analysis failure.
func (r *TranscriptionRepo) MarkFailed(ctx context.Context, ids []string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE transcription_results SET analysis_status = $2
WHERE transcription_id = ANY($1)`,
		ids, models.AnalysisStatusFailed)
	if err != nil {
		return fmt.Errorf("mark transcriptions failed: %w", err)
	}
	return nil
}

// ResetStuckProcessing returns transcripts abandoned in processing (crashed
// analyzer) to pending. Returns how many were recovered.
func (r *TranscriptionRepo) ResetStuckProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE transcription_results SET analysis_status = $1
WHERE analysis_status = $2 AND created_at < $3 AND analyzed_at IS NULL`,
		models.AnalysisStatusPending, models.AnalysisStatusProcessing, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reset stuck transcriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListPage returns one page of a user's transcripts, newest first, optionally
// bounded by start/end dates, plus the total row count for the envelope.
func (r *TranscriptionRepo) ListPage(ctx context.Context, username string, from, to *time.Time, page, pageSize int) ([]*models.TranscriptionResult, int, error) {
	where := `WHERE username = $1`
	args := []any{username}
	if from != nil {
		args = append(args, *from)
		where += fmt.Sprintf(` AND start_time >= $%d`, len(args))
	}
	if to != nil {
		args = append(args, *to)
		where += fmt.Sprintf(` AND start_time < $%d`, len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM transcription_results `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transcriptions: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := r.pool.Query(ctx, `
SELECT `+transcriptionColumns+` FROM transcription_results `+where+`
ORDER BY start_time DESC
LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transcriptions: %w", err)
	}
	defer rows.Close()

	list, err := collectTranscriptions(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func scanTranscription(row rowScanner) (*models.TranscriptionResult, error) {
	var t models.TranscriptionResult
	err := row.Scan(
		&t.ID, &t.Username, &t.BatchID, &t.StartTime, &t.EndTime,
		&t.Text, &t.Confidence, &t.Language, &t.Sentiments, &t.Topics,
		&t.Intents, &t.RawResponse, &t.SegmentCount, &t.AnalysisStatus,
		&t.AnalyzedAt, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transcription: %w", err)
	}
	return &t, nil
}

func collectTranscriptions(rows pgx.Rows) ([]*models.TranscriptionResult, error) {
	var list []*models.TranscriptionResult
	for rows.Next() {
		t, err := scanTranscription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
