package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
	"github.com/lifetrace-ai/lifetrace/pkg/storage"
)

// BatchAdmin is the slice of the batch repository the retry path uses.
// Satisfied by storage.BatchRepo.
type BatchAdmin interface {
	Get(ctx context.Context, id string) (*models.Batch, error)
	ResetFailed(ctx context.Context, id string) (bool, error)
}

// FileResetter returns a batch's files to their pre-transcription state.
// Satisfied by storage.AudioFileRepo.
type FileResetter interface {
	ResetBatchFiles(ctx context.Context, batchID string) error
}

// BatchService serves the failed-batch recovery path.
type BatchService struct {
	batches BatchAdmin
	files   FileResetter
	logger  *slog.Logger
}

// NewBatchService creates the service. files may be nil when file statuses
// are managed elsewhere.
func NewBatchService(batches BatchAdmin, files FileResetter, logger *slog.Logger) *BatchService {
	if batches == nil {
		panic("services.NewBatchService: batches must not be nil")
	}
	return &BatchService{batches: batches, files: files, logger: logger.With("component", "batch_service")}
}

// Retry returns a failed batch to accumulating so the monitor re-closes and
// re-transcribes it. Its files were never marked transcribed, so the next
// run sees the same material.
func (s *BatchService) Retry(ctx context.Context, id string) (*models.Batch, error) {
	batch, err := s.batches.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	if batch.Status != models.BatchStatusFailed {
		return nil, validationf("batch %s is %s, only failed batches can be retried", id, batch.Status)
	}

	// A failed batch may have files stranded mid-pipeline; return them to
	// vad_complete so the re-run sees the same material.
	if s.files != nil {
		if err := s.files.ResetBatchFiles(ctx, id); err != nil {
			return nil, fmt.Errorf("reset batch files: %w", err)
		}
	}

	ok, err := s.batches.ResetFailed(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reset batch: %w", err)
	}
	if !ok {
		// Lost a race with another retry or the monitor.
		return nil, validationf("batch %s is no longer failed", id)
	}
	s.logger.Info("batch queued for retry", "batch_id", id, "username", batch.Username)

	batch.Status = models.BatchStatusAccumulating
	batch.ProcessedAt = nil
	return batch, nil
}
