// Package ingest is the upload pipeline: it records notified audio segments,
// runs voice activity detection on them, and folds speechful segments into
// per-user transcription batches.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifetrace-ai/lifetrace/pkg/audio"
	"github.com/lifetrace-ai/lifetrace/pkg/models"
	"github.com/lifetrace-ai/lifetrace/pkg/notify"
	"github.com/lifetrace-ai/lifetrace/pkg/objectstore"
	"github.com/lifetrace-ai/lifetrace/pkg/vad"
)

// AudioFileStore is the slice of the audio-file repository the worker uses.
type AudioFileStore interface {
	Insert(ctx context.Context, f *models.AudioFile) (bool, error)
	Get(ctx context.Context, id string) (*models.AudioFile, error)
	ExistsByObject(ctx context.Context, bucket, key string) (bool, error)
	SetVADResult(ctx context.Context, id string, status models.AudioFileStatus,
		segments []models.Span, speechDuration, speechRatio, totalDuration float64, vadErr string) error
}

// BatchStore is the slice of the batch repository the worker uses.
type BatchStore interface {
	GetOrCreateForSegment(ctx context.Context, username string, segmentTime time.Time, gap time.Duration) (*models.Batch, string, error)
	AddSegment(ctx context.Context, batchID, fileID string, speechDuration float64, segmentTime time.Time) error
}

// UserStore provisions users on first upload.
type UserStore interface {
	Exists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, u *models.User) error
}

// Dispatcher is notified when the batch manager closes a stale batch so the
// transcription worker can pick it up without waiting for the monitor.
type Dispatcher interface {
	Dispatch(batchID string)
}

// Config tunes the worker.
type Config struct {
	// BatchGap is the silence window that decides whether a segment joins
	// the user's open batch or opens a fresh one.
	BatchGap time.Duration
	// Workers bounds concurrent VAD tasks.
	Workers int
	// ReconcileLookback bounds the object listing in the reconciliation
	// sweep.
	ReconcileLookback time.Duration
	// VAD tunes the detector.
	VAD vad.Config
}

// Worker is the ingest pipeline.
type Worker struct {
	files      AudioFileStore
	batches    BatchStore
	users      UserStore
	objects    objectstore.Store
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger

	jobs     chan string
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWorker creates the ingest worker. dispatcher may be nil; stale-closed
// batches are then left to the batch monitor.
func NewWorker(files AudioFileStore, batches BatchStore, users UserStore,
	objects objectstore.Store, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Worker {

	if files == nil || batches == nil || users == nil {
		panic("ingest: stores must not be nil")
	}
	if objects == nil {
		panic("ingest: object store must not be nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchGap <= 0 {
		cfg.BatchGap = 300 * time.Second
	}
	if cfg.ReconcileLookback <= 0 {
		cfg.ReconcileLookback = 24 * time.Hour
	}
	return &Worker{
		files:      files,
		batches:    batches,
		users:      users,
		objects:    objects,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "ingest"),
		jobs:       make(chan string, cfg.Workers*4),
	}
}

// Start launches the VAD worker pool.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for fileID := range w.jobs {
				if err := w.processFile(ctx, fileID); err != nil {
					w.logger.Error("vad task failed", "file_id", fileID, "error", err)
				}
			}
		}()
	}
	w.logger.Info("ingest worker started", "vad_workers", w.cfg.Workers)
}

// Stop drains the queue and waits for in-flight VAD tasks.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.jobs) })
	w.wg.Wait()
}

// HandleUpload records a notified object and queues its VAD pass. Redelivered
// notifications for an already-recorded object are acknowledged silently.
func (w *Worker) HandleUpload(ctx context.Context, upload notify.Upload) error {
	info, err := w.objects.Head(ctx, upload.Key)
	if err != nil {
		return fmt.Errorf("head %s: %w", upload.Key, err)
	}

	if err := w.ensureUser(ctx, upload.Username); err != nil {
		return err
	}

	file := &models.AudioFile{
		ID:         uuid.New().String(),
		Username:   upload.Username,
		Bucket:     upload.Bucket,
		Key:        upload.Key,
		Format:     strings.TrimPrefix(path.Ext(upload.Filename), "."),
		SizeBytes:  info.Size,
		CapturedAt: objectstore.CapturedAt(info.Metadata, info.LastModified),
		UploadedAt: info.LastModified,
	}

	inserted, err := w.files.Insert(ctx, file)
	if err != nil {
		return err
	}
	if !inserted {
		w.logger.Debug("duplicate notification", "key", upload.Key)
		return nil
	}

	w.logger.Info("segment recorded",
		"key", upload.Key, "username", upload.Username, "captured_at", file.CapturedAt)
	w.enqueue(file.ID)
	return nil
}

// enqueue hands a file to the VAD pool without blocking the notification
// handler; when the pool is saturated the task runs inline instead.
func (w *Worker) enqueue(fileID string) {
	select {
	case w.jobs <- fileID:
	default:
		w.logger.Warn("vad pool saturated, processing inline", "file_id", fileID)
		if err := w.processFile(context.Background(), fileID); err != nil {
			w.logger.Error("inline vad task failed", "file_id", fileID, "error", err)
		}
	}
}

// processFile runs VAD on one recorded segment and attaches it to a batch
// when speech is found.
func (w *Worker) processFile(ctx context.Context, fileID string) error {
	file, err := w.files.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if file.Status != models.AudioStatusUploaded {
		return nil // already processed
	}

	body, _, err := w.objects.Get(ctx, file.Key)
	if err != nil {
		return w.failVAD(ctx, file, fmt.Errorf("download: %w", err))
	}
	pcm, err := audio.Decode(body)
	if err != nil {
		return w.failVAD(ctx, file, fmt.Errorf("decode: %w", err))
	}

	res := vad.Detect(pcm, w.cfg.VAD)
	if len(res.Segments) == 0 {
		w.logger.Info("no speech detected", "key", file.Key, "duration", res.TotalDuration)
		return w.files.SetVADResult(ctx, file.ID, models.AudioStatusNoSpeech,
			nil, 0, 0, res.TotalDuration, "")
	}

	if err := w.files.SetVADResult(ctx, file.ID, models.AudioStatusVADComplete,
		res.Segments, res.SpeechDuration, res.SpeechRatio, res.TotalDuration, ""); err != nil {
		return err
	}

	batch, staleClosed, err := w.batches.GetOrCreateForSegment(ctx, file.Username, file.CapturedAt, w.cfg.BatchGap)
	if err != nil {
		return err
	}
	if staleClosed != "" {
		w.logger.Info("stale batch closed", "batch_id", staleClosed, "username", file.Username)
		if w.dispatcher != nil {
			w.dispatcher.Dispatch(staleClosed)
		}
	}
	if err := w.batches.AddSegment(ctx, batch.ID, file.ID, res.SpeechDuration, file.CapturedAt); err != nil {
		return err
	}

	w.logger.Info("segment batched",
		"key", file.Key, "batch_id", batch.ID,
		"segments", len(res.Segments), "speech_duration", res.SpeechDuration)
	return nil
}

func (w *Worker) failVAD(ctx context.Context, file *models.AudioFile, cause error) error {
	w.logger.Error("vad failed", "key", file.Key, "error", cause)
	if err := w.files.SetVADResult(ctx, file.ID, models.AudioStatusVADFailed,
		nil, 0, 0, 0, cause.Error()); err != nil {
		return err
	}
	return cause
}

func (w *Worker) ensureUser(ctx context.Context, username string) error {
	exists, err := w.users.Exists(ctx, username)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	w.logger.Info("provisioning user on first upload", "username", username)
	return w.users.Create(ctx, &models.User{ID: uuid.New().String(), Username: username})
}
