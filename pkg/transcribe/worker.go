// Package transcribe closes expired batches and turns their speech into
// diarized, timestamped transcripts via the recognition and diarization
// vendors.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifetrace-ai/lifetrace/pkg/audio"
	"github.com/lifetrace-ai/lifetrace/pkg/kvstore"
	"github.com/lifetrace-ai/lifetrace/pkg/models"
	"github.com/lifetrace-ai/lifetrace/pkg/objectstore"
)

// BatchStore is the slice of the batch repository the worker uses.
type BatchStore interface {
	Get(ctx context.Context, id string) (*models.Batch, error)
	ListExpired(ctx context.Context, cutoff time.Time) ([]*models.Batch, error)
	ClaimForProcessing(ctx context.Context, id string) (bool, error)
	SetStatus(ctx context.Context, id string, status models.BatchStatus) error
}

// FileStore is the slice of the audio-file repository the worker uses.
type FileStore interface {
	ListByBatch(ctx context.Context, batchID string) ([]*models.AudioFile, error)
	MarkBatchTranscribed(ctx context.Context, batchID string) error
}

// TranscriptionStore persists merged transcripts.
type TranscriptionStore interface {
	Insert(ctx context.Context, t *models.TranscriptionResult) error
}

// Recognizer is the speech-to-text vendor.
type Recognizer interface {
	TranscribeURL(ctx context.Context, audioURL string) (*Transcription, error)
}

// Diarizer is the speaker-separation vendor.
type Diarizer interface {
	Diarize(ctx context.Context, audioURL string) ([]Turn, error)
}

// TimezoneSource resolves a user's timezone for transcript time markers.
// Satisfied by the key/value store.
type TimezoneSource interface {
	GetUserContext(ctx context.Context, username string) (*models.UserContext, error)
}

// Config tunes the worker.
type Config struct {
	// MonitorInterval is how often expired batches are swept up.
	MonitorInterval time.Duration
	// BatchTimeout is how long a batch may accumulate before the monitor
	// closes it.
	BatchTimeout time.Duration
	// SignedURLTTL bounds the vendor-facing signed URL for the batch audio.
	SignedURLTTL time.Duration
	// RecognitionTimeout bounds one recognition call.
	RecognitionTimeout time.Duration
	// TempPrefix is where concatenated batch audio is staged.
	TempPrefix string
}

// Worker runs the batch transcription pipeline.
type Worker struct {
	batches     BatchStore
	files       FileStore
	transcripts TranscriptionStore
	objects     objectstore.Store
	recognizer  Recognizer
	diarizer    Diarizer
	timezones   TimezoneSource
	cfg         Config
	logger      *slog.Logger

	dispatch chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker creates the transcription worker. timezones may be nil; time
// markers then render in UTC.
func NewWorker(batches BatchStore, files FileStore, transcripts TranscriptionStore,
	objects objectstore.Store, recognizer Recognizer, diarizer Diarizer,
	timezones TimezoneSource, cfg Config, logger *slog.Logger) *Worker {

	if batches == nil || files == nil || transcripts == nil {
		panic("transcribe: stores must not be nil")
	}
	if recognizer == nil {
		panic("transcribe: recognizer must not be nil")
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 10 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 300 * time.Second
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	if cfg.RecognitionTimeout <= 0 {
		cfg.RecognitionTimeout = 300 * time.Second
	}
	if cfg.TempPrefix == "" {
		cfg.TempPrefix = "temp-diarization/"
	}
	return &Worker{
		batches:     batches,
		files:       files,
		transcripts: transcripts,
		objects:     objects,
		recognizer:  recognizer,
		diarizer:    diarizer,
		timezones:   timezones,
		cfg:         cfg,
		logger:      logger.With("component", "transcribe"),
		dispatch:    make(chan string, 64),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Dispatch hands the worker a batch that was already flipped to processing
// (stale-closed by the batch manager or reset by the retry endpoint).
func (w *Worker) Dispatch(batchID string) {
	select {
	case w.dispatch <- batchID:
	default:
		// Full queue is fine; the monitor will find it eventually.
		w.logger.Warn("dispatch queue full", "batch_id", batchID)
	}
}

// Start launches the monitor loop.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the loop and waits for the in-flight batch to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("batch monitor started", "interval", w.cfg.MonitorInterval)
	ticker := time.NewTicker(w.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("batch monitor stopped")
			return
		case <-ctx.Done():
			return
		case batchID := <-w.dispatch:
			w.processDispatched(ctx, batchID)
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error("batch sweep failed", "error", err)
			}
		}
	}
}

// sweep claims and processes every batch whose accumulation window ran out.
func (w *Worker) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-w.cfg.BatchTimeout)
	expired, err := w.batches.ListExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, batch := range expired {
		claimed, err := w.batches.ClaimForProcessing(ctx, batch.ID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		w.runBatch(ctx, batch)
	}
	return nil
}

func (w *Worker) processDispatched(ctx context.Context, batchID string) {
	batch, err := w.batches.Get(ctx, batchID)
	if err != nil {
		w.logger.Error("dispatched batch lookup failed", "batch_id", batchID, "error", err)
		return
	}
	if batch.Status != models.BatchStatusProcessing {
		return // someone else settled it already
	}
	w.runBatch(ctx, batch)
}

func (w *Worker) runBatch(ctx context.Context, batch *models.Batch) {
	start := time.Now()
	if err := w.ProcessBatch(ctx, batch); err != nil {
		w.logger.Error("batch failed", "batch_id", batch.ID, "error", err)
		if serr := w.batches.SetStatus(ctx, batch.ID, models.BatchStatusFailed); serr != nil {
			w.logger.Error("mark batch failed", "batch_id", batch.ID, "error", serr)
		}
		return
	}
	w.logger.Info("batch completed", "batch_id", batch.ID, "elapsed", time.Since(start))
}

// ProcessBatch runs the full pipeline for one claimed batch: concatenate its
// speech, stage it for the vendors, recognize, diarize, merge, and persist.
func (w *Worker) ProcessBatch(ctx context.Context, batch *models.Batch) error {
	files, err := w.files.ListByBatch(ctx, batch.ID)
	if err != nil {
		return err
	}
	var speechful []*models.AudioFile
	for _, f := range files {
		if len(f.SpeechSegments) > 0 {
			speechful = append(speechful, f)
		}
	}
	if len(speechful) == 0 {
		w.logger.Info("batch has no speech, completing empty", "batch_id", batch.ID)
		return w.batches.SetStatus(ctx, batch.ID, models.BatchStatusCompleted)
	}

	merged, survivors, meta, err := w.concatSpeech(ctx, speechful)
	if err != nil {
		return err
	}
	if len(survivors) == 0 {
		w.logger.Warn("no batch segments retrievable, completing empty", "batch_id", batch.ID)
		return w.batches.SetStatus(ctx, batch.ID, models.BatchStatusCompleted)
	}

	tempKey := w.cfg.TempPrefix + batch.ID + ".wav"
	if err := w.objects.Put(ctx, tempKey, audio.Encode(merged), "audio/wav"); err != nil {
		return fmt.Errorf("stage batch audio: %w", err)
	}
	defer func() {
		if err := w.objects.Delete(context.WithoutCancel(ctx), tempKey); err != nil {
			w.logger.Warn("temp audio cleanup failed", "key", tempKey, "error", err)
		}
	}()

	signedURL, err := w.objects.PresignGet(ctx, tempKey, w.cfg.SignedURLTTL)
	if err != nil {
		return fmt.Errorf("presign batch audio: %w", err)
	}

	recCtx, cancel := context.WithTimeout(ctx, w.cfg.RecognitionTimeout)
	defer cancel()
	tr, err := w.recognizer.TranscribeURL(recCtx, signedURL)
	if err != nil {
		return fmt.Errorf("recognize batch %s: %w", batch.ID, err)
	}

	// A diarization failure fails the batch; the single-speaker path is for
	// jobs that succeed and find nothing to separate.
	var turns []Turn
	if w.diarizer != nil {
		turns, err = w.diarizer.Diarize(ctx, signedURL)
		if err != nil {
			return fmt.Errorf("diarize batch %s: %w", batch.ID, err)
		}
	}

	if len(strings.TrimSpace(tr.Transcript)) <= 1 {
		w.logger.Info("transcript empty, discarding batch", "batch_id", batch.ID)
		if err := w.files.MarkBatchTranscribed(ctx, batch.ID); err != nil {
			return err
		}
		return w.batches.SetStatus(ctx, batch.ID, models.BatchStatusCompleted)
	}

	sentences := MergeWords(tr.Words, turns)
	// Time markers render in the timezone the upload was captured in when the
	// object carries one, else the user's stored timezone, else UTC.
	base := batch.FirstSegmentTime
	if off := objectstore.TimezoneOffset(meta, base); off != 0 {
		base = base.UTC().In(time.FixedZone("capture", int(off/time.Second)))
	} else {
		base = base.In(w.userLocation(ctx, batch.Username))
	}
	text := FormatTranscript(sentences, base)

	// The window ends when the last captured segment stops playing, not when
	// it started.
	last := survivors[0]
	for _, f := range survivors[1:] {
		if f.CapturedAt.After(last.CapturedAt) {
			last = f
		}
	}
	endTime := last.CapturedAt.Add(time.Duration(last.TotalDuration * float64(time.Second)))

	result := &models.TranscriptionResult{
		ID:           uuid.New().String(),
		Username:     batch.Username,
		BatchID:      batch.ID,
		StartTime:    batch.FirstSegmentTime,
		EndTime:      endTime,
		Text:         text,
		Confidence:   tr.Confidence,
		Language:     tr.Language,
		Sentiments:   tr.Sentiments,
		Topics:       tr.Topics,
		Intents:      tr.Intents,
		RawResponse:  tr.RawResponse,
		SegmentCount: len(survivors),
	}
	if err := w.transcripts.Insert(ctx, result); err != nil {
		return err
	}
	if err := w.files.MarkBatchTranscribed(ctx, batch.ID); err != nil {
		return err
	}
	return w.batches.SetStatus(ctx, batch.ID, models.BatchStatusCompleted)
}

// concatSpeech downloads each segment, cuts out its speech spans, and joins
// everything in upload order. A segment whose download fails is logged and
// skipped so one lost object does not sink the whole batch; decode errors
// still abort. Also returns the surviving files and the first survivor's
// object metadata.
func (w *Worker) concatSpeech(ctx context.Context, files []*models.AudioFile) (*audio.PCM, []*models.AudioFile, map[string]string, error) {
	clips := make([]*audio.PCM, 0, len(files))
	kept := make([]*models.AudioFile, 0, len(files))
	var meta map[string]string
	for _, f := range files {
		body, info, err := w.objects.Get(ctx, f.Key)
		if err != nil {
			w.logger.Error("segment download failed, skipping", "key", f.Key, "error", err)
			continue
		}
		pcm, err := audio.Decode(body)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("decode %s: %w", f.Key, err)
		}
		clips = append(clips, audio.ExtractSpans(pcm, f.SpeechSegments))
		kept = append(kept, f)
		if meta == nil {
			meta = info.Metadata
		}
	}
	if len(kept) == 0 {
		return nil, nil, nil, nil
	}
	merged, err := audio.Concat(clips)
	if err != nil {
		return nil, nil, nil, err
	}
	return merged, kept, meta, nil
}

func (w *Worker) userLocation(ctx context.Context, username string) *time.Location {
	if w.timezones == nil {
		return time.UTC
	}
	uc, err := w.timezones.GetUserContext(ctx, username)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			w.logger.Warn("user context lookup failed", "username", username, "error", err)
		}
		return time.UTC
	}
	loc, err := time.LoadLocation(uc.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
