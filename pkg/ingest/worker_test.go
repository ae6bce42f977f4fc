package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifetrace-ai/lifetrace/pkg/audio"
	"github.com/lifetrace-ai/lifetrace/pkg/models"
	"github.com/lifetrace-ai/lifetrace/pkg/notify"
	"github.com/lifetrace-ai/lifetrace/pkg/objectstore"
)

type fakeFiles struct {
	mu    sync.Mutex
	byID  map[string]*models.AudioFile
	byKey map[string]string
	dupes int
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{byID: map[string]*models.AudioFile{}, byKey: map[string]string{}}
}

func (f *fakeFiles) Insert(_ context.Context, file *models.AudioFile) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := file.Bucket + "/" + file.Key
	if _, ok := f.byKey[key]; ok {
		f.dupes++
		return false, nil
	}
	stored := *file
	stored.Status = models.AudioStatusUploaded
	f.byID[file.ID] = &stored
	f.byKey[key] = file.ID
	return true, nil
}

func (f *fakeFiles) Get(_ context.Context, id string) (*models.AudioFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.byID[id]
	if !ok {
		return nil, errors.New("file not found")
	}
	copied := *file
	return &copied, nil
}

func (f *fakeFiles) ExistsByObject(_ context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byKey[bucket+"/"+key]
	return ok, nil
}

func (f *fakeFiles) SetVADResult(_ context.Context, id string, status models.AudioFileStatus,
	segments []models.Span, speechDuration, speechRatio, totalDuration float64, vadErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file := f.byID[id]
	file.Status = status
	file.SpeechSegments = segments
	file.SpeechDuration = speechDuration
	file.SpeechRatio = speechRatio
	file.TotalDuration = totalDuration
	file.VADError = vadErr
	return nil
}

type fakeBatches struct {
	mu        sync.Mutex
	open      *models.Batch
	closed    []string
	additions int
	nextID    int
}

func (b *fakeBatches) GetOrCreateForSegment(_ context.Context, username string, segmentTime time.Time, gap time.Duration) (*models.Batch, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open != nil {
		delta := segmentTime.Sub(b.open.LastSegmentTime)
		if delta < 0 {
			delta = -delta
		}
		if delta <= gap {
			return b.open, "", nil
		}
		stale := b.open.ID
		b.closed = append(b.closed, stale)
		b.open = b.newBatch(username, segmentTime)
		return b.open, stale, nil
	}
	b.open = b.newBatch(username, segmentTime)
	return b.open, "", nil
}

func (b *fakeBatches) newBatch(username string, t time.Time) *models.Batch {
	b.nextID++
	return &models.Batch{
		ID:               "batch-" + strconv.Itoa(b.nextID),
		Username:         username,
		FirstSegmentTime: t,
		LastSegmentTime:  t,
		Status:           models.BatchStatusAccumulating,
	}
}

func (b *fakeBatches) AddSegment(_ context.Context, batchID, _ string, _ float64, segmentTime time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.additions++
	if b.open != nil && b.open.ID == batchID && segmentTime.After(b.open.LastSegmentTime) {
		b.open.LastSegmentTime = segmentTime
	}
	return nil
}

type fakeUsers struct {
	mu      sync.Mutex
	known   map[string]bool
	created []string
}

func (u *fakeUsers) Exists(_ context.Context, username string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.known[username], nil
}

func (u *fakeUsers) Create(_ context.Context, user *models.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.known == nil {
		u.known = map[string]bool{}
	}
	u.known[user.Username] = true
	u.created = append(u.created, user.Username)
	return nil
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) Dispatch(batchID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, batchID)
}

func tone(duration float64) []byte {
	n := int(duration * audio.SampleRate)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(0.5 * 32767 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return audio.Encode(&audio.PCM{Samples: samples, SampleRate: audio.SampleRate})
}

func silence(duration float64) []byte {
	n := int(duration * audio.SampleRate)
	return audio.Encode(&audio.PCM{Samples: make([]int16, n), SampleRate: audio.SampleRate})
}

type env struct {
	worker   *Worker
	files    *fakeFiles
	batches  *fakeBatches
	users    *fakeUsers
	objects  *objectstore.MemoryStore
	dispatch *recordingDispatcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		files:    newFakeFiles(),
		batches:  &fakeBatches{},
		users:    &fakeUsers{},
		objects:  objectstore.NewMemoryStore(),
		dispatch: &recordingDispatcher{},
	}
	e.worker = NewWorker(e.files, e.batches, e.users, e.objects, e.dispatch,
		Config{BatchGap: 300 * time.Second, Workers: 1}, slog.New(slog.DiscardHandler))
	return e
}

// ingest synchronously runs the full notify-then-VAD path for one object.
func (e *env) ingest(t *testing.T, upload notify.Upload) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.worker.HandleUpload(ctx, upload))
	// HandleUpload queued the VAD task; drain it inline.
	for {
		select {
		case id := <-e.worker.jobs:
			require.NoError(t, e.worker.processFile(ctx, id))
		default:
			return
		}
	}
}

func upload(key string) notify.Upload {
	username, filename, _ := notify.SplitAudioKey(key)
	return notify.Upload{Bucket: "lifetrace-audio", Key: key, Username: username, Filename: filename}
}

func TestHandleUploadSpeechfulSegment(t *testing.T) {
	e := newEnv(t)
	captured := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	e.objects.PutWithMetadata("native-audio/alice/a.wav", tone(1.0),
		map[string]string{"capturedat": strconv.FormatInt(captured.UnixMilli(), 10)},
		captured.Add(30*time.Second))

	e.ingest(t, upload("native-audio/alice/a.wav"))

	assert.Equal(t, []string{"alice"}, e.users.created)
	require.Len(t, e.files.byID, 1)
	for _, f := range e.files.byID {
		assert.Equal(t, models.AudioStatusVADComplete, f.Status)
		assert.Equal(t, captured, f.CapturedAt)
		assert.NotEmpty(t, f.SpeechSegments)
	}
	assert.Equal(t, 1, e.batches.additions)
	assert.Empty(t, e.dispatch.ids)
}

func TestHandleUploadNoSpeech(t *testing.T) {
	e := newEnv(t)
	e.objects.PutWithMetadata("native-audio/alice/quiet.wav", silence(2.0), nil, time.Now())

	e.ingest(t, upload("native-audio/alice/quiet.wav"))

	for _, f := range e.files.byID {
		assert.Equal(t, models.AudioStatusNoSpeech, f.Status)
	}
	assert.Equal(t, 0, e.batches.additions)
}

func TestHandleUploadUndecodableObject(t *testing.T) {
	e := newEnv(t)
	e.objects.PutWithMetadata("native-audio/alice/bad.wav", []byte("not a wav"), nil, time.Now())

	ctx := context.Background()
	require.NoError(t, e.worker.HandleUpload(ctx, upload("native-audio/alice/bad.wav")))
	id := <-e.worker.jobs
	assert.Error(t, e.worker.processFile(ctx, id))

	for _, f := range e.files.byID {
		assert.Equal(t, models.AudioStatusVADFailed, f.Status)
		assert.NotEmpty(t, f.VADError)
	}
}

func TestHandleUploadDuplicateNotification(t *testing.T) {
	e := newEnv(t)
	e.objects.PutWithMetadata("native-audio/alice/a.wav", tone(1.0), nil, time.Now())

	e.ingest(t, upload("native-audio/alice/a.wav"))
	e.ingest(t, upload("native-audio/alice/a.wav"))

	assert.Len(t, e.files.byID, 1)
	assert.Equal(t, 1, e.files.dupes)
	assert.Equal(t, 1, e.batches.additions)
}

func TestStaleBatchDispatch(t *testing.T) {
	e := newEnv(t)
	first := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	later := first.Add(20 * time.Minute) // past the 5-minute gap

	e.objects.PutWithMetadata("native-audio/alice/a.wav", tone(1.0),
		map[string]string{"capturedat": strconv.FormatInt(first.UnixMilli(), 10)}, first)
	e.objects.PutWithMetadata("native-audio/alice/b.wav", tone(1.0),
		map[string]string{"capturedat": strconv.FormatInt(later.UnixMilli(), 10)}, later)

	e.ingest(t, upload("native-audio/alice/a.wav"))
	e.ingest(t, upload("native-audio/alice/b.wav"))

	require.Len(t, e.batches.closed, 1)
	assert.Equal(t, e.batches.closed, e.dispatch.ids)
	assert.Equal(t, 2, e.batches.additions)
}

func TestReconcileRecoversDroppedNotification(t *testing.T) {
	e := newEnv(t)
	now := time.Now()
	e.objects.PutWithMetadata("native-audio/alice/dropped.wav", tone(1.0), nil, now)
	e.objects.PutWithMetadata("native-audio/alice/old.wav", tone(1.0), nil, now.Add(-48*time.Hour))

	require.NoError(t, e.worker.Reconcile(context.Background(), "lifetrace-audio", "native-audio/"))

	// Only the recent object is recovered; the listing is lookback-bounded.
	assert.Len(t, e.files.byID, 1)
	exists, _ := e.files.ExistsByObject(context.Background(), "lifetrace-audio", "native-audio/alice/dropped.wav")
	assert.True(t, exists)

	// A second sweep is a no-op.
	require.NoError(t, e.worker.Reconcile(context.Background(), "lifetrace-audio", "native-audio/"))
	assert.Len(t, e.files.byID, 1)
	assert.Equal(t, 0, e.files.dupes)
}
