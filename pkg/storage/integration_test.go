package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lifetrace-ai/lifetrace/pkg/database"
	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// The repositories run against a real postgres via testcontainers; one
// container is shared by the whole package and each test isolates through
// its own user row.
var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

func setupStore(t *testing.T) *Store {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	containerOnce.Do(func() {
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("lifetrace_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}
		dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("container connection string: %w", err)
			return
		}
		if err := database.MigrateDSN(dsn, "lifetrace_test"); err != nil {
			containerErr = fmt.Errorf("migrate: %w", err)
			return
		}
		containerDSN = dsn
	})
	require.NoError(t, containerErr)

	pool, err := pgxpool.New(ctx, containerDSN)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(pool)
}

func createUser(t *testing.T, store *Store) string {
	username := "u" + uuid.New().String()[:8]
	require.NoError(t, store.Users.Create(context.Background(), &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: "x",
	}))
	return username
}

func TestUserRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	username := createUser(t, store)

	exists, err := store.Users.Exists(ctx, username)
	require.NoError(t, err)
	assert.True(t, exists)

	u, err := store.Users.ByUsername(ctx, username)
	require.NoError(t, err)
	assert.Equal(t, username, u.Username)

	_, err = store.Users.ByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	username := createUser(t, store)
	base := time.Now().UTC().Truncate(time.Second)

	// First segment opens a batch.
	b1, stale, err := store.Batches.GetOrCreateForSegment(ctx, username, base, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stale)
	assert.Equal(t, models.BatchStatusAccumulating, b1.Status)

	// A close segment reuses it.
	again, stale, err := store.Batches.GetOrCreateForSegment(ctx, username, base.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stale)
	assert.Equal(t, b1.ID, again.ID)

	// A far segment closes the stale batch and opens a fresh one.
	b2, stale, err := store.Batches.GetOrCreateForSegment(ctx, username, base.Add(time.Hour), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, b1.ID, stale)
	assert.NotEqual(t, b1.ID, b2.ID)

	closed, err := store.Batches.Get(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusProcessing, closed.Status)

	// The per-user invariant: one accumulating batch at a time.
	var accumulating int
	require.NoError(t, store.pool.QueryRow(ctx,
		`SELECT count(*) FROM batches WHERE username = $1 AND status = 'accumulating'`,
		username).Scan(&accumulating))
	assert.Equal(t, 1, accumulating)
}

func TestBatchSegmentsAndClaim(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	username := createUser(t, store)
	base := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)

	batch, _, err := store.Batches.GetOrCreateForSegment(ctx, username, base, 5*time.Minute)
	require.NoError(t, err)

	file := &models.AudioFile{
		ID: uuid.New().String(), Username: username,
		Bucket: "b", Key: "native-audio/" + username + "/seg_001.wav",
		Format: "wav", CapturedAt: base, UploadedAt: base,
		Status: models.AudioStatusVADComplete,
	}
	inserted, err := store.AudioFiles.Insert(ctx, file)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Re-delivered notification: same object, no new row.
	inserted, err = store.AudioFiles.Insert(ctx, file)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, store.Batches.AddSegment(ctx, batch.ID, file.ID, 12.5, base.Add(30*time.Second)))

	got, err := store.Batches.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SegmentCount)
	assert.InDelta(t, 12.5, got.SpeechDuration, 1e-9)
	assert.WithinDuration(t, base.Add(30*time.Second), got.LastSegmentTime, time.Second)

	files, err := store.AudioFiles.ListByBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, file.ID, files[0].ID)

	// The monitor sees the expired batch and exactly one worker claims it.
	expired, err := store.Batches.ListExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	ids := make([]string, 0, len(expired))
	for _, b := range expired {
		ids = append(ids, b.ID)
	}
	assert.Contains(t, ids, batch.ID)

	claimed, err := store.Batches.ClaimForProcessing(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = store.Batches.ClaimForProcessing(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	// Failure marking and retry reset.
	require.NoError(t, store.Batches.SetStatus(ctx, batch.ID, models.BatchStatusFailed))
	ok, err := store.Batches.ResetFailed(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Batches.ResetFailed(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAudioFileVADResult(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	username := createUser(t, store)
	now := time.Now().UTC().Truncate(time.Second)

	file := &models.AudioFile{
		ID: uuid.New().String(), Username: username,
		Bucket: "b", Key: "native-audio/" + username + "/seg_vad.wav",
		Format: "wav", CapturedAt: now, UploadedAt: now,
		Status: models.AudioStatusUploaded,
	}
	_, err := store.AudioFiles.Insert(ctx, file)
	require.NoError(t, err)

	spans := []models.Span{{Start: 0.5, End: 2.0}, {Start: 3.0, End: 4.5}}
	require.NoError(t, store.AudioFiles.SetVADResult(ctx, file.ID,
		models.AudioStatusVADComplete, spans, 3.0, 0.6, 5.0, ""))

	got, err := store.AudioFiles.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AudioStatusVADComplete, got.Status)
	assert.Equal(t, spans, got.SpeechSegments)
	assert.Equal(t, 2, got.SegmentCount)
	assert.NotNil(t, got.VADProcessedAt)

	exists, err := store.AudioFiles.ExistsByObject(ctx, "b", file.Key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTranscriptionAnalysisLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	username := createUser(t, store)
	base := time.Now().UTC().Truncate(time.Second)

	batch, _, err := store.Batches.GetOrCreateForSegment(ctx, username, base, 5*time.Minute)
	require.NoError(t, err)

	tr := &models.TranscriptionResult{
		ID: uuid.New().String(), Username: username, BatchID: batch.ID,
		StartTime: base, EndTime: base.Add(time.Minute),
		Text: "[09:00:00-09:00:05] 0: Hello there.", Confidence: 0.92,
		Language: "en", SegmentCount: 1,
	}
	require.NoError(t, store.Transcriptions.Insert(ctx, tr))

	pending, err := store.Transcriptions.ListPending(ctx, 10)
	require.NoError(t, err)
	var mine *models.TranscriptionResult
	for _, p := range pending {
		if p.ID == tr.ID {
			mine = p
		}
	}
	require.NotNil(t, mine)
	assert.Equal(t, models.AnalysisStatusPending, mine.AnalysisStatus)

	claimed, err := store.Transcriptions.MarkProcessing(ctx, []string{tr.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, claimed)

	// Second claim is a no-op: the row is no longer pending.
	claimed, err = store.Transcriptions.MarkProcessing(ctx, []string{tr.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 0, claimed)

	require.NoError(t, store.Transcriptions.MarkCompleted(ctx, []string{tr.ID}))

	page, total, err := store.Transcriptions.ListPage(ctx, username, nil, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, models.AnalysisStatusCompleted, page[0].AnalysisStatus)
	assert.NotNil(t, page[0].AnalyzedAt)
}

func TestEventUpsertAndRange(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	username := createUser(t, store)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	event := &models.Event{
		ID: uuid.New().String(), Username: username,
		Status:         models.EventStatusOngoing,
		StartTimestamp: base, EndTimestamp: base.Add(30 * time.Minute),
		LastProcessedAt: base.Add(30 * time.Minute),
		Title:           "Morning standup", ActivityType: models.ActivityWork,
		Topics:    []string{"planning"},
		MoodScore: 7, StressLevel: 5, EnergyLevel: 7,
	}
	event.Recompute()
	require.NoError(t, store.Events.Upsert(ctx, event))

	ongoing, err := store.Events.ListOngoing(ctx, username)
	require.NoError(t, err)
	require.Len(t, ongoing, 1)
	assert.Equal(t, "Morning standup", ongoing[0].Title)
	assert.Equal(t, []string{"planning"}, ongoing[0].Topics)

	// Upsert replaces in place.
	event.Status = models.EventStatusCompleted
	event.MoodLabels = []string{"focused"}
	require.NoError(t, store.Events.Upsert(ctx, event))

	day, err := store.Events.ListByRange(ctx, username, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, models.EventStatusCompleted, day[0].Status)
	assert.Equal(t, []string{"focused"}, day[0].MoodLabels)

	count, err := store.Events.CountByUser(ctx, username)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	lastUpdated, err := store.Events.LastUpdated(ctx, username)
	require.NoError(t, err)
	assert.False(t, lastUpdated.IsZero())
}

func TestScoresAndReflections(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	username := createUser(t, store)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.Scores.Insert(ctx, &models.MentalStateScore{
		ID: uuid.New().String(), Username: username,
		Timestamp: now.Add(-time.Hour), Energy: 6.5, Stress: 4.2,
		Confidence: 0.3, DataSource: models.SourceBaseline,
	}))

	history, err := store.Scores.Since(ctx, username, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 6.5, history[0].Energy, 1e-9)

	ref := &models.DailyReflection{
		ID: uuid.New().String(), Username: username, Date: "2025-06-01",
		Content: models.ReflectionContent{
			Gratitude:      []string{"a calm morning"},
			LookingForward: "tomorrow's hike",
		},
	}
	require.NoError(t, store.Reflections.Upsert(ctx, ref))

	exists, err := store.Reflections.Exists(ctx, username, "2025-06-01")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.Reflections.GetByDate(ctx, username, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"a calm morning"}, got.Content.Gratitude)

	_, err = store.Reflections.GetByDate(ctx, username, "2025-06-02")
	assert.ErrorIs(t, err, ErrNotFound)
}
