package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifetrace-ai/lifetrace/pkg/analyzer"
	"github.com/lifetrace-ai/lifetrace/pkg/kvstore"
	"github.com/lifetrace-ai/lifetrace/pkg/mentalstate"
	"github.com/lifetrace-ai/lifetrace/pkg/models"
	"github.com/lifetrace-ai/lifetrace/pkg/storage"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

type fakeEventReader struct {
	events      []*models.Event
	total       int
	lastUpdated time.Time
	gotFrom     time.Time
	gotTo       time.Time
}

func (f *fakeEventReader) ListByRange(_ context.Context, _ string, from, to time.Time) ([]*models.Event, error) {
	f.gotFrom, f.gotTo = from, to
	return f.events, nil
}

func (f *fakeEventReader) CountByUser(_ context.Context, _ string) (int, error) {
	return f.total, nil
}

func (f *fakeEventReader) LastUpdated(_ context.Context, _ string) (time.Time, error) {
	return f.lastUpdated, nil
}

type fakePayloadAnalyzer struct {
	payloads []string
	counts   analyzer.Counts
	errOn    string
}

func (f *fakePayloadAnalyzer) AnalyzePayload(_ context.Context, _, payload string) (analyzer.Counts, error) {
	if f.errOn != "" && payload == f.errOn {
		return analyzer.Counts{}, errors.New("bad payload")
	}
	f.payloads = append(f.payloads, payload)
	return f.counts, nil
}

type fakeStaging struct {
	payloads []string
	err      error
	staged   []string
}

func (f *fakeStaging) ConsumeUploadTranscripts(_ context.Context, _ string) ([]string, error) {
	drained := f.payloads
	f.payloads = nil
	return drained, f.err
}

func (f *fakeStaging) StageUploadTranscript(_ context.Context, _ string, _ time.Time, _ int, payload string) error {
	f.staged = append(f.staged, payload)
	return nil
}

type fakeContextStore struct {
	contexts map[string]*models.UserContext
}

func (f *fakeContextStore) GetUserContext(_ context.Context, username string) (*models.UserContext, error) {
	if uc, ok := f.contexts[username]; ok {
		return uc, nil
	}
	return nil, kvstore.ErrNotFound
}

func (f *fakeContextStore) SetUserContext(_ context.Context, uc *models.UserContext) error {
	if f.contexts == nil {
		f.contexts = map[string]*models.UserContext{}
	}
	f.contexts[uc.Username] = uc
	return nil
}

func TestAnalyzeIncremental(t *testing.T) {
	events := &fakeEventReader{total: 5}
	payloads := &fakePayloadAnalyzer{counts: analyzer.Counts{Updated: 1, New: 1, Total: 2}}
	staging := &fakeStaging{payloads: []string{"[08:00] staged words"}}
	svc := NewEventService(events, payloads, staging, nil, discardLogger())

	result, err := svc.AnalyzeIncremental(context.Background(), "alice", "[09:00] pushed words")
	require.NoError(t, err)
	assert.Equal(t, 2, result.UpdatedEventsCount)
	assert.Equal(t, 2, result.NewEventsCount)
	assert.Equal(t, 5, result.TotalEventsCount)
	assert.Equal(t, []string{"[08:00] staged words", "[09:00] pushed words"}, payloads.payloads)
}

func TestAnalyzeIncrementalEmpty(t *testing.T) {
	svc := NewEventService(&fakeEventReader{}, &fakePayloadAnalyzer{}, nil, nil, discardLogger())

	_, err := svc.AnalyzeIncremental(context.Background(), "alice", "")
	assert.True(t, IsValidation(err))
}

func TestAnalyzeIncrementalBadMarker(t *testing.T) {
	svc := NewEventService(&fakeEventReader{}, &fakePayloadAnalyzer{}, nil, nil, discardLogger())

	_, err := svc.AnalyzeIncremental(context.Background(), "alice", "[99:00] impossible clock")
	assert.True(t, IsValidation(err))
}

func TestAnalyzeIncrementalSkipsBadStaged(t *testing.T) {
	events := &fakeEventReader{total: 1}
	payloads := &fakePayloadAnalyzer{counts: analyzer.Counts{New: 1}, errOn: "broken"}
	staging := &fakeStaging{payloads: []string{"broken"}}
	svc := NewEventService(events, payloads, staging, nil, discardLogger())

	result, err := svc.AnalyzeIncremental(context.Background(), "alice", "[09:00] fine")
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewEventsCount)
	assert.Equal(t, []string{"[09:00] fine"}, payloads.payloads)
}

func TestAnalyzeIncrementalRestagesOnFailure(t *testing.T) {
	events := &fakeEventReader{total: 1}
	payloads := &fakePayloadAnalyzer{errOn: "[09:00] doomed"}
	staging := &fakeStaging{}
	svc := NewEventService(events, payloads, staging, nil, discardLogger())

	_, err := svc.AnalyzeIncremental(context.Background(), "alice", "[09:00] doomed")
	require.Error(t, err)
	assert.False(t, IsValidation(err))
	// The payload parsed, so the failure is internal; it goes back to
	// staging for the next call.
	assert.Equal(t, []string{"[09:00] doomed"}, staging.staged)
}

func TestEventsByDateTimezoneParam(t *testing.T) {
	events := &fakeEventReader{total: 3, lastUpdated: time.Now()}
	kv := &fakeContextStore{}
	svc := NewEventService(events, &fakePayloadAnalyzer{}, nil, kv, discardLogger())

	view, err := svc.EventsByDate(context.Background(), "alice", "2025-06-01", "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, 3, view.TotalCount)
	assert.NotNil(t, view.Events)

	// Midnight local, 24 hours wide.
	loc, _ := time.LoadLocation("America/New_York")
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, loc), events.gotFrom.In(loc))
	assert.Equal(t, 24*time.Hour, events.gotTo.Sub(events.gotFrom))

	// The timezone sticks in the user context for later calls.
	require.NotNil(t, kv.contexts["alice"])
	assert.Equal(t, "America/New_York", kv.contexts["alice"].Timezone)
}

func TestEventsByDateStoredContext(t *testing.T) {
	events := &fakeEventReader{}
	kv := &fakeContextStore{contexts: map[string]*models.UserContext{
		"alice": {Username: "alice", Timezone: "Asia/Tokyo"},
	}}
	svc := NewEventService(events, &fakePayloadAnalyzer{}, nil, kv, discardLogger())

	_, err := svc.EventsByDate(context.Background(), "alice", "2025-06-01", "")
	require.NoError(t, err)

	loc, _ := time.LoadLocation("Asia/Tokyo")
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, loc), events.gotFrom.In(loc))
}

func TestEventsByDateBadInput(t *testing.T) {
	svc := NewEventService(&fakeEventReader{}, &fakePayloadAnalyzer{}, nil, nil, discardLogger())

	_, err := svc.EventsByDate(context.Background(), "alice", "June 1st", "")
	assert.True(t, IsValidation(err))

	_, err = svc.EventsByDate(context.Background(), "alice", "2025-06-01", "Mars/Olympus")
	assert.True(t, IsValidation(err))
}

type fakeTranscriptionReader struct {
	items   []*models.TranscriptionResult
	total   int
	gotFrom *time.Time
	gotTo   *time.Time
	gotPage int
	gotSize int
}

func (f *fakeTranscriptionReader) ListPage(_ context.Context, _ string, from, to *time.Time, page, pageSize int) ([]*models.TranscriptionResult, int, error) {
	f.gotFrom, f.gotTo, f.gotPage, f.gotSize = from, to, page, pageSize
	return f.items, f.total, nil
}

func TestTranscriptionListDefaults(t *testing.T) {
	reader := &fakeTranscriptionReader{total: 45}
	svc := NewTranscriptionService(reader)

	page, err := svc.List(context.Background(), "alice", TranscriptionQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, defaultPageSize, page.PageSize)
	assert.Equal(t, 45, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	assert.NotNil(t, page.Items)
	assert.Nil(t, reader.gotFrom)
}

func TestTranscriptionListDateRange(t *testing.T) {
	reader := &fakeTranscriptionReader{}
	svc := NewTranscriptionService(reader)

	_, err := svc.List(context.Background(), "alice", TranscriptionQuery{
		StartDate: "2025-06-01", EndDate: "2025-06-02",
	})
	require.NoError(t, err)
	require.NotNil(t, reader.gotFrom)
	require.NotNil(t, reader.gotTo)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *reader.gotFrom)
	// End date is inclusive: the bound is the following midnight.
	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), *reader.gotTo)
}

func TestTranscriptionListValidation(t *testing.T) {
	svc := NewTranscriptionService(&fakeTranscriptionReader{})

	_, err := svc.List(context.Background(), "alice", TranscriptionQuery{PageSize: 500})
	assert.True(t, IsValidation(err))

	_, err = svc.List(context.Background(), "alice", TranscriptionQuery{
		StartDate: "2025-06-05", EndDate: "2025-06-01",
	})
	assert.True(t, IsValidation(err))

	_, err = svc.List(context.Background(), "alice", TranscriptionQuery{StartDate: "soon"})
	assert.True(t, IsValidation(err))
}

type fakeComputer struct {
	gotAt  time.Time
	gotLoc *time.Location
}

func (f *fakeComputer) Compute(_ context.Context, _ string, now time.Time, loc *time.Location) (*mentalstate.Snapshot, error) {
	f.gotAt, f.gotLoc = now, loc
	return &mentalstate.Snapshot{}, nil
}

func TestMentalStatePastDate(t *testing.T) {
	calc := &fakeComputer{}
	svc := NewInsightsService(calc, nil)
	svc.now = func() time.Time { return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC) }

	_, err := svc.MentalState(context.Background(), "alice", "2025-06-01", "")
	require.NoError(t, err)
	// Anchored to the end of the requested day.
	assert.Equal(t, time.Date(2025, 6, 1, 23, 59, 59, 0, time.UTC), calc.gotAt)
	assert.Equal(t, time.UTC, calc.gotLoc)
}

func TestMentalStateToday(t *testing.T) {
	calc := &fakeComputer{}
	svc := NewInsightsService(calc, nil)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, err := svc.MentalState(context.Background(), "alice", "2025-06-10", "")
	require.NoError(t, err)
	assert.Equal(t, now, calc.gotAt)

	_, err = svc.MentalState(context.Background(), "alice", "", "")
	require.NoError(t, err)
	assert.Equal(t, now, calc.gotAt)
}

func TestMentalStateBadInput(t *testing.T) {
	svc := NewInsightsService(&fakeComputer{}, nil)

	_, err := svc.MentalState(context.Background(), "alice", "noon", "")
	assert.True(t, IsValidation(err))

	_, err = svc.MentalState(context.Background(), "alice", "", "Nowhere/Special")
	assert.True(t, IsValidation(err))
}

type fakeBatchAdmin struct {
	batch    *models.Batch
	resetOK  bool
	resetIDs []string
}

func (f *fakeBatchAdmin) Get(_ context.Context, id string) (*models.Batch, error) {
	if f.batch == nil || f.batch.ID != id {
		return nil, storage.ErrNotFound
	}
	return f.batch, nil
}

func (f *fakeBatchAdmin) ResetFailed(_ context.Context, id string) (bool, error) {
	f.resetIDs = append(f.resetIDs, id)
	return f.resetOK, nil
}

type fakeFileResetter struct {
	resetIDs []string
}

func (f *fakeFileResetter) ResetBatchFiles(_ context.Context, batchID string) error {
	f.resetIDs = append(f.resetIDs, batchID)
	return nil
}

func TestBatchRetry(t *testing.T) {
	admin := &fakeBatchAdmin{
		batch:   &models.Batch{ID: "b1", Username: "alice", Status: models.BatchStatusFailed},
		resetOK: true,
	}
	files := &fakeFileResetter{}
	svc := NewBatchService(admin, files, discardLogger())

	batch, err := svc.Retry(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusAccumulating, batch.Status)
	assert.Nil(t, batch.ProcessedAt)
	assert.Equal(t, []string{"b1"}, admin.resetIDs)
	assert.Equal(t, []string{"b1"}, files.resetIDs)
}

func TestBatchRetryRejections(t *testing.T) {
	svc := NewBatchService(&fakeBatchAdmin{}, nil, discardLogger())
	_, err := svc.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	svc = NewBatchService(&fakeBatchAdmin{
		batch: &models.Batch{ID: "b1", Status: models.BatchStatusCompleted},
	}, nil, discardLogger())
	_, err = svc.Retry(context.Background(), "b1")
	assert.True(t, IsValidation(err))

	// Race: the batch flipped between Get and ResetFailed.
	svc = NewBatchService(&fakeBatchAdmin{
		batch: &models.Batch{ID: "b1", Status: models.BatchStatusFailed}, resetOK: false,
	}, nil, discardLogger())
	_, err = svc.Retry(context.Background(), "b1")
	assert.True(t, IsValidation(err))
}

type fakeReflectionReader struct {
	stored map[string]*models.DailyReflection
}

func (f *fakeReflectionReader) GetByDate(_ context.Context, username, date string) (*models.DailyReflection, error) {
	if ref, ok := f.stored[username+"|"+date]; ok {
		return ref, nil
	}
	return nil, storage.ErrNotFound
}

type fakeReflectionGenerator struct {
	written bool
	reader  *fakeReflectionReader
	calls   int
}

func (f *fakeReflectionGenerator) GenerateDaily(_ context.Context, username, date string) (bool, error) {
	f.calls++
	if !f.written {
		return false, nil
	}
	if f.reader.stored == nil {
		f.reader.stored = map[string]*models.DailyReflection{}
	}
	f.reader.stored[username+"|"+date] = &models.DailyReflection{
		Username: username, Date: date,
	}
	return true, nil
}

func TestReflectionGetStored(t *testing.T) {
	reader := &fakeReflectionReader{stored: map[string]*models.DailyReflection{
		"alice|2025-06-01": {Username: "alice", Date: "2025-06-01"},
	}}
	generator := &fakeReflectionGenerator{}
	svc := NewReflectionService(reader, generator)

	ref, err := svc.GetByDate(context.Background(), "alice", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", ref.Date)
	assert.Zero(t, generator.calls)
}

func TestReflectionGeneratesOnMiss(t *testing.T) {
	reader := &fakeReflectionReader{}
	generator := &fakeReflectionGenerator{written: true, reader: reader}
	svc := NewReflectionService(reader, generator)

	ref, err := svc.GetByDate(context.Background(), "alice", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, "alice", ref.Username)
	assert.Equal(t, 1, generator.calls)
}

func TestReflectionNoEvents(t *testing.T) {
	reader := &fakeReflectionReader{}
	svc := NewReflectionService(reader, &fakeReflectionGenerator{reader: reader})

	_, err := svc.GetByDate(context.Background(), "alice", "2025-06-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReflectionBadDate(t *testing.T) {
	reader := &fakeReflectionReader{}
	svc := NewReflectionService(reader, &fakeReflectionGenerator{reader: reader})

	_, err := svc.GetByDate(context.Background(), "alice", "yesterday")
	assert.True(t, IsValidation(err))
}
