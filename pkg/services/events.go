package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lifetrace-ai/lifetrace/pkg/analyzer"
	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// EventReader is the slice of the event repository the services read from.
type EventReader interface {
	ListByRange(ctx context.Context, username string, from, to time.Time) ([]*models.Event, error)
	CountByUser(ctx context.Context, username string) (int, error)
	LastUpdated(ctx context.Context, username string) (time.Time, error)
}

// PayloadAnalyzer runs the event fold over one pushed transcript payload.
// Satisfied by analyzer.Worker.
type PayloadAnalyzer interface {
	AnalyzePayload(ctx context.Context, username, payload string) (analyzer.Counts, error)
}

// TranscriptStaging holds transcript payloads that have been received but
// not yet analyzed. Satisfied by kvstore.Store.
type TranscriptStaging interface {
	ConsumeUploadTranscripts(ctx context.Context, username string) ([]string, error)
	StageUploadTranscript(ctx context.Context, username string, ts time.Time, n int, payload string) error
}

// AnalyzeResult is the incremental-analysis response body.
type AnalyzeResult struct {
	UpdatedEventsCount int    `json:"updated_events_count"`
	NewEventsCount     int    `json:"new_events_count"`
	TotalEventsCount   int    `json:"total_events_count"`
	Message            string `json:"message"`
}

// EventsView is the events-read response body.
type EventsView struct {
	Events      []*models.Event `json:"events"`
	TotalCount  int             `json:"total_count"`
	LastUpdated time.Time       `json:"last_updated"`
}

// EventService serves the event read and immediate-analysis paths.
type EventService struct {
	events   EventReader
	analyzer PayloadAnalyzer
	staging  TranscriptStaging
	kv       ContextStore
	logger   *slog.Logger
}

// NewEventService creates the service. staging and kv may be nil, which
// disables transcript staging and timezone memory respectively.
func NewEventService(events EventReader, payloads PayloadAnalyzer, staging TranscriptStaging,
	kv ContextStore, logger *slog.Logger) *EventService {
	if events == nil || payloads == nil {
		panic("services.NewEventService: events and analyzer must not be nil")
	}
	return &EventService{
		events:   events,
		analyzer: payloads,
		staging:  staging,
		kv:       kv,
		logger:   logger.With("component", "event_service"),
	}
}

// AnalyzeIncremental folds any staged upload transcripts plus the pushed
// payload into the user's event timeline, immediately rather than waiting
// for the analyzer cycle.
func (s *EventService) AnalyzeIncremental(ctx context.Context, username, transcript string) (*AnalyzeResult, error) {
	staged := s.drainStaged(ctx, username)
	if transcript == "" && len(staged) == 0 {
		return nil, validationf("new_transcript is empty and nothing is staged")
	}
	if transcript != "" {
		if _, err := analyzer.ParsePayload(transcript, time.Now()); err != nil {
			return nil, validationf("unparseable transcript: %v", err)
		}
	}

	var result AnalyzeResult
	// Staged material is best effort: a payload that no longer parses is
	// logged and skipped, the way the background cycle treats bad input.
	for _, payload := range staged {
		counts, err := s.analyzer.AnalyzePayload(ctx, username, payload)
		if err != nil {
			s.logger.Warn("staged transcript skipped", "username", username, "error", err)
			continue
		}
		result.UpdatedEventsCount += counts.Updated
		result.NewEventsCount += counts.New
	}
	if transcript != "" {
		counts, err := s.analyzer.AnalyzePayload(ctx, username, transcript)
		if err != nil {
			// The payload already parsed, so this is an internal failure.
			// Stage it so a retry within the TTL does not lose the material.
			if s.staging != nil {
				if stageErr := s.staging.StageUploadTranscript(ctx, username, time.Now(), 0, transcript); stageErr != nil {
					s.logger.Warn("restage failed transcript", "username", username, "error", stageErr)
				}
			}
			return nil, fmt.Errorf("analyze payload: %w", err)
		}
		result.UpdatedEventsCount += counts.Updated
		result.NewEventsCount += counts.New
	}

	total, err := s.events.CountByUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	result.TotalEventsCount = total
	analyzed := len(staged)
	if transcript != "" {
		analyzed++
	}
	result.Message = fmt.Sprintf("analyzed %d transcript(s)", analyzed)
	return &result, nil
}

// drainStaged returns staged payloads, best effort. A staging failure only
// costs the staged material; the pushed transcript still analyzes.
func (s *EventService) drainStaged(ctx context.Context, username string) []string {
	if s.staging == nil {
		return nil
	}
	payloads, err := s.staging.ConsumeUploadTranscripts(ctx, username)
	if err != nil {
		s.logger.Warn("drain staged transcripts failed", "username", username, "error", err)
		return nil
	}
	return payloads
}

// GetEvents returns the user's events for the day containing at, in the
// user's stored timezone, plus totals for the envelope.
func (s *EventService) GetEvents(ctx context.Context, username string, at time.Time) (*EventsView, error) {
	loc, err := resolveLocation(ctx, s.kv, username, "")
	if err != nil {
		return nil, err
	}
	return s.eventsForDay(ctx, username, at.In(loc))
}

// EventsByDate returns the user's events for a local calendar date. Timezone
// resolution order: query parameter, stored user context, UTC.
func (s *EventService) EventsByDate(ctx context.Context, username, date, tz string) (*EventsView, error) {
	loc, err := resolveLocation(ctx, s.kv, username, tz)
	if err != nil {
		return nil, err
	}
	day, err := parseDate(date, loc)
	if err != nil {
		return nil, err
	}
	return s.eventsForDay(ctx, username, day)
}

func (s *EventService) eventsForDay(ctx context.Context, username string, at time.Time) (*EventsView, error) {
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	events, err := s.events.ListByRange(ctx, username, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	total, err := s.events.CountByUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	lastUpdated, err := s.events.LastUpdated(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("last event update: %w", err)
	}

	if events == nil {
		events = []*models.Event{}
	}
	return &EventsView{Events: events, TotalCount: total, LastUpdated: lastUpdated}, nil
}
