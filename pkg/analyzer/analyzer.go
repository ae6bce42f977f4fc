// Package analyzer turns pending transcripts into life events. It runs on an
// interval, claims transcripts per (user, day), splits them into raw groups
// at silence gaps, and continues or completes the user's ongoing event
// against each group.
package analyzer

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifetrace-ai/lifetrace/pkg/llm"
	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// TranscriptionStore is the slice of the transcription repository the
// analyzer uses.
type TranscriptionStore interface {
	ListPending(ctx context.Context, limit int) ([]*models.TranscriptionResult, error)
	MarkProcessing(ctx context.Context, ids []string) (int64, error)
	MarkCompleted(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, ids []string) error
	ResetStuckProcessing(ctx context.Context, olderThan time.Time) (int64, error)
}

// EventStore is the slice of the event repository the analyzer uses.
type EventStore interface {
	Upsert(ctx context.Context, e *models.Event) error
	ListOngoing(ctx context.Context, username string) ([]*models.Event, error)
}

// EventAnalyzer is the LLM behind event summarization. Satisfied by
// llm.Client.
type EventAnalyzer interface {
	AnalyzeOngoing(ctx context.Context, transcript, priorStory string) (*llm.OngoingEventOutput, error)
	AnalyzeCompleted(ctx context.Context, transcript, priorStory string) (*llm.CompletedEventOutput, error)
}

// Config tunes the analyzer.
type Config struct {
	// Interval is the cycle period.
	Interval time.Duration
	// MaxTranscriptsPerCycle bounds per-cycle work.
	MaxTranscriptsPerCycle int
	// EventGap splits raw groups and decides continue-vs-complete.
	EventGap time.Duration
	// StuckProcessingThreshold returns abandoned processing transcripts to
	// pending.
	StuckProcessingThreshold time.Duration
}

// Counts reports what one analysis pass did.
type Counts struct {
	Updated int `json:"updated"`
	New     int `json:"new"`
	Total   int `json:"total"`
}

// Worker is the incremental event analyzer.
type Worker struct {
	transcripts TranscriptionStore
	events      EventStore
	model       EventAnalyzer
	cfg         Config
	logger      *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker creates the analyzer.
func NewWorker(transcripts TranscriptionStore, events EventStore, model EventAnalyzer,
	cfg Config, logger *slog.Logger) *Worker {

	if transcripts == nil || events == nil {
		panic("analyzer: stores must not be nil")
	}
	if model == nil {
		panic("analyzer: model must not be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 120 * time.Second
	}
	if cfg.MaxTranscriptsPerCycle <= 0 {
		cfg.MaxTranscriptsPerCycle = 1000
	}
	if cfg.EventGap <= 0 {
		cfg.EventGap = 600 * time.Second
	}
	if cfg.StuckProcessingThreshold <= 0 {
		cfg.StuckProcessingThreshold = 30 * time.Minute
	}
	return &Worker{
		transcripts: transcripts,
		events:      events,
		model:       model,
		cfg:         cfg,
		logger:      logger.With("component", "analyzer"),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the cycle loop.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the loop and waits for the in-flight cycle.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("analyzer started", "interval", w.cfg.Interval)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("analyzer stopped")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Cycle(ctx); err != nil {
				w.logger.Error("analyzer cycle failed", "error", err)
			}
		}
	}
}

// Cycle runs one full analysis pass: recover stuck work, then claim and
// process pending transcripts grouped per user and UTC day.
func (w *Worker) Cycle(ctx context.Context) error {
	recovered, err := w.transcripts.ResetStuckProcessing(ctx,
		time.Now().Add(-w.cfg.StuckProcessingThreshold))
	if err != nil {
		return err
	}
	if recovered > 0 {
		w.logger.Warn("recovered stuck transcripts", "count", recovered)
	}

	pending, err := w.transcripts.ListPending(ctx, w.cfg.MaxTranscriptsPerCycle)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	for _, group := range groupByUserDay(pending) {
		w.processClaimedGroup(ctx, group)
	}
	return nil
}

// processClaimedGroup claims one (user, day) work set and folds it into
// events. Failures mark the whole set failed rather than leaving it stuck.
func (w *Worker) processClaimedGroup(ctx context.Context, group userDayGroup) {
	ids := make([]string, len(group.Transcripts))
	for i, t := range group.Transcripts {
		ids[i] = t.ID
	}
	claimed, err := w.transcripts.MarkProcessing(ctx, ids)
	if err != nil {
		w.logger.Error("claim transcripts failed", "username", group.Username, "error", err)
		return
	}
	if claimed == 0 {
		return // another analyzer got there first
	}

	raws := rawGroupsFromTranscripts(group.Transcripts, w.cfg.EventGap)
	counts, err := w.ProcessGroups(ctx, group.Username, raws)
	if err != nil {
		w.logger.Error("event analysis failed",
			"username", group.Username, "day", group.Day, "error", err)
		if merr := w.transcripts.MarkFailed(ctx, ids); merr != nil {
			w.logger.Error("mark transcripts failed", "error", merr)
		}
		return
	}
	if err := w.transcripts.MarkCompleted(ctx, ids); err != nil {
		w.logger.Error("mark transcripts completed", "error", err)
		return
	}
	w.logger.Info("transcripts analyzed",
		"username", group.Username, "day", group.Day,
		"transcripts", len(ids), "updated", counts.Updated, "new", counts.New)
}

// ProcessGroups folds raw transcript groups into the user's event timeline.
// The last group is left ongoing; every earlier group is bounded by a gap on
// the right and completes immediately.
func (w *Worker) ProcessGroups(ctx context.Context, username string, groups []RawGroup) (Counts, error) {
	var counts Counts
	if len(groups) == 0 {
		return counts, nil
	}

	ongoing, err := w.selectOngoing(ctx, username, groups[0].Start)
	if err != nil {
		return counts, err
	}

	for i, group := range groups {
		if ongoing != nil && group.Start.Sub(ongoing.EndTimestamp) <= w.cfg.EventGap {
			if err := w.continueEvent(ctx, ongoing, group); err != nil {
				return counts, err
			}
			counts.Updated++
		} else {
			if ongoing != nil {
				if err := w.completeEvent(ctx, ongoing, ""); err != nil {
					return counts, err
				}
			}
			ongoing, err = w.newEvent(ctx, username, group)
			if err != nil {
				return counts, err
			}
			counts.New++
		}

		if i < len(groups)-1 {
			if err := w.completeEvent(ctx, ongoing, group.Text); err != nil {
				return counts, err
			}
			ongoing = nil
		}
	}

	counts.Total = counts.Updated + counts.New
	return counts, nil
}

// selectOngoing picks the ongoing event the incoming material continues: the
// one, among all of the user's ongoing events, whose end falls within the
// event gap of nextStart, latest end winning. Only the events the incoming
// material cannot continue are completed as strays.
func (w *Worker) selectOngoing(ctx context.Context, username string, nextStart time.Time) (*models.Event, error) {
	ongoing, err := w.events.ListOngoing(ctx, username)
	if err != nil {
		return nil, err
	}
	var pick *models.Event
	for _, e := range ongoing {
		if nextStart.Sub(e.EndTimestamp) > w.cfg.EventGap {
			continue
		}
		if pick == nil || e.EndTimestamp.After(pick.EndTimestamp) {
			pick = e
		}
	}
	for _, e := range ongoing {
		if pick != nil && e.ID == pick.ID {
			continue
		}
		w.logger.Warn("completing stray ongoing event", "event_id", e.ID)
		if err := w.completeEvent(ctx, e, ""); err != nil {
			return nil, err
		}
	}
	return pick, nil
}

// continueEvent extends an ongoing event with a new raw group.
func (w *Worker) continueEvent(ctx context.Context, event *models.Event, group RawGroup) error {
	out, err := w.model.AnalyzeOngoing(ctx, group.Text, event.Story)
	if err != nil {
		w.logger.Warn("ongoing analysis failed, keeping prior narrative",
			"event_id", event.ID, "error", err)
		out = fallbackOngoing(group, event.Story)
	}

	event.Title = out.EventTitle
	event.Summary = out.EventSummary
	event.Story = out.EventStory
	if group.End.After(event.EndTimestamp) {
		event.EndTimestamp = group.End
	}
	event.LastProcessedAt = time.Now().UTC()
	event.Recompute()
	return w.events.Upsert(ctx, event)
}

// newEvent opens an ongoing event for a raw group with default metrics.
func (w *Worker) newEvent(ctx context.Context, username string, group RawGroup) (*models.Event, error) {
	event := &models.Event{
		ID:             uuid.New().String(),
		Username:       username,
		Status:         models.EventStatusOngoing,
		StartTimestamp: group.Start,
		EndTimestamp:   group.End,
		ActivityType:   models.ActivityUnknown,
		MoodLabels:     []string{models.DefaultMoodLabel},
		MoodScore:      models.DefaultMoodScore,
		StressLevel:    models.DefaultStressLevel,
		EnergyLevel:    models.DefaultEnergyLevel,
	}

	out, err := w.model.AnalyzeOngoing(ctx, group.Text, "")
	if err != nil {
		w.logger.Warn("ongoing analysis failed, using transcript fallback", "error", err)
		out = fallbackOngoing(group, "")
	}
	event.Title = out.EventTitle
	event.Summary = out.EventSummary
	event.Story = out.EventStory
	event.LastProcessedAt = time.Now().UTC()
	event.Recompute()

	if err := w.events.Upsert(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// completeEvent finalizes an event with the full categorical field set.
// transcript may be empty when the event is being closed without new
// material (a stale ongoing event).
func (w *Worker) completeEvent(ctx context.Context, event *models.Event, transcript string) error {
	out, err := w.model.AnalyzeCompleted(ctx, transcript, event.Story)
	if err != nil {
		w.logger.Warn("completion analysis failed, finalizing with defaults",
			"event_id", event.ID, "error", err)
		out = fallbackCompleted(event)
	}

	if out.EventTitle != "" {
		event.Title = out.EventTitle
	}
	if out.EventSummary != "" {
		event.Summary = out.EventSummary
	}
	if out.EventStory != "" {
		event.Story = out.EventStory
	}
	event.Location = out.Location
	event.PeopleInvolved = out.PeopleInvolved
	event.InteractionDynamic = out.InteractionDynamic
	event.InferredImpact = out.InferredImpact
	event.Topics = out.Topics
	event.OneLiner = out.OneLiner
	event.ActionItem = out.ActionItem

	if models.ValidActivityType(out.ActivityType) {
		event.ActivityType = models.ActivityType(out.ActivityType)
	} else {
		event.ActivityType = models.ActivityUnknown
	}
	if len(out.MoodLabels) > 0 {
		event.MoodLabels = out.MoodLabels
	} else if len(event.MoodLabels) == 0 {
		event.MoodLabels = []string{models.DefaultMoodLabel}
	}
	event.MoodScore = clampScore(out.MoodScore)
	event.StressLevel = clampScore(out.StressLevel)
	event.EnergyLevel = clampScore(out.EnergyLevel)

	event.Status = models.EventStatusCompleted
	event.LastProcessedAt = time.Now().UTC()
	event.Recompute()
	return w.events.Upsert(ctx, event)
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 10 {
		return 10
	}
	return n
}

// fallbackOngoing derives deterministic narrative fields from the raw
// transcript when the model is unavailable.
func fallbackOngoing(group RawGroup, priorStory string) *llm.OngoingEventOutput {
	title := firstWords(group.Text, 6)
	if title == "" {
		title = "Recorded activity"
	}
	story := group.Text
	if priorStory != "" {
		story = priorStory + "\n" + group.Text
	}
	summary := group.Text
	if len(summary) > 200 {
		summary = summary[:200]
	}
	return &llm.OngoingEventOutput{
		EventTitle:   title,
		EventSummary: summary,
		EventStory:   story,
	}
}

// fallbackCompleted keeps the event's accumulated narrative and its default
// metrics.
func fallbackCompleted(event *models.Event) *llm.CompletedEventOutput {
	return &llm.CompletedEventOutput{
		EventTitle:   event.Title,
		EventSummary: event.Summary,
		EventStory:   event.Story,
		ActivityType: string(models.ActivityUnknown),
		MoodLabels:   event.MoodLabels,
		MoodScore:    event.MoodScore,
		StressLevel:  event.StressLevel,
		EnergyLevel:  event.EnergyLevel,
	}
}

// firstWords returns up to n whitespace-separated words, skipping time
// markers.
func firstWords(text string, n int) string {
	var words []string
	for _, f := range strings.Fields(text) {
		if strings.HasPrefix(f, "[") {
			continue
		}
		words = append(words, f)
		if len(words) == n {
			break
		}
	}
	return strings.Join(words, " ")
}

// sortTranscripts orders by start time, stable across equal times.
func sortTranscripts(ts []*models.TranscriptionResult) {
	sort.SliceStable(ts, func(i, j int) bool {
		return ts[i].StartTime.Before(ts[j].StartTime)
	})
}
