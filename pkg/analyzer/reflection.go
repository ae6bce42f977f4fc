package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// RangeEventStore reads a day's events for the reflection digest.
type RangeEventStore interface {
	ListByRange(ctx context.Context, username string, from, to time.Time) ([]*models.Event, error)
}

// ReflectionStore persists daily reflections.
type ReflectionStore interface {
	Upsert(ctx context.Context, ref *models.DailyReflection) error
	Exists(ctx context.Context, username, date string) (bool, error)
}

// ReflectionWriter is the LLM behind reflections. Satisfied by llm.Client.
type ReflectionWriter interface {
	DailyReflection(ctx context.Context, date, eventDigest string) (*models.ReflectionContent, error)
}

// NameCache caches display names in the kv tier. Satisfied by kvstore.Store.
type NameCache interface {
	GetDisplayName(ctx context.Context, username string) (string, error)
	SetDisplayName(ctx context.Context, username, displayName string) error
}

// UserDirectory reads user records. Satisfied by storage.UserRepo.
type UserDirectory interface {
	ByUsername(ctx context.Context, username string) (*models.User, error)
}

// Reflector writes one reflection per (user, day) from the day's completed
// events. Invoked on demand by the API and after analyzer cycles.
type Reflector struct {
	events      RangeEventStore
	reflections ReflectionStore
	model       ReflectionWriter
	names       NameCache
	users       UserDirectory
	logger      *slog.Logger
}

// NewReflector creates a reflector. names and users may be nil, which
// disables addressing the user by display name in the prompt.
func NewReflector(events RangeEventStore, reflections ReflectionStore, model ReflectionWriter,
	names NameCache, users UserDirectory, logger *slog.Logger) *Reflector {
	if events == nil || reflections == nil {
		panic("analyzer: reflection stores must not be nil")
	}
	if model == nil {
		panic("analyzer: reflection model must not be nil")
	}
	return &Reflector{
		events:      events,
		reflections: reflections,
		model:       model,
		names:       names,
		users:       users,
		logger:      logger.With("component", "reflector"),
	}
}

// GenerateDaily writes the reflection for one UTC date (YYYY-MM-DD) unless
// it already exists. Returns true when a reflection was written. Days with
// no events produce nothing.
func (r *Reflector) GenerateDaily(ctx context.Context, username, date string) (bool, error) {
	exists, err := r.reflections.Exists(ctx, username, date)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false, fmt.Errorf("bad reflection date %q: %w", date, err)
	}
	events, err := r.events.ListByRange(ctx, username, day, day.Add(24*time.Hour))
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}

	digest := eventDigest(events)
	if name := r.displayName(ctx, username); name != "" {
		digest = "For: " + name + "\n" + digest
	}
	content, err := r.model.DailyReflection(ctx, date, digest)
	if err != nil {
		r.logger.Warn("reflection model failed, using event-derived fallback",
			"username", username, "date", date, "error", err)
		content = fallbackReflection(events)
	}

	ref := &models.DailyReflection{
		ID:       uuid.New().String(),
		Username: username,
		Date:     date,
		Content:  *content,
	}
	if err := r.reflections.Upsert(ctx, ref); err != nil {
		return false, err
	}
	r.logger.Info("daily reflection written", "username", username, "date", date)
	return true, nil
}

// displayName resolves the user's display name, cache first, then the user
// record. Best effort; an empty result just drops the salutation.
func (r *Reflector) displayName(ctx context.Context, username string) string {
	if r.names != nil {
		if name, err := r.names.GetDisplayName(ctx, username); err == nil && name != "" {
			return name
		}
	}
	if r.users == nil {
		return ""
	}
	u, err := r.users.ByUsername(ctx, username)
	if err != nil || u.DisplayName == "" {
		return ""
	}
	if r.names != nil {
		if err := r.names.SetDisplayName(ctx, username, u.DisplayName); err != nil {
			r.logger.Warn("cache display name", "username", username, "error", err)
		}
	}
	return u.DisplayName
}

// eventDigest renders the day's events as input for the reflection prompt.
func eventDigest(events []*models.Event) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "- [%s] %s (%s): %s\n",
			e.TimeRange, e.Title, e.ActivityType, e.Summary)
	}
	return b.String()
}

// fallbackReflection derives a minimal reflection from event metrics when
// the model is unavailable.
func fallbackReflection(events []*models.Event) *models.ReflectionContent {
	content := &models.ReflectionContent{
		Gratitude:   []string{},
		Challenges:  []string{},
		Learning:    []string{},
		Connections: []string{},
	}
	for _, e := range events {
		switch {
		case e.MoodScore >= 8:
			content.Gratitude = append(content.Gratitude, e.Title)
		case e.StressLevel >= 7:
			content.Challenges = append(content.Challenges, e.Title)
		}
		if e.ActivityType == models.ActivityLearning {
			content.Learning = append(content.Learning, e.Title)
		}
		if len(e.PeopleInvolved) > 0 {
			content.Connections = append(content.Connections,
				e.Title+" with "+strings.Join(e.PeopleInvolved, ", "))
		}
	}
	content.LookingForward = "Another day of moments worth recording."
	return content
}
