package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// EventRepo persists life events. Only the analyzer writes here; the
// mental-state calculator and API read.
type EventRepo struct {
	pool *pgxpool.Pool
}

const eventColumns = `
event_id, username, event_status, start_timestamp, end_timestamp,
last_processed_at, time_range, duration_minutes, title, summary, story,
location, activity_type, interaction_dynamic, inferred_impact, topics,
mood_labels, people_involved, one_liner, action_item, mood_score,
stress_level, energy_level, created_at, updated_at`

// Upsert inserts or fully replaces an event keyed by event_id.
func (r *EventRepo) Upsert(ctx context.Context, e *models.Event) error {
	topics, err := marshalList(e.Topics)
	if err != nil {
		return err
	}
	moods, err := marshalList(e.MoodLabels)
	if err != nil {
		return err
	}
	people, err := marshalList(e.PeopleInvolved)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
INSERT INTO events (
	event_id, username, event_status, start_timestamp, end_timestamp,
	last_processed_at, time_range, duration_minutes, title, summary, story,
	location, activity_type, interaction_dynamic, inferred_impact, topics,
	mood_labels, people_involved, one_liner, action_item, mood_score,
	stress_level, energy_level)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
	$16, $17, $18, $19, $20, $21, $22, $23)
ON CONFLICT (event_id) DO UPDATE SET
	event_status = EXCLUDED.event_status,
	start_timestamp = EXCLUDED.start_timestamp,
	end_timestamp = EXCLUDED.end_timestamp,
	last_processed_at = EXCLUDED.last_processed_at,
	time_range = EXCLUDED.time_range,
	duration_minutes = EXCLUDED.duration_minutes,
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	story = EXCLUDED.story,
	location = EXCLUDED.location,
	activity_type = EXCLUDED.activity_type,
	interaction_dynamic = EXCLUDED.interaction_dynamic,
	inferred_impact = EXCLUDED.inferred_impact,
	topics = EXCLUDED.topics,
	mood_labels = EXCLUDED.mood_labels,
	people_involved = EXCLUDED.people_involved,
	one_liner = EXCLUDED.one_liner,
	action_item = EXCLUDED.action_item,
	mood_score = EXCLUDED.mood_score,
	stress_level = EXCLUDED.stress_level,
	energy_level = EXCLUDED.energy_level,
	updated_at = now()`,
		e.ID, e.Username, e.Status, e.StartTimestamp, e.EndTimestamp,
		e.LastProcessedAt, e.TimeRange, e.DurationMinutes, e.Title, e.Summary,
		e.Story, e.Location, e.ActivityType, e.InteractionDynamic,
		e.InferredImpact, topics, moods, people, e.OneLiner, e.ActionItem,
		e.MoodScore, e.StressLevel, e.EnergyLevel)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", e.ID, err)
	}
	return nil
}

// ListOngoing returns the user's ongoing events, oldest first.
func (r *EventRepo) ListOngoing(ctx context.Context, username string) ([]*models.Event, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+eventColumns+` FROM events
WHERE username = $1 AND event_status = $2
ORDER BY start_timestamp`,
		username, models.EventStatusOngoing)
	if err != nil {
		return nil, fmt.Errorf("list ongoing events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListByRange returns events overlapping [from, to), excluding dropped,
// ordered by start time.
func (r *EventRepo) ListByRange(ctx context.Context, username string, from, to time.Time) ([]*models.Event, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+eventColumns+` FROM events
WHERE username = $1 AND event_status <> $2
	AND end_timestamp >= $3 AND start_timestamp < $4
ORDER BY start_timestamp`,
		username, models.EventStatusDropped, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events by range: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// CountByUser counts the user's non-dropped events.
func (r *EventRepo) CountByUser(ctx context.Context, username string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
SELECT count(*) FROM events WHERE username = $1 AND event_status <> $2`,
		username, models.EventStatusDropped).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// LastUpdated returns the most recent updated_at across the user's events,
// or the zero time when there are none.
func (r *EventRepo) LastUpdated(ctx context.Context, username string) (time.Time, error) {
	var ts *time.Time
	err := r.pool.QueryRow(ctx, `
SELECT max(updated_at) FROM events WHERE username = $1 AND event_status <> $2`,
		username, models.EventStatusDropped).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("last event update: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

func marshalList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return b, nil
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e                     models.Event
		topics, moods, people []byte
	)
	err := row.Scan(
		&e.ID, &e.Username, &e.Status, &e.StartTimestamp, &e.EndTimestamp,
		&e.LastProcessedAt, &e.TimeRange, &e.DurationMinutes, &e.Title,
		&e.Summary, &e.Story, &e.Location, &e.ActivityType,
		&e.InteractionDynamic, &e.InferredImpact, &topics, &moods, &people,
		&e.OneLiner, &e.ActionItem, &e.MoodScore, &e.StressLevel,
		&e.EnergyLevel, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	for _, pair := range []struct {
		raw []byte
		dst *[]string
	}{{topics, &e.Topics}, {moods, &e.MoodLabels}, {people, &e.PeopleInvolved}} {
		if len(pair.raw) > 0 {
			if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
				return nil, fmt.Errorf("unmarshal event list field: %w", err)
			}
		}
	}
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
