package models

import "time"

// EventStatus is the lifecycle phase of a life event. Dropped events are
// soft-hidden and excluded from default reads.
type EventStatus string

const (
	EventStatusOngoing   EventStatus = "ongoing"
	EventStatusCompleted EventStatus = "completed"
	EventStatusDropped   EventStatus = "dropped"
)

// ActivityType is the closed activity classification set.
type ActivityType string

const (
	ActivityWork     ActivityType = "work"
	ActivityExercise ActivityType = "exercise"
	ActivitySocial   ActivityType = "social"
	ActivityLearning ActivityType = "learning"
	ActivitySelfCare ActivityType = "self-care"
	ActivityChores   ActivityType = "chores"
	ActivityCommute  ActivityType = "commute"
	ActivityMeal     ActivityType = "meal"
	ActivityLeisure  ActivityType = "leisure"
	ActivityUnknown  ActivityType = "unknown"
)

// ValidActivityTypes returns the closed set in declaration order.
func ValidActivityTypes() []ActivityType {
	return []ActivityType{
		ActivityWork, ActivityExercise, ActivitySocial, ActivityLearning,
		ActivitySelfCare, ActivityChores, ActivityCommute, ActivityMeal,
		ActivityLeisure, ActivityUnknown,
	}
}

// ValidActivityType reports whether s is a member of the closed set.
func ValidActivityType(s string) bool {
	switch ActivityType(s) {
	case ActivityWork, ActivityExercise, ActivitySocial, ActivityLearning,
		ActivitySelfCare, ActivityChores, ActivityCommute, ActivityMeal,
		ActivityLeisure, ActivityUnknown:
		return true
	}
	return false
}

// Defaults applied to an event at creation; metrics are filled in at
// completion by the LLM.
const (
	DefaultMoodScore   = 7
	DefaultStressLevel = 5
	DefaultEnergyLevel = 7
	DefaultMoodLabel   = "neutral"
)

// Event is the unit of life narrative. An ongoing event is appended to
// across analyzer cycles; a completed event is finalized with the full
// categorical field set.
type Event struct {
	ID       string      `json:"event_id"`
	Username string      `json:"-"`
	Status   EventStatus `json:"event_status"`

	StartTimestamp  time.Time `json:"start_timestamp"`
	EndTimestamp    time.Time `json:"end_timestamp"`
	LastProcessedAt time.Time `json:"last_processed_at"`
	TimeRange       string    `json:"time_range"`
	DurationMinutes int       `json:"duration_minutes"`

	Title   string `json:"event_title"`
	Summary string `json:"event_summary"`
	Story   string `json:"event_story"`

	Location           string       `json:"location"`
	ActivityType       ActivityType `json:"activity_type"`
	InteractionDynamic string       `json:"interaction_dynamic"`
	InferredImpact     string       `json:"inferred_impact"`
	Topics             []string     `json:"topics"`
	MoodLabels         []string     `json:"mood_labels"`
	PeopleInvolved     []string     `json:"people_involved"`
	OneLiner           string       `json:"one_liner"`
	ActionItem         string       `json:"action_item"`

	MoodScore   int `json:"mood_score"`
	StressLevel int `json:"stress_level"`
	EnergyLevel int `json:"energy_level"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recompute refreshes the derived timeline fields from the start and end
// timestamps. Call after any timestamp change.
func (e *Event) Recompute() {
	e.DurationMinutes = int(e.EndTimestamp.Sub(e.StartTimestamp).Minutes())
	e.TimeRange = e.StartTimestamp.UTC().Format("15:04") + " - " + e.EndTimestamp.UTC().Format("15:04")
}
