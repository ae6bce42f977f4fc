package models

import "time"

// DataSource says what a mental-state sample was derived from.
type DataSource string

const (
	SourceEvent        DataSource = "event"
	SourceInterpolated DataSource = "interpolated"
	SourceBaseline     DataSource = "baseline"
)

// MentalStateScore is one persisted sample of the derived energy/stress
// timeline. Persisted samples feed the personal-adjustment lookup.
type MentalStateScore struct {
	ID        string     `json:"id"`
	Username  string     `json:"-"`
	Timestamp time.Time  `json:"timestamp"`
	Energy    float64    `json:"energy_score"`
	Stress    float64    `json:"stress_score"`
	Confidence float64   `json:"confidence"`
	DataSource DataSource `json:"data_source"`
	EventID   *string    `json:"event_id,omitempty"`
}
