package models

import "time"

// ReflectionContent is the structured body of a daily reflection.
type ReflectionContent struct {
	Gratitude      []string `json:"gratitude"`
	Challenges     []string `json:"challenges"`
	Learning       []string `json:"learning"`
	Connections    []string `json:"connections"`
	LookingForward string   `json:"looking_forward"`
}

// DailyReflection is one reflection per (user, local date). Written once a
// day's events stabilize; read-only afterward.
type DailyReflection struct {
	ID        string            `json:"id"`
	Username  string            `json:"-"`
	Date      string            `json:"date"` // YYYY-MM-DD
	Content   ReflectionContent `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
}
