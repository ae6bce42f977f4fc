package models

import "time"

// User owns all other entities. Created out of band; the core only reads it.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserContext is ephemeral per-user session info kept in the key/value tier
// with a rolling 7-day expiration.
type UserContext struct {
	Username  string    `json:"username"`
	Timezone  string    `json:"timezone"`
	Locale    string    `json:"locale"`
	UpdatedAt time.Time `json:"updated_at"`
}
