package apikey

import "time"

// Record is a persisted API key.
//
// Key is set once at creation and never changes; ExpiresAt likewise is never
// extended. Rotation mints a new Record rather than mutating an old one.
type Record struct {
	ID          string    `json:"id"`
	Key         string    `json:"key,omitempty"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidAt reports whether the record authenticates requests at time t.
func (r *Record) ValidAt(t time.Time) bool {
	return r.IsActive && r.ExpiresAt.After(t)
}

// Redacted returns a copy of the record with the secret token removed,
// suitable for listing responses.
func (r *Record) Redacted() *Record {
	cp := *r
	cp.Key = ""
	return &cp
}
