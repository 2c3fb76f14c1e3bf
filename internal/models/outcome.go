package models

import "time"

// PlatformOutcome records one platform's result for one occurrence.
// Unique per (occurrence, platform).
type PlatformOutcome struct {
	ID             int64      `json:"id"`
	OccurrenceID   int64      `json:"occurrence_id"`
	Platform       string     `json:"platform"`
	Status         string     `json:"status"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	KeyConsumed    bool       `json:"key_consumed"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	RemoteID       string     `json:"remote_id,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
