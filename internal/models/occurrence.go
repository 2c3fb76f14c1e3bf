package models

import (
	"time"
)

// Occurrence is one concrete scheduled publish, possibly one of several
// expanded from a recurrence rule (occurrences of the same request share
// a GroupID).
type Occurrence struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	GroupID      string     `json:"group_id"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	ContentType  string     `json:"content_type"` // text, image, video
	Hashtags     string     `json:"hashtags"`
	Mentions     string     `json:"mentions"`
	MediaFiles   []string   `json:"media_files"`
	Platforms    []string   `json:"platforms"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	Status       string     `json:"status"`
	StatusReason string     `json:"status_reason,omitempty"`
	RetryCount   int        `json:"retry_count"`
	LastRetryAt  *time.Time `json:"last_retry_at,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	MaxRetries   int        `json:"max_retries"`
	JobRef       string     `json:"job_ref,omitempty"`
	Mirrored     bool       `json:"mirrored"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Terminal reports whether the occurrence can no longer change status
// through the publish pipeline.
func (o *Occurrence) Terminal() bool {
	return o.Status == OccurrencePublished ||
		o.Status == OccurrenceCancelled ||
		(o.Status == OccurrenceFailed && o.RetryCount >= o.MaxRetries)
}

// RetryBudgetLeft reports whether another retry pass is allowed.
func (o *Occurrence) RetryBudgetLeft() bool {
	return o.RetryCount < o.MaxRetries
}

// Duration returns the start-to-end offset, zero when no end is set.
func (o *Occurrence) Duration() time.Duration {
	if o.EndsAt == nil {
		return 0
	}
	return o.EndsAt.Sub(o.ScheduledFor)
}
