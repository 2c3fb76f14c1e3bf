package models

import "time"

// Recurrence frequencies.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// RecurrenceRule describes how a schedule request fans out into
// multiple occurrences.
type RecurrenceRule struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Frequency string `json:"frequency" yaml:"frequency"`
	Count     int    `json:"count" yaml:"count"`
}

// Valid reports whether the frequency is one of the supported values.
// A disabled rule is always valid.
func (r *RecurrenceRule) Valid() bool {
	if r == nil || !r.Enabled {
		return true
	}
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// ScheduleRequest is the declarative input to occurrence creation.
type ScheduleRequest struct {
	UserID       int64           `json:"user_id"`
	Title        string          `json:"title"`
	Body         string          `json:"body"`
	ContentType  string          `json:"content_type"`
	Hashtags     string          `json:"hashtags"`
	Mentions     string          `json:"mentions"`
	MediaFiles   []string        `json:"media_files"`
	Platforms    []string        `json:"platforms"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	EndsAt       *time.Time      `json:"ends_at,omitempty"`
	Recurrence   *RecurrenceRule `json:"recurrence,omitempty"`
	Draft        bool            `json:"draft"`
	Mirrored     bool            `json:"mirrored"`
}
