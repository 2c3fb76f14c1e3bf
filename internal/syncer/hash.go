package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"streamcast/internal/models"
)

// contentFields is the canonical projection of the sync-relevant
// occurrence fields. Field order is fixed by the struct, times are
// normalized to UTC, so equal content always hashes equally.
type contentFields struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	ContentType  string   `json:"content_type"`
	Hashtags     string   `json:"hashtags"`
	Mentions     string   `json:"mentions"`
	MediaFiles   []string `json:"media_files"`
	Platforms    []string `json:"platforms"`
	ScheduledFor string   `json:"scheduled_for"`
	EndsAt       string   `json:"ends_at"`
}

// ContentHash returns the sha256 hex digest of the occurrence's
// sync-relevant content. Two occurrences with the same hash need no
// remote update.
func ContentHash(occ *models.Occurrence) string {
	fields := contentFields{
		Title:        occ.Title,
		Body:         occ.Body,
		ContentType:  occ.ContentType,
		Hashtags:     occ.Hashtags,
		Mentions:     occ.Mentions,
		MediaFiles:   occ.MediaFiles,
		Platforms:    occ.Platforms,
		ScheduledFor: occ.ScheduledFor.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if occ.EndsAt != nil {
		fields.EndsAt = occ.EndsAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		// Marshal of a plain struct of strings and slices cannot fail.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
