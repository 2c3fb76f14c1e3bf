package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"streamcast/internal/models"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "streamcast_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testOccurrence(scheduledFor time.Time) *models.Occurrence {
	return &models.Occurrence{
		UserID:       1,
		GroupID:      "grp-1",
		Title:        "going live",
		Body:         "stream starts soon",
		ContentType:  "text",
		Platforms:    []string{models.PlatformTwitch, models.PlatformDiscord},
		ScheduledFor: scheduledFor,
		Status:       models.OccurrenceScheduled,
		MaxRetries:   models.DefaultMaxRetries,
	}
}

func mustCreate(t *testing.T, db *DB, occ *models.Occurrence) *models.Occurrence {
	t.Helper()
	require.NoError(t, db.CreateOccurrence(context.Background(), occ))
	return occ
}
