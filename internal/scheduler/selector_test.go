package scheduler

import (
	"context"
	"testing"
	"time"

	"streamcast/internal/database"
	"streamcast/internal/events"
	"streamcast/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSelector(db *database.DB, q *captureQueue) *Selector {
	return NewSelector(db, q, nil, events.NewBus(), zerolog.Nop(), time.Second, 50)
}

func createOccurrence(t *testing.T, db *database.DB, status string, scheduledFor time.Time) *models.Occurrence {
	t.Helper()

	occ := &models.Occurrence{
		UserID:       1,
		GroupID:      "grp-1",
		Title:        "going live",
		Body:         "stream starts soon",
		ContentType:  "text",
		Platforms:    []string{models.PlatformTwitch},
		ScheduledFor: scheduledFor,
		Status:       status,
		MaxRetries:   models.DefaultMaxRetries,
	}
	require.NoError(t, db.CreateOccurrence(context.Background(), occ))
	return occ
}

func TestSelectorDispatchesDueScheduled(t *testing.T) {
	db := setupTestDB(t)
	q := &captureQueue{}
	s := newTestSelector(db, q)

	occ := createOccurrence(t, db, models.OccurrenceScheduled, time.Now().Add(-time.Minute))
	s.Tick(context.Background())

	assert.Equal(t, []int64{occ.ID}, q.enqueued())

	got, err := db.GetOccurrence(context.Background(), occ.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OccurrenceQueued, got.Status)
	assert.NotEmpty(t, got.JobRef)
}

func TestSelectorIgnoresFutureOccurrences(t *testing.T) {
	db := setupTestDB(t)
	q := &captureQueue{}
	s := newTestSelector(db, q)

	createOccurrence(t, db, models.OccurrenceScheduled, time.Now().Add(time.Hour))
	s.Tick(context.Background())

	assert.Empty(t, q.enqueued())
}

func TestSelectorHonorsBackoff(t *testing.T) {
	db := setupTestDB(t)
	q := &captureQueue{}
	s := newTestSelector(db, q)
	ctx := context.Background()

	occ := createOccurrence(t, db, models.OccurrenceFailed, time.Now().Add(-time.Minute))

	// Backoff still pending: not selected.
	now := time.Now()
	rearmed, err := db.MarkRetrying(ctx, occ.ID, "timeout", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, rearmed)

	s.Tick(ctx)
	assert.Empty(t, q.enqueued())

	// Backoff elapsed: dispatched.
	_, err = db.ExecContext(ctx,
		`UPDATE occurrences SET next_retry_at = ? WHERE id = ?`,
		time.Now().Add(-time.Second), occ.ID)
	require.NoError(t, err)

	s.Tick(ctx)
	assert.Equal(t, []int64{occ.ID}, q.enqueued())

	got, err := db.GetOccurrence(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OccurrenceQueued, got.Status)
}

func TestSelectorDoesNotRedeliverFreshQueued(t *testing.T) {
	db := setupTestDB(t)
	q := &captureQueue{}
	s := newTestSelector(db, q)

	createOccurrence(t, db, models.OccurrenceQueued, time.Now().Add(-time.Minute))
	s.Tick(context.Background())

	assert.Empty(t, q.enqueued(), "recently queued occurrence must not be double-dispatched")
}

func TestSelectorRedeliversStalledQueued(t *testing.T) {
	db := setupTestDB(t)
	q := &captureQueue{}
	s := newTestSelector(db, q)
	ctx := context.Background()

	occ := createOccurrence(t, db, models.OccurrenceQueued, time.Now().Add(-time.Hour))
	_, err := db.ExecContext(ctx,
		`UPDATE occurrences SET updated_at = ? WHERE id = ?`,
		time.Now().Add(-2*s.requeueAfter), occ.ID)
	require.NoError(t, err)

	s.Tick(ctx)
	assert.Equal(t, []int64{occ.ID}, q.enqueued())
}

func TestSelectorSkipsCancelledAndDeleted(t *testing.T) {
	db := setupTestDB(t)
	q := &captureQueue{}
	s := newTestSelector(db, q)
	ctx := context.Background()

	createOccurrence(t, db, models.OccurrenceCancelled, time.Now().Add(-time.Minute))

	deleted := createOccurrence(t, db, models.OccurrenceScheduled, time.Now().Add(-time.Minute))
	removed, err := db.SoftDelete(ctx, deleted.ID)
	require.NoError(t, err)
	require.True(t, removed)

	s.Tick(ctx)
	assert.Empty(t, q.enqueued())
}

func TestSelectorDispatchIsIdempotentAcrossTicks(t *testing.T) {
	db := setupTestDB(t)
	q := &captureQueue{}
	s := newTestSelector(db, q)
	ctx := context.Background()

	occ := createOccurrence(t, db, models.OccurrenceScheduled, time.Now().Add(-time.Minute))

	s.Tick(ctx)
	s.Tick(ctx)
	s.Tick(ctx)

	assert.Equal(t, []int64{occ.ID}, q.enqueued(), "a claimed occurrence is dispatched exactly once")
}
