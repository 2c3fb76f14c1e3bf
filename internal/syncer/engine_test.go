package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"streamcast/internal/database"
	"streamcast/internal/events"
	"streamcast/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "syncer_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeRemote records remote entity operations.
type fakeRemote struct {
	mu      sync.Mutex
	nextID  int
	creates int
	updates int
	deletes int
	gate    chan struct{}
}

func (f *fakeRemote) CreateRemoteEntity(ctx context.Context, occ *models.Occurrence) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.nextID++
	return fmt.Sprintf("remote-%d", f.nextID), nil
}

func (f *fakeRemote) UpdateRemoteEntity(ctx context.Context, remoteID string, occ *models.Occurrence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return nil
}

func (f *fakeRemote) DeleteRemoteEntity(ctx context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return nil
}

func (f *fakeRemote) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.updates, f.deletes
}

func newTestEngine(db *database.DB, remote *fakeRemote) *Engine {
	return NewEngine(db, remote, nil, events.NewBus(), zerolog.Nop())
}

func mirroredOccurrence(t *testing.T, db *database.DB) *models.Occurrence {
	t.Helper()

	occ := &models.Occurrence{
		UserID:       1,
		GroupID:      "grp-1",
		Title:        "going live",
		Body:         "stream starts soon",
		ContentType:  "text",
		Platforms:    []string{models.PlatformTwitch},
		ScheduledFor: time.Now().Add(time.Hour),
		Status:       models.OccurrenceScheduled,
		MaxRetries:   models.DefaultMaxRetries,
		Mirrored:     true,
	}
	require.NoError(t, db.CreateOccurrence(context.Background(), occ))
	require.NoError(t, db.EnsureSyncState(context.Background(), occ.ID))
	return occ
}

func TestReconcileCreatesRemoteEntity(t *testing.T) {
	db := setupTestDB(t)
	remote := &fakeRemote{}
	engine := newTestEngine(db, remote)
	ctx := context.Background()

	occ := mirroredOccurrence(t, db)

	action, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, action)

	state, err := db.GetSyncState(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", state.RemoteID)
	assert.Equal(t, state.LocalVersion, state.RemoteVersion)
	assert.Equal(t, ContentHash(occ), state.ContentHash)
	assert.NotNil(t, state.LastSyncedAt)
}

func TestReconcileNoopWhenInSync(t *testing.T) {
	db := setupTestDB(t)
	remote := &fakeRemote{}
	engine := newTestEngine(db, remote)
	ctx := context.Background()

	occ := mirroredOccurrence(t, db)
	_, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)

	action, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionNoop, action)

	creates, updates, deletes := remote.counts()
	assert.Equal(t, 1, creates)
	assert.Zero(t, updates)
	assert.Zero(t, deletes)
}

func TestReconcileUpdatesAfterEdit(t *testing.T) {
	db := setupTestDB(t)
	remote := &fakeRemote{}
	engine := newTestEngine(db, remote)
	ctx := context.Background()

	occ := mirroredOccurrence(t, db)
	_, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)

	occ.Body = "edited"
	require.NoError(t, db.UpdateOccurrenceContent(ctx, occ))
	require.NoError(t, db.BumpLocalVersion(ctx, occ.ID))

	action, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, action)

	state, err := db.GetSyncState(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, state.LocalVersion, state.RemoteVersion)
	assert.Equal(t, int64(2), state.RemoteVersion)
}

func TestReconcileCoalescesTwoEditsIntoOneUpdate(t *testing.T) {
	db := setupTestDB(t)
	remote := &fakeRemote{}
	engine := newTestEngine(db, remote)
	ctx := context.Background()

	occ := mirroredOccurrence(t, db)
	_, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)

	occ.Body = "first edit"
	require.NoError(t, db.UpdateOccurrenceContent(ctx, occ))
	require.NoError(t, db.BumpLocalVersion(ctx, occ.ID))

	occ.Body = "second edit"
	require.NoError(t, db.UpdateOccurrenceContent(ctx, occ))
	require.NoError(t, db.BumpLocalVersion(ctx, occ.ID))

	action, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, action)

	_, updates, _ := remote.counts()
	assert.Equal(t, 1, updates, "back-to-back edits collapse into one remote update")

	state, err := db.GetSyncState(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.RemoteVersion, "remote reflects the latest local version")
	assert.Equal(t, ContentHash(occ), state.ContentHash)
}

func TestReconcileDeletesExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	remote := &fakeRemote{}
	engine := newTestEngine(db, remote)
	ctx := context.Background()

	occ := mirroredOccurrence(t, db)
	_, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)

	removed, err := db.SoftDelete(ctx, occ.ID)
	require.NoError(t, err)
	require.True(t, removed)

	action, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, action)

	// Sync state is gone, so a second pass has nothing to do.
	action, err = engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionNoop, action)

	_, _, deletes := remote.counts()
	assert.Equal(t, 1, deletes)

	_, err = db.GetSyncState(ctx, occ.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestReconcileCancelledRetiresRemote(t *testing.T) {
	db := setupTestDB(t)
	remote := &fakeRemote{}
	engine := newTestEngine(db, remote)
	ctx := context.Background()

	occ := mirroredOccurrence(t, db)
	_, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)

	moved, err := db.TransitionStatus(ctx, occ.ID,
		[]string{models.OccurrenceScheduled}, models.OccurrenceCancelled, "user cancelled")
	require.NoError(t, err)
	require.True(t, moved)

	action, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, action)
}

func TestReconcileSkipsUnmirrored(t *testing.T) {
	db := setupTestDB(t)
	remote := &fakeRemote{}
	engine := newTestEngine(db, remote)
	ctx := context.Background()

	occ := &models.Occurrence{
		UserID:       1,
		GroupID:      "grp-1",
		Title:        "going live",
		Body:         "stream starts soon",
		ContentType:  "text",
		Platforms:    []string{models.PlatformTwitch},
		ScheduledFor: time.Now().Add(time.Hour),
		Status:       models.OccurrenceScheduled,
		MaxRetries:   models.DefaultMaxRetries,
	}
	require.NoError(t, db.CreateOccurrence(ctx, occ))

	action, err := engine.Reconcile(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionNoop, action)

	creates, _, _ := remote.counts()
	assert.Zero(t, creates)
}

func TestEnqueueSyncCoalescesWhileInFlight(t *testing.T) {
	db := setupTestDB(t)
	remote := &fakeRemote{gate: make(chan struct{})}
	engine := newTestEngine(db, remote)
	ctx := context.Background()

	occ := mirroredOccurrence(t, db)

	engine.EnqueueSync(ctx, occ.ID)
	// Both arrive while the first pass is blocked in the remote call;
	// they collapse into a single follow-up pass.
	engine.EnqueueSync(ctx, occ.ID)
	engine.EnqueueSync(ctx, occ.ID)

	close(remote.gate)
	engine.Wait()

	state, err := db.GetSyncState(ctx, occ.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, state.RemoteID)

	creates, updates, _ := remote.counts()
	assert.Equal(t, 1, creates)
	assert.Zero(t, updates, "coalesced follow-up with unchanged content is a noop")
}

func TestResyncAllCatchesUpTrackedOccurrences(t *testing.T) {
	db := setupTestDB(t)
	remote := &fakeRemote{}
	engine := newTestEngine(db, remote)
	ctx := context.Background()

	first := mirroredOccurrence(t, db)
	second := mirroredOccurrence(t, db)

	require.NoError(t, engine.ResyncAll(ctx))
	engine.Wait()

	for _, occ := range []*models.Occurrence{first, second} {
		state, err := db.GetSyncState(ctx, occ.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, state.RemoteID)
	}

	creates, _, _ := remote.counts()
	assert.Equal(t, 2, creates)
}
