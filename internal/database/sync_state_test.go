package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncStateLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	occ := mustCreate(t, db, testOccurrence(time.Now()))

	require.NoError(t, db.EnsureSyncState(ctx, occ.ID))
	state, err := db.GetSyncState(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.LocalVersion)
	assert.Equal(t, int64(0), state.RemoteVersion)
	assert.Empty(t, state.RemoteID)

	// Ensure is idempotent; it must not reset versions.
	require.NoError(t, db.BumpLocalVersion(ctx, occ.ID))
	require.NoError(t, db.EnsureSyncState(ctx, occ.ID))
	state, err = db.GetSyncState(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.LocalVersion)

	syncedAt := time.Now()
	require.NoError(t, db.MarkSynced(ctx, occ.ID, "evt-1", state.LocalVersion, "hash-1", syncedAt))
	state, err = db.GetSyncState(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", state.RemoteID)
	assert.Equal(t, int64(2), state.RemoteVersion)
	assert.Equal(t, "hash-1", state.ContentHash)
	require.NotNil(t, state.LastSyncedAt)
	assert.True(t, state.RemoteVersion <= state.LocalVersion)

	require.NoError(t, db.DeleteSyncState(ctx, occ.ID))
	_, err = db.GetSyncState(ctx, occ.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBumpLocalVersionCreatesRow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	occ := mustCreate(t, db, testOccurrence(time.Now()))

	// No EnsureSyncState beforehand.
	require.NoError(t, db.BumpLocalVersion(ctx, occ.ID))
	state, err := db.GetSyncState(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.LocalVersion)
}

func TestMarkSyncedMissingRow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.MarkSynced(ctx, 12345, "evt-1", 1, "h", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSyncedOccurrenceIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := mustCreate(t, db, testOccurrence(time.Now()))
	b := mustCreate(t, db, testOccurrence(time.Now()))
	require.NoError(t, db.EnsureSyncState(ctx, a.ID))
	require.NoError(t, db.EnsureSyncState(ctx, b.ID))

	ids, err := db.ListSyncedOccurrenceIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids)
}
