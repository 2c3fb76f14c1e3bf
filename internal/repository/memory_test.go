package repository

import (
	"context"
	"testing"
	"time"

	"streamcast/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEnablementDefaults(t *testing.T) {
	repo := NewMemoryEnablementRepository(map[string]bool{
		models.PlatformTwitch:  true,
		models.PlatformTwitter: false,
	}, time.Minute)
	ctx := context.Background()

	enabled, err := repo.IsEnabled(ctx, models.PlatformTwitch)
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = repo.IsEnabled(ctx, models.PlatformTwitter)
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = repo.IsEnabled(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, enabled, "unknown platforms default to disabled")
}

func TestMemoryEnablementOverride(t *testing.T) {
	repo := NewMemoryEnablementRepository(map[string]bool{models.PlatformTwitch: true}, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.SetEnabled(ctx, models.PlatformTwitch, false))

	enabled, err := repo.IsEnabled(ctx, models.PlatformTwitch)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestMemoryEnablementTTLFallsBackToDefault(t *testing.T) {
	repo := NewMemoryEnablementRepository(map[string]bool{models.PlatformTwitch: true}, time.Minute)
	ctx := context.Background()

	now := time.Now()
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.SetEnabled(ctx, models.PlatformTwitch, false))

	enabled, err := repo.IsEnabled(ctx, models.PlatformTwitch)
	require.NoError(t, err)
	assert.False(t, enabled)

	repo.now = func() time.Time { return now.Add(2 * time.Minute) }

	enabled, err = repo.IsEnabled(ctx, models.PlatformTwitch)
	require.NoError(t, err)
	assert.True(t, enabled, "expired override yields the configured default")
}
