package recurrence

import (
	"testing"
	"time"

	"streamcast/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandNoRule(t *testing.T) {
	start := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	slots, err := Expand(start, nil, nil)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, start, slots[0].Start)
	assert.Nil(t, slots[0].End)
}

func TestExpandDisabledRule(t *testing.T) {
	start := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{Enabled: false, Frequency: models.FrequencyDaily, Count: 10}

	slots, err := Expand(start, nil, rule)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, start, slots[0].Start)
}

func TestExpandWeekly(t *testing.T) {
	start := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{Enabled: true, Frequency: models.FrequencyWeekly, Count: 3}

	slots, err := Expand(start, nil, rule)
	require.NoError(t, err)
	require.Len(t, slots, 3)

	assert.Equal(t, time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC), slots[0].Start)
	assert.Equal(t, time.Date(2026, 2, 17, 10, 0, 0, 0, time.UTC), slots[1].Start)
	assert.Equal(t, time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC), slots[2].Start)
}

func TestExpandDailySpacing(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{Enabled: true, Frequency: models.FrequencyDaily, Count: 5}

	slots, err := Expand(start, nil, rule)
	require.NoError(t, err)
	require.Len(t, slots, 5)
	for i := 1; i < len(slots); i++ {
		assert.Equal(t, 24*time.Hour, slots[i].Start.Sub(slots[i-1].Start))
	}
}

func TestExpandMonthlyFollowsCalendar(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{Enabled: true, Frequency: models.FrequencyMonthly, Count: 4}

	slots, err := Expand(start, nil, rule)
	require.NoError(t, err)
	require.Len(t, slots, 4)
	assert.Equal(t, time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC), slots[1].Start)
	assert.Equal(t, time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC), slots[2].Start)
	assert.Equal(t, time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC), slots[3].Start)
}

func TestExpandCountClamped(t *testing.T) {
	start := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{Enabled: true, Frequency: models.FrequencyDaily, Count: 500}

	slots, err := Expand(start, nil, rule)
	require.NoError(t, err)
	assert.Len(t, slots, models.MaxRecurrenceCount)

	rule.Count = 0
	slots, err = Expand(start, nil, rule)
	require.NoError(t, err)
	assert.Len(t, slots, 1)
}

func TestExpandPreservesEndOffset(t *testing.T) {
	start := time.Date(2026, 2, 10, 20, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	rule := &models.RecurrenceRule{Enabled: true, Frequency: models.FrequencyWeekly, Count: 3}

	slots, err := Expand(start, &end, rule)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	for _, slot := range slots {
		require.NotNil(t, slot.End)
		assert.Equal(t, 2*time.Hour, slot.End.Sub(slot.Start))
	}
}

func TestExpandUnknownFrequency(t *testing.T) {
	start := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{Enabled: true, Frequency: "hourly", Count: 3}

	_, err := Expand(start, nil, rule)
	assert.Error(t, err)
}

func TestExpandDeterministic(t *testing.T) {
	start := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{Enabled: true, Frequency: models.FrequencyMonthly, Count: 12}

	first, err := Expand(start, nil, rule)
	require.NoError(t, err)
	second, err := Expand(start, nil, rule)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
