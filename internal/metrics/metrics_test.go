package metrics

import (
	"testing"

	"streamcast/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OccurrencesScheduled.Inc()
	m.PublishAttempts.WithLabelValues("twitch", "published").Inc()
	m.PublishAttempts.WithLabelValues("twitch", "failed").Add(2)
	m.RetriesTotal.Inc()
	m.QueueDepth.Set(3)
	m.SyncOps.WithLabelValues("update").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OccurrencesScheduled))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PublishAttempts.WithLabelValues("twitch", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewIsolatedRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.RetriesTotal.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RetriesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RetriesTotal))
}

func TestWireBusCountsLifecycleEvents(t *testing.T) {
	m := New(prometheus.NewRegistry())
	bus := events.NewBus()
	m.WireBus(bus)

	require.NoError(t, bus.PublishJSON(events.EventOccurrencePublished, events.OccurrenceEventPayload{OccurrenceID: 1}))
	require.NoError(t, bus.PublishJSON(events.EventOccurrenceFailed, events.OccurrenceEventPayload{OccurrenceID: 2}))
	require.NoError(t, bus.PublishJSON(events.EventOccurrenceFailed, events.OccurrenceEventPayload{OccurrenceID: 3}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OccurrencesPublished))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OccurrencesFailed))
}
