// Package metrics exposes the engine's Prometheus instrumentation as
// an injectable struct so tests can construct isolated registries.
package metrics

import (
	"streamcast/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OccurrencesScheduled prometheus.Counter
	OccurrencesPublished prometheus.Counter
	OccurrencesFailed    prometheus.Counter
	PublishAttempts      *prometheus.CounterVec
	PublishDuration      *prometheus.HistogramVec
	RetriesTotal         prometheus.Counter
	QueueDepth           prometheus.Gauge
	SyncOps              *prometheus.CounterVec
}

// New builds the metric set and registers it on the given registerer.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OccurrencesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "occurrences_scheduled_total",
			Help:      "Occurrences created by the recurrence expander.",
		}),
		OccurrencesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "occurrences_published_total",
			Help:      "Occurrences fully delivered to all target platforms.",
		}),
		OccurrencesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "occurrences_failed_total",
			Help:      "Occurrences that reached the failed status.",
		}),
		PublishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "publish_attempts_total",
			Help:      "Platform publish attempts by platform and result.",
		}, []string{"platform", "result"}),
		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "streamcast",
			Name:      "publish_duration_seconds",
			Help:      "Time spent in a single platform publish call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "retries_total",
			Help:      "Occurrences re-armed for retry.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamcast",
			Name:      "queue_depth",
			Help:      "Occurrences currently queued for dispatch.",
		}),
		SyncOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "sync_ops_total",
			Help:      "Remote sync operations by action.",
		}, []string{"action"}),
	}

	reg.MustRegister(
		m.OccurrencesScheduled,
		m.OccurrencesPublished,
		m.OccurrencesFailed,
		m.PublishAttempts,
		m.PublishDuration,
		m.RetriesTotal,
		m.QueueDepth,
		m.SyncOps,
	)
	return m
}

// WireBus feeds the occurrence lifecycle counters from the event bus.
// Components publish events; they never touch these counters directly.
func (m *Metrics) WireBus(bus *events.Bus) {
	bus.Subscribe(events.EventOccurrencePublished, func(*events.Event) error {
		m.OccurrencesPublished.Inc()
		return nil
	})
	bus.Subscribe(events.EventOccurrenceFailed, func(*events.Event) error {
		m.OccurrencesFailed.Inc()
		return nil
	})
}
