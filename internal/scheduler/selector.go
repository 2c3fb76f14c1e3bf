package scheduler

import (
	"context"
	"time"

	"streamcast/internal/database"
	"streamcast/internal/events"
	"streamcast/internal/metrics"
	"streamcast/internal/models"
	"streamcast/internal/queue"

	"github.com/rs/zerolog"
)

// Selector is the due-work poller: each tick it selects eligible
// occurrences, claims them with a compare-and-set to queued, and hands
// them to the dispatch queue. Infrastructure errors are logged and the
// occurrence is left for the next tick; only real publish failures
// consume retry budget.
type Selector struct {
	db        *database.DB
	queue     queue.Queue
	metrics   *metrics.Metrics
	bus       *events.Bus
	logger    zerolog.Logger
	interval  time.Duration
	batchSize int

	// requeueAfter is how long a queued occurrence may sit without
	// progress before the selector assumes its job was lost (process
	// crash with a memory-backed queue) and redelivers it. Redelivery
	// is safe: the idempotency controller skips consumed keys.
	requeueAfter time.Duration
}

func NewSelector(db *database.DB, q queue.Queue, m *metrics.Metrics, bus *events.Bus, logger zerolog.Logger, interval time.Duration, batchSize int) *Selector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = models.DefaultSelectorBatchSize
	}

	requeueAfter := 10 * interval
	if requeueAfter < time.Minute {
		requeueAfter = time.Minute
	}

	return &Selector{
		db:           db,
		queue:        q,
		metrics:      m,
		bus:          bus,
		logger:       logger.With().Str("component", "selector").Logger(),
		interval:     interval,
		batchSize:    batchSize,
		requeueAfter: requeueAfter,
	}
}

// Start runs the polling loop until ctx is cancelled. The first tick
// fires immediately so a restart drains the backlog without waiting a
// full interval.
func (s *Selector) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Int("batch_size", s.batchSize).
		Msg("selector started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("selector stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one selection pass.
func (s *Selector) Tick(ctx context.Context) {
	now := time.Now()

	due, err := s.db.SelectDueWork(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to select due work")
		return
	}

	dispatched := 0
	for i := range due {
		if s.dispatch(ctx, &due[i], now) {
			dispatched++
		}
	}

	if dispatched > 0 {
		s.logger.Debug().Int("dispatched", dispatched).Msg("selection pass complete")
	}
	s.updateDepth(ctx)
}

func (s *Selector) dispatch(ctx context.Context, occ *models.Occurrence, now time.Time) bool {
	switch occ.Status {
	case models.OccurrenceScheduled, models.OccurrenceRetrying:
		claimed, err := s.db.TransitionStatus(ctx, occ.ID, []string{occ.Status}, models.OccurrenceQueued, "")
		if err != nil {
			s.logger.Error().Err(err).Int64("occurrence_id", occ.ID).Msg("failed to claim occurrence")
			return false
		}
		if !claimed {
			// Lost the race to another selector pass, or cancelled.
			return false
		}
	case models.OccurrenceQueued:
		if now.Sub(occ.UpdatedAt) < s.requeueAfter {
			return false
		}
		s.logger.Warn().
			Int64("occurrence_id", occ.ID).
			Time("updated_at", occ.UpdatedAt).
			Msg("stalled queued occurrence redelivered")
	default:
		return false
	}

	ref, err := s.queue.Enqueue(ctx, queue.Job{OccurrenceID: occ.ID, Platforms: occ.Platforms}, 0)
	if err != nil {
		// Leave the row queued; the requeue grace period will redeliver.
		s.logger.Error().Err(err).Int64("occurrence_id", occ.ID).Msg("failed to enqueue job")
		return false
	}
	if err := s.db.SetJobRef(ctx, occ.ID, string(ref)); err != nil {
		s.logger.Error().Err(err).Int64("occurrence_id", occ.ID).Msg("failed to record job ref")
	}

	_ = s.bus.PublishJSON(events.EventOccurrenceQueued, events.OccurrenceEventPayload{
		OccurrenceID: occ.ID,
		UserID:       occ.UserID,
		Status:       models.OccurrenceQueued,
		Platforms:    occ.Platforms,
		ScheduledFor: occ.ScheduledFor,
	})
	return true
}

func (s *Selector) updateDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	stats, err := s.db.GetQueueStats(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read queue stats")
		return
	}
	s.metrics.QueueDepth.Set(float64(stats.Active))
}
