package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"streamcast/internal/database"
	"streamcast/internal/events"
	"streamcast/internal/metrics"
	"streamcast/internal/models"
	"streamcast/internal/publisher"
	"streamcast/internal/queue"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// EnablementChecker answers whether a platform is currently enabled.
// A disabled platform is a transient condition: the attempt fails but
// stays retry-eligible so re-enabling the platform resumes delivery.
type EnablementChecker interface {
	IsEnabled(ctx context.Context, platform string) (bool, error)
}

// PoolConfig wires the worker pool's dependencies and tuning knobs.
type PoolConfig struct {
	DB         *database.DB
	Registry   *publisher.Registry
	Controller *Controller
	Policy     RetryPolicy
	Enablement EnablementChecker
	Metrics    *metrics.Metrics
	Bus        *events.Bus
	Logger     zerolog.Logger

	Workers             int
	PlatformConcurrency int
	PlatformRPS         float64
	PublishTimeout      time.Duration
}

// Pool consumes dispatch jobs and drives the per-platform publish
// attempts. Each occurrence's platforms are attempted concurrently and
// independently; one platform failing never blocks or aborts another.
// Per-platform semaphores and rate limiters keep a slow platform from
// starving the rest of the pool.
type Pool struct {
	db         *database.DB
	registry   *publisher.Registry
	controller *Controller
	policy     RetryPolicy
	enablement EnablementChecker
	metrics    *metrics.Metrics
	bus        *events.Bus
	logger     zerolog.Logger

	workers             int
	platformConcurrency int
	platformRPS         float64
	publishTimeout      time.Duration

	jobs chan queue.Job
	wg   sync.WaitGroup

	mu       sync.Mutex
	sems     map[string]chan struct{}
	limiters map[string]*rate.Limiter
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = models.DefaultWorkerCount
	}
	if cfg.PlatformConcurrency <= 0 {
		cfg.PlatformConcurrency = models.DefaultPlatformConcurrency
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = models.DefaultPublishTimeoutSeconds * time.Second
	}

	return &Pool{
		db:                  cfg.DB,
		registry:            cfg.Registry,
		controller:          cfg.Controller,
		policy:              cfg.Policy,
		enablement:          cfg.Enablement,
		metrics:             cfg.Metrics,
		bus:                 cfg.Bus,
		logger:              cfg.Logger.With().Str("component", "pool").Logger(),
		workers:             cfg.Workers,
		platformConcurrency: cfg.PlatformConcurrency,
		platformRPS:         cfg.PlatformRPS,
		publishTimeout:      cfg.PublishTimeout,
		jobs:                make(chan queue.Job, cfg.Workers*2),
		sems:                make(map[string]chan struct{}),
		limiters:            make(map[string]*rate.Limiter),
	}
}

// Start launches the worker goroutines. It returns immediately; the
// workers drain until ctx is cancelled, then Wait can be used to block
// for in-flight jobs.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			logger := p.logger.With().Int("worker", id).Logger()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.jobs:
					p.process(ctx, logger, job)
				}
			}
		}(i)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Submit hands a job to the pool. It is the queue.Handler the dispatch
// queue delivers into.
func (p *Pool) Submit(ctx context.Context, job queue.Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type attemptResult struct {
	platform  string
	ok        bool
	transient bool
	err       error
}

func (p *Pool) process(ctx context.Context, logger zerolog.Logger, job queue.Job) {
	occ, err := p.db.GetOccurrence(ctx, job.OccurrenceID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			logger.Warn().Int64("occurrence_id", job.OccurrenceID).Msg("job for unknown occurrence dropped")
			return
		}
		logger.Error().Err(err).Int64("occurrence_id", job.OccurrenceID).Msg("failed to load occurrence")
		return
	}

	// Cancellation or another worker may have moved the occurrence on
	// while the job sat in the queue.
	if occ.Status != models.OccurrenceQueued || occ.DeletedAt != nil {
		logger.Debug().
			Int64("occurrence_id", occ.ID).
			Str("status", occ.Status).
			Msg("stale job skipped")
		return
	}

	platforms := job.Platforms
	if len(platforms) == 0 {
		platforms = occ.Platforms
	}
	if len(platforms) == 0 {
		reason := "no platforms selected"
		if _, err := p.db.TransitionStatus(ctx, occ.ID, []string{models.OccurrenceQueued}, models.OccurrenceFailed, reason); err != nil {
			logger.Error().Err(err).Int64("occurrence_id", occ.ID).Msg("failed to fail empty occurrence")
		}
		return
	}

	results := make([]attemptResult, len(platforms))
	var attempts sync.WaitGroup
	for i, platform := range platforms {
		attempts.Add(1)
		go func(i int, platform string) {
			defer attempts.Done()
			results[i] = p.attempt(ctx, logger, occ, platform)
		}(i, platform)
	}
	attempts.Wait()

	p.settle(ctx, logger, occ, results)
}

// attempt runs one platform publish under the idempotency contract:
// authorize, persist the key, call the platform, record the verdict.
func (p *Pool) attempt(ctx context.Context, logger zerolog.Logger, occ *models.Occurrence, platform string) attemptResult {
	start := time.Now()
	result := p.attemptOnce(ctx, occ, platform)

	if p.metrics != nil {
		outcome := "success"
		if !result.ok {
			outcome = "permanent_failure"
			if result.transient {
				outcome = "transient_failure"
			}
		}
		p.metrics.PublishAttempts.WithLabelValues(platform, outcome).Inc()
		p.metrics.PublishDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	}

	if result.err != nil {
		logger.Warn().
			Err(result.err).
			Int64("occurrence_id", occ.ID).
			Str("platform", platform).
			Bool("transient", result.transient).
			Msg("platform publish failed")
	}
	return result
}

func (p *Pool) attemptOnce(ctx context.Context, occ *models.Occurrence, platform string) attemptResult {
	fail := func(err error) attemptResult {
		transient := publisher.IsTransient(err)
		if recErr := p.controller.RecordFailure(ctx, occ.ID, platform, err.Error(), transient); recErr != nil {
			p.logger.Error().Err(recErr).Int64("occurrence_id", occ.ID).Str("platform", platform).
				Msg("failed to record outcome failure")
		}
		return attemptResult{platform: platform, transient: transient, err: err}
	}

	if p.enablement != nil {
		enabled, err := p.enablement.IsEnabled(ctx, platform)
		if err != nil {
			return fail(publisher.Transient(platform, err))
		}
		if !enabled {
			return fail(publisher.Transient(platform, errors.New("platform disabled")))
		}
	}

	pub, err := p.registry.Get(platform)
	if err != nil {
		return fail(err)
	}

	perm, err := p.controller.Authorize(ctx, occ.ID, platform)
	if err != nil {
		return fail(publisher.Transient(platform, err))
	}
	if perm.AlreadyPublished {
		return attemptResult{platform: platform, ok: true}
	}

	if err := p.limiter(platform).Wait(ctx); err != nil {
		return fail(publisher.Transient(platform, err))
	}

	sem := p.semaphore(platform)
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return fail(publisher.Transient(platform, ctx.Err()))
	}

	callCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	res, err := pub.Publish(callCtx, occ, perm.Key)
	if err != nil {
		return fail(err)
	}

	publishedAt := res.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}
	if err := p.controller.RecordSuccess(ctx, occ.ID, platform, res.RemoteID, publishedAt); err != nil {
		// The platform consumed the key; the next pass will see the
		// consumed key and skip, so treat this as transient.
		return fail(publisher.Transient(platform, err))
	}
	return attemptResult{platform: platform, ok: true}
}

// settle derives the occurrence status from the per-platform results.
// Published outcomes are never re-attempted or downgraded; the
// occurrence only re-enters retrying for its failed platforms.
func (p *Pool) settle(ctx context.Context, logger zerolog.Logger, occ *models.Occurrence, results []attemptResult) {
	var succeeded, failed int
	var transient bool
	var firstErr error
	for _, r := range results {
		if r.ok {
			succeeded++
			continue
		}
		failed++
		if r.transient {
			transient = true
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}

	if failed == 0 {
		moved, err := p.db.TransitionStatus(ctx, occ.ID, []string{models.OccurrenceQueued}, models.OccurrencePublished, "")
		if err != nil {
			logger.Error().Err(err).Int64("occurrence_id", occ.ID).Msg("failed to mark occurrence published")
			return
		}
		if !moved {
			logger.Debug().Int64("occurrence_id", occ.ID).Msg("publish result discarded, occurrence no longer queued")
			return
		}
		logger.Info().Int64("occurrence_id", occ.ID).Int("platforms", succeeded).Msg("occurrence published")
		_ = p.bus.PublishJSON(events.EventOccurrencePublished, events.OccurrenceEventPayload{
			OccurrenceID: occ.ID,
			UserID:       occ.UserID,
			Status:       models.OccurrencePublished,
			Platforms:    occ.Platforms,
			ScheduledFor: occ.ScheduledFor,
		})
		return
	}

	reason := "publish failed"
	if firstErr != nil {
		reason = firstErr.Error()
	}
	if succeeded > 0 {
		reason = models.StatusReasonPartial
	}

	moved, err := p.db.TransitionStatus(ctx, occ.ID, []string{models.OccurrenceQueued}, models.OccurrenceFailed, reason)
	if err != nil {
		logger.Error().Err(err).Int64("occurrence_id", occ.ID).Msg("failed to mark occurrence failed")
		return
	}
	if !moved {
		logger.Debug().Int64("occurrence_id", occ.ID).Msg("failure result discarded, occurrence no longer queued")
		return
	}

	_ = p.bus.PublishJSON(events.EventOccurrenceFailed, events.OccurrenceEventPayload{
		OccurrenceID: occ.ID,
		UserID:       occ.UserID,
		Status:       models.OccurrenceFailed,
		Reason:       reason,
		Platforms:    occ.Platforms,
		ScheduledFor: occ.ScheduledFor,
	})

	if !transient {
		logger.Warn().Int64("occurrence_id", occ.ID).Str("reason", reason).Msg("occurrence failed permanently")
		return
	}

	now := time.Now()
	delay := p.policy.NextDelay(occ.RetryCount + 1)
	rearmed, err := p.db.MarkRetrying(ctx, occ.ID, reason, now, now.Add(delay))
	if err != nil {
		logger.Error().Err(err).Int64("occurrence_id", occ.ID).Msg("failed to re-arm occurrence for retry")
		return
	}
	if !rearmed {
		logger.Warn().
			Int64("occurrence_id", occ.ID).
			Int("retry_count", occ.RetryCount).
			Msg("retry budget exhausted, occurrence stays failed")
		return
	}

	if p.metrics != nil {
		p.metrics.RetriesTotal.Inc()
	}
	logger.Info().
		Int64("occurrence_id", occ.ID).
		Dur("retry_in", delay).
		Int("attempt", occ.RetryCount+1).
		Msg("occurrence scheduled for retry")
}

func (p *Pool) semaphore(platform string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.sems[platform]
	if !ok {
		sem = make(chan struct{}, p.platformConcurrency)
		p.sems[platform] = sem
	}
	return sem
}

func (p *Pool) limiter(platform string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[platform]
	if !ok {
		if p.platformRPS > 0 {
			l = rate.NewLimiter(rate.Limit(p.platformRPS), int(p.platformRPS)+1)
		} else {
			l = rate.NewLimiter(rate.Inf, 0)
		}
		p.limiters[platform] = l
	}
	return l
}
