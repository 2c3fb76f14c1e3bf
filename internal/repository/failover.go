package repository

import (
	"context"
	"sync/atomic"
	"time"

	"streamcast/internal/domain"

	"github.com/rs/zerolog"
)

// recoveryProbeInterval is how long the failover waits before probing
// the primary again after marking it down.
const recoveryProbeInterval = time.Minute

// FailoverEnablementRepository reads toggles from the primary (redis)
// and falls back to the in-memory repository when it is unreachable.
// Writes go to both so the fallback stays warm.
type FailoverEnablementRepository struct {
	primary   domain.EnablementRepository
	fallback  domain.EnablementRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverEnablementRepository(primary, fallback domain.EnablementRepository, logger *zerolog.Logger) *FailoverEnablementRepository {
	return &FailoverEnablementRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverEnablementRepository) IsEnabled(ctx context.Context, platform string) (bool, error) {
	if !r.isDown.Load() {
		enabled, err := r.primary.IsEnabled(ctx, platform)
		if err == nil {
			return enabled, nil
		}
		r.markDown(err)
	}

	if r.shouldProbe() {
		enabled, err := r.primary.IsEnabled(ctx, platform)
		if err == nil {
			r.isDown.Store(false)
			return enabled, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.IsEnabled(ctx, platform)
}

func (r *FailoverEnablementRepository) SetEnabled(ctx context.Context, platform string, enabled bool) error {
	// The fallback is always written so a primary outage does not lose
	// the toggle locally.
	if err := r.fallback.SetEnabled(ctx, platform, enabled); err != nil {
		return err
	}

	if !r.isDown.Load() {
		if err := r.primary.SetEnabled(ctx, platform, enabled); err != nil {
			r.markDown(err)
		}
	}
	return nil
}

func (r *FailoverEnablementRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary enablement repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverEnablementRepository) shouldProbe() bool {
	return r.isDown.Load() &&
		time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryProbeInterval
}
