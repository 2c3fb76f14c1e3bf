package repository

import (
	"context"
	"sync"
	"time"
)

type enablementEntry struct {
	enabled   bool
	expiresAt time.Time
}

// MemoryEnablementRepository keeps platform toggles in process memory.
// Entries carry a TTL; an expired or missing entry answers with the
// configured default for that platform.
type MemoryEnablementRepository struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	defaults map[string]bool
}

func NewMemoryEnablementRepository(defaults map[string]bool, ttl time.Duration) *MemoryEnablementRepository {
	if defaults == nil {
		defaults = make(map[string]bool)
	}
	return &MemoryEnablementRepository{
		defaults: defaults,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *MemoryEnablementRepository) IsEnabled(ctx context.Context, platform string) (bool, error) {
	val, ok := r.entries.Load(platform)
	if ok {
		entry := val.(*enablementEntry)
		if r.now().Before(entry.expiresAt) {
			return entry.enabled, nil
		}
		r.entries.Delete(platform)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults[platform], nil
}

func (r *MemoryEnablementRepository) SetEnabled(ctx context.Context, platform string, enabled bool) error {
	r.entries.Store(platform, &enablementEntry{
		enabled:   enabled,
		expiresAt: r.now().Add(r.ttl),
	})
	return nil
}

// Refresh replaces the default flags, typically after a config reload.
// Runtime overrides keep their remaining TTL.
func (r *MemoryEnablementRepository) Refresh(defaults map[string]bool) {
	if defaults == nil {
		defaults = make(map[string]bool)
	}
	r.mu.Lock()
	r.defaults = defaults
	r.mu.Unlock()
}
