// Package publisher defines the capability surface a platform adapter
// must implement, plus the transient/permanent failure taxonomy the
// retry controller relies on. Each platform implements only the subset
// of capabilities it supports.
package publisher

import (
	"context"
	"time"

	"streamcast/internal/models"
)

// Result is what a successful (or deduplicated) publish call returns.
type Result struct {
	// RemoteID identifies the created remote object when the platform
	// exposes one.
	RemoteID string
	// Duplicate is set when the platform recognized the idempotency key
	// and returned the original result instead of publishing again.
	Duplicate   bool
	PublishedAt time.Time
}

// Publisher publishes a single occurrence to one platform. Publish must
// accept an idempotency key and be safe to call twice with the same
// key: the second call is either rejected as a duplicate or returns the
// original result. Calls must complete within the caller's context
// deadline; an expired deadline is classified as transient.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, occ *models.Occurrence, idempotencyKey string) (*Result, error)
}

// RemoteEntityManager is implemented by platforms that host a stateful,
// editable remote mirror of an occurrence (e.g. a calendar event).
type RemoteEntityManager interface {
	CreateRemoteEntity(ctx context.Context, occ *models.Occurrence) (remoteID string, err error)
	UpdateRemoteEntity(ctx context.Context, remoteID string, occ *models.Occurrence) error
	DeleteRemoteEntity(ctx context.Context, remoteID string) error
}
