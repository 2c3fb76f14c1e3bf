package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamcast/internal/database"
	"streamcast/internal/models"

	"github.com/google/uuid"
)

// Controller enforces the idempotency contract for platform attempts:
// a (occurrence, platform) pair whose key was already consumed is never
// re-published, and a fresh key is persisted before any network call so
// a crash between the call and the status write cannot double-publish.
type Controller struct {
	db *database.DB
}

func NewController(db *database.DB) *Controller {
	return &Controller{db: db}
}

// Permission is the controller's verdict for one platform attempt.
type Permission struct {
	// Key is the idempotency key the publish call must carry.
	Key string
	// AlreadyPublished short-circuits the attempt: the platform has
	// already consumed a key for this pair (crash-and-redeliver case).
	AlreadyPublished bool
	// RemoteID carries the known remote id when already published.
	RemoteID string
}

// Authorize checks the attempt against the recorded outcome and mints
// the idempotency key. The outcome row is created on demand so a
// platform added by an edit after occurrence creation still gets one.
func (c *Controller) Authorize(ctx context.Context, occurrenceID int64, platform string) (*Permission, error) {
	outcome, err := c.db.GetOutcome(ctx, occurrenceID, platform)
	if errors.Is(err, database.ErrNotFound) {
		outcome = &models.PlatformOutcome{
			OccurrenceID: occurrenceID,
			Platform:     platform,
			Status:       models.OutcomePending,
		}
		if createErr := c.db.CreateOutcome(ctx, outcome); createErr != nil {
			// Lost a creation race; re-read the winner's row.
			outcome, err = c.db.GetOutcome(ctx, occurrenceID, platform)
			if err != nil {
				return nil, fmt.Errorf("authorize attempt: %w", err)
			}
		}
	} else if err != nil {
		return nil, fmt.Errorf("authorize attempt: %w", err)
	}

	if outcome.Status == models.OutcomePublished || outcome.KeyConsumed {
		return &Permission{AlreadyPublished: true, RemoteID: outcome.RemoteID}, nil
	}

	key, err := c.db.MintIdempotencyKey(ctx, occurrenceID, platform, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("mint idempotency key: %w", err)
	}
	return &Permission{Key: key}, nil
}

// RecordSuccess persists a successful publish and marks the key
// consumed.
func (c *Controller) RecordSuccess(ctx context.Context, occurrenceID int64, platform, remoteID string, publishedAt time.Time) error {
	return c.db.MarkOutcomePublished(ctx, occurrenceID, platform, remoteID, publishedAt)
}

// RecordFailure persists a failed attempt. Transient failures leave the
// outcome retry-eligible and clear the unconsumed key so the next pass
// mints a fresh one.
func (c *Controller) RecordFailure(ctx context.Context, occurrenceID int64, platform, reason string, transient bool) error {
	if err := c.db.MarkOutcomeFailed(ctx, occurrenceID, platform, reason, transient); err != nil {
		return err
	}
	if transient {
		return c.db.ResetOutcomeKey(ctx, occurrenceID, platform)
	}
	return nil
}
