// Package service is the engine facade: occurrence creation with
// recurrence fan-out, cancellation, manual retry, edits and stats. The
// selector, pool and syncer do the asynchronous work; the facade only
// manipulates persistent state and emits events.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamcast/internal/database"
	"streamcast/internal/events"
	"streamcast/internal/metrics"
	"streamcast/internal/models"
	"streamcast/internal/queue"
	"streamcast/internal/recurrence"
	"streamcast/internal/syncer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidRequest wraps validation failures so callers can map them
// to a 400 without inspecting message text.
var ErrInvalidRequest = errors.New("invalid request")

type SchedulerService struct {
	db      *database.DB
	queue   queue.Queue
	syncer  *syncer.Engine
	metrics *metrics.Metrics
	bus     *events.Bus
	logger  zerolog.Logger
}

func NewSchedulerService(db *database.DB, q queue.Queue, sync *syncer.Engine, m *metrics.Metrics, bus *events.Bus, logger zerolog.Logger) *SchedulerService {
	return &SchedulerService{
		db:      db,
		queue:   q,
		syncer:  sync,
		metrics: m,
		bus:     bus,
		logger:  logger.With().Str("component", "service").Logger(),
	}
}

// CreateOccurrences expands the request into one or more occurrences
// and persists them with pending outcomes per platform. Occurrences of
// one request share a group id. Drafts are stored but not eligible for
// dispatch until scheduled.
func (s *SchedulerService) CreateOccurrences(ctx context.Context, req *models.ScheduleRequest) ([]models.Occurrence, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	slots, err := recurrence.Expand(req.ScheduledFor, req.EndsAt, req.Recurrence)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	status := models.OccurrenceScheduled
	if req.Draft {
		status = models.OccurrenceDraft
	}

	groupID := uuid.NewString()
	created := make([]models.Occurrence, 0, len(slots))
	for _, slot := range slots {
		occ := &models.Occurrence{
			UserID:       req.UserID,
			GroupID:      groupID,
			Title:        req.Title,
			Body:         req.Body,
			ContentType:  req.ContentType,
			Hashtags:     req.Hashtags,
			Mentions:     req.Mentions,
			MediaFiles:   req.MediaFiles,
			Platforms:    req.Platforms,
			ScheduledFor: slot.Start,
			EndsAt:       slot.End,
			Status:       status,
			MaxRetries:   models.DefaultMaxRetries,
			Mirrored:     req.Mirrored,
		}
		if occ.ContentType == "" {
			occ.ContentType = "text"
		}

		if err := s.db.CreateOccurrence(ctx, occ); err != nil {
			return created, err
		}

		for _, platform := range req.Platforms {
			outcome := &models.PlatformOutcome{
				OccurrenceID: occ.ID,
				Platform:     platform,
				Status:       models.OutcomePending,
			}
			if err := s.db.CreateOutcome(ctx, outcome); err != nil {
				return created, err
			}
		}

		if req.Mirrored {
			if err := s.db.EnsureSyncState(ctx, occ.ID); err != nil {
				return created, err
			}
			s.syncer.EnqueueSync(ctx, occ.ID)
		}

		if s.metrics != nil {
			s.metrics.OccurrencesScheduled.Inc()
		}
		_ = s.bus.PublishJSON(events.EventOccurrenceScheduled, events.OccurrenceEventPayload{
			OccurrenceID: occ.ID,
			UserID:       occ.UserID,
			Status:       occ.Status,
			Platforms:    occ.Platforms,
			ScheduledFor: occ.ScheduledFor,
		})

		created = append(created, *occ)
	}

	s.logger.Info().
		Str("group_id", groupID).
		Int("occurrences", len(created)).
		Int64("user_id", req.UserID).
		Msg("schedule request expanded")
	return created, nil
}

// Cancel moves a non-terminal occurrence to cancelled and removes its
// queued job if one exists. Mirrored occurrences are soft-deleted so
// the sync engine retires the remote entity. Returns false when the
// occurrence was already terminal.
func (s *SchedulerService) Cancel(ctx context.Context, id int64) (bool, error) {
	occ, err := s.db.GetOccurrence(ctx, id)
	if err != nil {
		return false, err
	}

	cancelled, err := s.db.TransitionStatus(ctx, id, []string{
		models.OccurrenceDraft,
		models.OccurrenceScheduled,
		models.OccurrenceQueued,
		models.OccurrenceRetrying,
		models.OccurrenceFailed,
	}, models.OccurrenceCancelled, "user cancelled")
	if err != nil {
		return false, err
	}
	if !cancelled {
		return false, nil
	}

	if occ.JobRef != "" && s.queue != nil {
		if err := s.queue.Cancel(ctx, queue.JobRef(occ.JobRef)); err != nil {
			// A job that slips through is discarded by the pool's
			// status check.
			s.logger.Warn().Err(err).Int64("occurrence_id", id).Msg("failed to cancel queued job")
		}
	}

	if occ.Mirrored {
		if _, err := s.db.SoftDelete(ctx, id); err != nil {
			return true, err
		}
		s.syncer.EnqueueSync(ctx, id)
	}

	_ = s.bus.PublishJSON(events.EventOccurrenceCancelled, events.OccurrenceEventPayload{
		OccurrenceID: id,
		UserID:       occ.UserID,
		Status:       models.OccurrenceCancelled,
		Platforms:    occ.Platforms,
		ScheduledFor: occ.ScheduledFor,
	})
	s.logger.Info().Int64("occurrence_id", id).Msg("occurrence cancelled")
	return true, nil
}

// RetryNow re-arms a failed occurrence immediately, bypassing the
// backoff. Returns false when the occurrence is not failed or its
// retry budget is spent.
func (s *SchedulerService) RetryNow(ctx context.Context, id int64) (bool, error) {
	occ, err := s.db.GetOccurrence(ctx, id)
	if err != nil {
		return false, err
	}
	if occ.Status != models.OccurrenceFailed || !occ.RetryBudgetLeft() {
		return false, nil
	}

	now := time.Now()
	rearmed, err := s.db.MarkRetrying(ctx, id, "manual retry", now, now)
	if err != nil {
		return false, err
	}
	if rearmed {
		if s.metrics != nil {
			s.metrics.RetriesTotal.Inc()
		}
		s.logger.Info().Int64("occurrence_id", id).Msg("manual retry requested")
	}
	return rearmed, nil
}

// ScheduleDraft promotes a draft to scheduled so the selector picks it
// up. Returns false when the occurrence is not a draft.
func (s *SchedulerService) ScheduleDraft(ctx context.Context, id int64) (bool, error) {
	return s.db.TransitionStatus(ctx, id, []string{models.OccurrenceDraft}, models.OccurrenceScheduled, "")
}

// UpdateOccurrence applies a content edit. Mirrored occurrences get a
// version bump and a sync pass; the publish pipeline is untouched.
func (s *SchedulerService) UpdateOccurrence(ctx context.Context, occ *models.Occurrence) error {
	if occ.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if len(occ.Platforms) == 0 {
		return fmt.Errorf("%w: at least one platform is required", ErrInvalidRequest)
	}

	current, err := s.db.GetOccurrence(ctx, occ.ID)
	if err != nil {
		return err
	}

	if err := s.db.UpdateOccurrenceContent(ctx, occ); err != nil {
		return err
	}

	if current.Mirrored {
		if err := s.db.BumpLocalVersion(ctx, occ.ID); err != nil {
			return err
		}
		s.syncer.EnqueueSync(ctx, occ.ID)
	}
	return nil
}

// GetOccurrence returns one occurrence with its per-platform outcomes.
func (s *SchedulerService) GetOccurrence(ctx context.Context, id int64) (*models.Occurrence, []models.PlatformOutcome, error) {
	occ, err := s.db.GetOccurrence(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	outcomes, err := s.db.ListOutcomes(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return occ, outcomes, nil
}

// ListOccurrences returns a user's occurrences, newest first.
func (s *SchedulerService) ListOccurrences(ctx context.Context, userID int64) ([]models.Occurrence, error) {
	return s.db.ListOccurrencesByUser(ctx, userID)
}

// QueueStats returns aggregate occurrence counts.
func (s *SchedulerService) QueueStats(ctx context.Context) (*database.QueueStats, error) {
	return s.db.GetQueueStats(ctx)
}

// EnqueueSync requests a reconcile pass for one occurrence.
func (s *SchedulerService) EnqueueSync(ctx context.Context, id int64) {
	s.syncer.EnqueueSync(ctx, id)
}

func validateRequest(req *models.ScheduleRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if req.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if req.ScheduledFor.IsZero() {
		return fmt.Errorf("%w: scheduled_for is required", ErrInvalidRequest)
	}
	if len(req.Platforms) == 0 {
		return fmt.Errorf("%w: at least one platform is required", ErrInvalidRequest)
	}
	for _, platform := range req.Platforms {
		if platform == "" {
			return fmt.Errorf("%w: platform name cannot be empty", ErrInvalidRequest)
		}
	}
	if req.EndsAt != nil && !req.EndsAt.After(req.ScheduledFor) {
		return fmt.Errorf("%w: ends_at must be after scheduled_for", ErrInvalidRequest)
	}
	if !req.Recurrence.Valid() {
		return fmt.Errorf("%w: unsupported recurrence frequency", ErrInvalidRequest)
	}
	return nil
}
