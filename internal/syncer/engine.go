// Package syncer reconciles mirrored occurrences with their remote
// calendar entities. The local database is authoritative: sync pushes
// local content outward and never imports remote edits. Each occurrence
// has at most one reconcile pass in flight; requests arriving during a
// pass coalesce into a single follow-up pass.
package syncer

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

	"github.com/rs/zerolog"
)

// Reconcile actions, also used as the sync_ops metric label.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionNoop   = "noop"
)

type Engine struct {
	db      *database.DB
	remote  publisher.RemoteEntityManager
	metrics *metrics.Metrics
	bus     *events.Bus
	logger  zerolog.Logger

	mu       sync.Mutex
	inflight map[int64]bool
	dirty    map[int64]bool
	wg       sync.WaitGroup
}

func NewEngine(db *database.DB, remote publisher.RemoteEntityManager, m *metrics.Metrics, bus *events.Bus, logger zerolog.Logger) *Engine {
	return &Engine{
		db:       db,
		remote:   remote,
		metrics:  m,
		bus:      bus,
		logger:   logger.With().Str("component", "syncer").Logger(),
		inflight: make(map[int64]bool),
		dirty:    make(map[int64]bool),
	}
}

// EnqueueSync requests a reconcile pass for one occurrence. If a pass
// is already in flight the occurrence is marked dirty and the running
// pass re-reconciles before finishing, so N rapid edits cost at most
// two remote round trips.
func (e *Engine) EnqueueSync(ctx context.Context, occurrenceID int64) {
	if e == nil || e.remote == nil {
		return
	}

	e.mu.Lock()
	if e.inflight[occurrenceID] {
		e.dirty[occurrenceID] = true
		e.mu.Unlock()
		return
	}
	e.inflight[occurrenceID] = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, occurrenceID)
	}()
}

// Wait blocks until all in-flight reconcile passes have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, occurrenceID int64) {
	for {
		action, err := e.Reconcile(ctx, occurrenceID)
		if err != nil {
			// Leave state as-is; the periodic resync pass retries.
			e.logger.Error().Err(err).Int64("occurrence_id", occurrenceID).Msg("reconcile failed")
		} else if action != ActionNoop {
			e.logger.Info().Int64("occurrence_id", occurrenceID).Str("action", action).Msg("occurrence reconciled")
		}

		e.mu.Lock()
		if e.dirty[occurrenceID] {
			delete(e.dirty, occurrenceID)
			e.mu.Unlock()
			continue
		}
		delete(e.inflight, occurrenceID)
		e.mu.Unlock()
		return
	}
}

// Reconcile runs one synchronous pass and returns the action taken.
func (e *Engine) Reconcile(ctx context.Context, occurrenceID int64) (string, error) {
	if e.remote == nil {
		return ActionNoop, nil
	}

	occ, err := e.db.GetOccurrence(ctx, occurrenceID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return ActionNoop, err
	}

	state, stateErr := e.db.GetSyncState(ctx, occurrenceID)
	if stateErr != nil && !errors.Is(stateErr, database.ErrNotFound) {
		return ActionNoop, stateErr
	}

	gone := occ == nil || occ.DeletedAt != nil || occ.Status == models.OccurrenceCancelled
	if gone {
		if state == nil {
			return ActionNoop, nil
		}
		return e.retire(ctx, occurrenceID, state)
	}

	if !occ.Mirrored {
		return ActionNoop, nil
	}

	if state == nil {
		if err := e.db.EnsureSyncState(ctx, occurrenceID); err != nil {
			return ActionNoop, err
		}
		if state, err = e.db.GetSyncState(ctx, occurrenceID); err != nil {
			return ActionNoop, err
		}
	}

	hash := ContentHash(occ)
	// Snapshot the version before the remote call: an edit landing
	// mid-call bumps local_version and triggers another pass.
	version := state.LocalVersion

	if state.InSync(hash) {
		return ActionNoop, nil
	}

	if state.RemoteID != "" && state.ContentHash == hash {
		// Version bookkeeping drifted but the content did not; catch
		// the version up without a remote call.
		if err := e.db.MarkSynced(ctx, occurrenceID, state.RemoteID, version, hash, time.Now()); err != nil {
			return ActionNoop, err
		}
		return e.finish(ActionNoop, occurrenceID, state.RemoteID), nil
	}

	if state.RemoteID == "" {
		remoteID, err := e.remote.CreateRemoteEntity(ctx, occ)
		if err != nil {
			return ActionCreate, err
		}
		if err := e.db.MarkSynced(ctx, occurrenceID, remoteID, version, hash, time.Now()); err != nil {
			return ActionCreate, err
		}
		return e.finish(ActionCreate, occurrenceID, remoteID), nil
	}

	if err := e.remote.UpdateRemoteEntity(ctx, state.RemoteID, occ); err != nil {
		return ActionUpdate, err
	}
	if err := e.db.MarkSynced(ctx, occurrenceID, state.RemoteID, version, hash, time.Now()); err != nil {
		return ActionUpdate, err
	}
	return e.finish(ActionUpdate, occurrenceID, state.RemoteID), nil
}

// retire removes the remote entity of a deleted or cancelled
// occurrence, then drops the sync state so the delete fires exactly
// once.
func (e *Engine) retire(ctx context.Context, occurrenceID int64, state *models.SyncState) (string, error) {
	if state.RemoteID == "" {
		if err := e.db.DeleteSyncState(ctx, occurrenceID); err != nil {
			return ActionNoop, err
		}
		return ActionNoop, nil
	}

	if err := e.remote.DeleteRemoteEntity(ctx, state.RemoteID); err != nil {
		return ActionDelete, err
	}
	if err := e.db.DeleteSyncState(ctx, occurrenceID); err != nil {
		return ActionDelete, err
	}
	return e.finish(ActionDelete, occurrenceID, state.RemoteID), nil
}

// ResyncAll walks every tracked occurrence, catching up anything a
// crash or remote outage left behind. Wired to the periodic resync
// schedule.
func (e *Engine) ResyncAll(ctx context.Context) error {
	if e.remote == nil {
		return nil
	}

	ids, err := e.db.ListSyncedOccurrenceIDs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		e.EnqueueSync(ctx, id)
	}
	if len(ids) > 0 {
		e.logger.Debug().Int("tracked", len(ids)).Msg("resync pass enqueued")
	}
	return nil
}

func (e *Engine) finish(action string, occurrenceID int64, remoteID string) string {
	if e.metrics != nil {
		e.metrics.SyncOps.WithLabelValues(action).Inc()
	}
	_ = e.bus.PublishJSON(events.EventSyncCompleted, events.SyncEventPayload{
		OccurrenceID: occurrenceID,
		Action:       action,
		RemoteID:     remoteID,
	})
	return action
}
