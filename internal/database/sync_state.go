package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"streamcast/internal/models"
)

// EnsureSyncState creates the sync row for a mirrored occurrence if it
// does not exist yet, starting at local_version 1.
func (db *DB) EnsureSyncState(ctx context.Context, occurrenceID int64) error {
	query := `INSERT OR IGNORE INTO sync_state (occurrence_id, local_version, remote_version)
              VALUES (?, 1, 0)`
	if _, err := db.ExecContext(ctx, query, occurrenceID); err != nil {
		return fmt.Errorf("failed to ensure sync state for occurrence %d: %w", occurrenceID, err)
	}
	return nil
}

func (db *DB) GetSyncState(ctx context.Context, occurrenceID int64) (*models.SyncState, error) {
	query := `SELECT occurrence_id, remote_id, local_version, remote_version, content_hash, last_synced_at
              FROM sync_state WHERE occurrence_id = ?`

	var state models.SyncState
	var remoteID, hash sql.NullString
	err := db.QueryRowContext(ctx, query, occurrenceID).Scan(
		&state.OccurrenceID, &remoteID, &state.LocalVersion, &state.RemoteVersion,
		&hash, &state.LastSyncedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync state for occurrence %d: %w", occurrenceID, err)
	}

	state.RemoteID = remoteID.String
	state.ContentHash = hash.String
	return &state, nil
}

// BumpLocalVersion increments the local version on a sync-relevant
// edit. The increment runs in SQL so concurrent edits never lose a
// bump.
func (db *DB) BumpLocalVersion(ctx context.Context, occurrenceID int64) error {
	if err := db.EnsureSyncState(ctx, occurrenceID); err != nil {
		return err
	}
	query := `UPDATE sync_state SET local_version = local_version + 1 WHERE occurrence_id = ?`
	if _, err := db.ExecContext(ctx, query, occurrenceID); err != nil {
		return fmt.Errorf("failed to bump local version for occurrence %d: %w", occurrenceID, err)
	}
	return nil
}

// MarkSynced records a successful push: the remote now reflects the
// given local version and content hash.
func (db *DB) MarkSynced(ctx context.Context, occurrenceID int64, remoteID string, version int64, hash string, at time.Time) error {
	query := `UPDATE sync_state SET remote_id = ?, remote_version = ?, content_hash = ?, last_synced_at = ?
              WHERE occurrence_id = ?`
	result, err := db.ExecContext(ctx, query, remoteID, version, hash, at, occurrenceID)
	if err != nil {
		return fmt.Errorf("failed to mark occurrence %d synced: %w", occurrenceID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSyncState hard-removes local sync state after the remote
// entity has been deleted.
func (db *DB) DeleteSyncState(ctx context.Context, occurrenceID int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sync_state WHERE occurrence_id = ?`, occurrenceID); err != nil {
		return fmt.Errorf("failed to delete sync state for occurrence %d: %w", occurrenceID, err)
	}
	return nil
}

// ListSyncedOccurrenceIDs returns the ids of all occurrences with sync
// state, for the periodic re-sync pass.
func (db *DB) ListSyncedOccurrenceIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT occurrence_id FROM sync_state ORDER BY occurrence_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list synced occurrences: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan synced occurrence id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
