package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"streamcast/internal/models"
)

var ErrNotFound = errors.New("not found")

const occurrenceColumns = `id, user_id, group_id, title, body, content_type, hashtags, mentions,
        media_files, platforms, scheduled_for, ends_at, status, status_reason, retry_count,
        last_retry_at, next_retry_at, max_retries, job_ref, mirrored, deleted_at, created_at, updated_at`

func (db *DB) CreateOccurrence(ctx context.Context, occ *models.Occurrence) error {
	media, err := encodeList(occ.MediaFiles)
	if err != nil {
		return err
	}
	platforms, err := encodeList(occ.Platforms)
	if err != nil {
		return err
	}

	now := time.Now()
	query := `INSERT INTO occurrences (user_id, group_id, title, body, content_type, hashtags, mentions,
              media_files, platforms, scheduled_for, ends_at, status, status_reason, retry_count,
              max_retries, mirrored, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		occ.UserID, occ.GroupID, occ.Title, occ.Body, occ.ContentType, occ.Hashtags, occ.Mentions,
		media, platforms, occ.ScheduledFor, occ.EndsAt, occ.Status, occ.StatusReason, occ.RetryCount,
		occ.MaxRetries, occ.Mirrored, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create occurrence: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	occ.ID = id
	occ.CreatedAt = now
	occ.UpdatedAt = now
	return nil
}

func (db *DB) GetOccurrence(ctx context.Context, id int64) (*models.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences WHERE id = ?`
	occ, err := scanOccurrence(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get occurrence %d: %w", id, err)
	}
	return occ, nil
}

func (db *DB) ListOccurrencesByUser(ctx context.Context, userID int64) ([]models.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences
              WHERE user_id = ? AND deleted_at IS NULL ORDER BY scheduled_for DESC`
	return db.queryOccurrences(ctx, query, userID)
}

// SelectDueWork returns occurrences eligible for a publish attempt:
// scheduled occurrences whose time has passed, queued occurrences
// (crash recovery), and retrying occurrences whose backoff has elapsed.
// Soft-deleted rows are excluded; the result is bounded and ordered by
// scheduled_for ascending so backlog ticks stay cheap.
func (db *DB) SelectDueWork(ctx context.Context, now time.Time, limit int) ([]models.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences
              WHERE deleted_at IS NULL AND (
                  (status = ? AND scheduled_for <= ?)
                  OR status = ?
                  OR (status = ? AND (last_retry_at IS NULL OR next_retry_at <= ?))
              )
              ORDER BY scheduled_for ASC LIMIT ?`
	return db.queryOccurrences(ctx, query,
		models.OccurrenceScheduled, now,
		models.OccurrenceQueued,
		models.OccurrenceRetrying, now,
		limit,
	)
}

// TransitionStatus moves an occurrence from one of the given statuses
// to another atomically. Returns false when the occurrence was not in
// an eligible status (someone else won the race, or it was cancelled
// or soft-deleted in the meantime).
func (db *DB) TransitionStatus(ctx context.Context, id int64, from []string, to, reason string) (bool, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	query := `UPDATE occurrences SET status = ?, status_reason = ?, updated_at = ?
              WHERE id = ? AND deleted_at IS NULL AND status IN (` + placeholders + `)`

	args := []interface{}{to, reason, time.Now(), id}
	for _, s := range from {
		args = append(args, s)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition occurrence %d to %s: %w", id, to, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkRetrying re-arms a queued or failed occurrence for another pass,
// bumping the retry counter and recording when the backoff elapses.
func (db *DB) MarkRetrying(ctx context.Context, id int64, reason string, lastRetryAt, nextRetryAt time.Time) (bool, error) {
	query := `UPDATE occurrences SET status = ?, status_reason = ?, retry_count = retry_count + 1,
              last_retry_at = ?, next_retry_at = ?, updated_at = ?
              WHERE id = ? AND deleted_at IS NULL AND status IN (?, ?) AND retry_count < max_retries`
	result, err := db.ExecContext(ctx, query,
		models.OccurrenceRetrying, reason, lastRetryAt, nextRetryAt, time.Now(),
		id, models.OccurrenceQueued, models.OccurrenceFailed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark occurrence %d retrying: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SetJobRef records the dispatch queue's handle for a queued job so a
// later cancel can remove it.
func (db *DB) SetJobRef(ctx context.Context, id int64, ref string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE occurrences SET job_ref = ?, updated_at = ? WHERE id = ?`,
		ref, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set job ref for occurrence %d: %w", id, err)
	}
	return nil
}

// UpdateOccurrenceContent applies a user edit to the content fields.
// Status and retry bookkeeping are untouched; the caller bumps the sync
// version for mirrored occurrences.
func (db *DB) UpdateOccurrenceContent(ctx context.Context, occ *models.Occurrence) error {
	media, err := encodeList(occ.MediaFiles)
	if err != nil {
		return err
	}
	platforms, err := encodeList(occ.Platforms)
	if err != nil {
		return err
	}

	query := `UPDATE occurrences SET title = ?, body = ?, content_type = ?, hashtags = ?, mentions = ?,
              media_files = ?, platforms = ?, scheduled_for = ?, ends_at = ?, updated_at = ?
              WHERE id = ? AND deleted_at IS NULL`
	result, err := db.ExecContext(ctx, query,
		occ.Title, occ.Body, occ.ContentType, occ.Hashtags, occ.Mentions,
		media, platforms, occ.ScheduledFor, occ.EndsAt, time.Now(), occ.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update occurrence %d: %w", occ.ID, err)
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

// SoftDelete tombstones an occurrence. It stays in the table so the
// sync engine can still issue a remote deletion, but is excluded from
// all future selection.
func (db *DB) SoftDelete(ctx context.Context, id int64) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE occurrences SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now(), time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to soft-delete occurrence %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// QueueStats aggregates occurrence counts for the stats endpoint.
type QueueStats struct {
	Pending   int64 `json:"pending"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (db *DB) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM occurrences WHERE deleted_at IS NULL GROUP BY status`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch status {
		case models.OccurrenceScheduled, models.OccurrenceRetrying:
			stats.Pending += count
		case models.OccurrenceQueued:
			stats.Active += count
		case models.OccurrencePublished:
			stats.Completed += count
		case models.OccurrenceFailed:
			stats.Failed += count
		}
	}
	return stats, rows.Err()
}

// ListPublishedBetween returns published occurrences in a date range,
// used by the history export.
func (db *DB) ListPublishedBetween(ctx context.Context, from, to time.Time) ([]models.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences
              WHERE status = ? AND scheduled_for >= ? AND scheduled_for < ?
              ORDER BY scheduled_for ASC`
	return db.queryOccurrences(ctx, query, models.OccurrencePublished, from, to)
}

func (db *DB) queryOccurrences(ctx context.Context, query string, args ...interface{}) ([]models.Occurrence, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query occurrences: %w", err)
	}
	defer rows.Close()

	var occurrences []models.Occurrence
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}
		occurrences = append(occurrences, *occ)
	}
	return occurrences, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOccurrence(row rowScanner) (*models.Occurrence, error) {
	var occ models.Occurrence
	var media, platforms string
	var statusReason, jobRef sql.NullString

	err := row.Scan(
		&occ.ID, &occ.UserID, &occ.GroupID, &occ.Title, &occ.Body, &occ.ContentType,
		&occ.Hashtags, &occ.Mentions, &media, &platforms, &occ.ScheduledFor, &occ.EndsAt,
		&occ.Status, &statusReason, &occ.RetryCount, &occ.LastRetryAt, &occ.NextRetryAt,
		&occ.MaxRetries, &jobRef, &occ.Mirrored, &occ.DeletedAt, &occ.CreatedAt, &occ.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	occ.StatusReason = statusReason.String
	occ.JobRef = jobRef.String

	if occ.MediaFiles, err = decodeList(media); err != nil {
		return nil, err
	}
	if occ.Platforms, err = decodeList(platforms); err != nil {
		return nil, err
	}
	return &occ, nil
}
