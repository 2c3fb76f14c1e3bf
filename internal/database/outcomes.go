package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"streamcast/internal/models"
)

// CreateOutcome inserts the pending outcome row for one (occurrence,
// platform) pair. The unique index makes duplicate creation a no-op at
// the caller's level.
func (db *DB) CreateOutcome(ctx context.Context, outcome *models.PlatformOutcome) error {
	now := time.Now()
	query := `INSERT INTO platform_outcomes (occurrence_id, platform, status, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		outcome.OccurrenceID, outcome.Platform, outcome.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to create outcome for occurrence %d platform %s: %w",
			outcome.OccurrenceID, outcome.Platform, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	outcome.ID = id
	outcome.CreatedAt = now
	outcome.UpdatedAt = now
	return nil
}

func (db *DB) GetOutcome(ctx context.Context, occurrenceID int64, platform string) (*models.PlatformOutcome, error) {
	query := `SELECT id, occurrence_id, platform, status, idempotency_key, key_consumed,
              published_at, remote_id, last_error, created_at, updated_at
              FROM platform_outcomes WHERE occurrence_id = ? AND platform = ?`
	outcome, err := scanOutcome(db.QueryRowContext(ctx, query, occurrenceID, platform))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get outcome for occurrence %d platform %s: %w",
			occurrenceID, platform, err)
	}
	return outcome, nil
}

func (db *DB) ListOutcomes(ctx context.Context, occurrenceID int64) ([]models.PlatformOutcome, error) {
	query := `SELECT id, occurrence_id, platform, status, idempotency_key, key_consumed,
              published_at, remote_id, last_error, created_at, updated_at
              FROM platform_outcomes WHERE occurrence_id = ? ORDER BY platform ASC`
	rows, err := db.QueryContext(ctx, query, occurrenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes for occurrence %d: %w", occurrenceID, err)
	}
	defer rows.Close()

	var outcomes []models.PlatformOutcome
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, *outcome)
	}
	return outcomes, rows.Err()
}

// MintIdempotencyKey stores the candidate key for the pair unless one
// already exists, and returns the key that is actually on record. The
// conditional UPDATE makes minting atomic: of two concurrent workers,
// exactly one writes its key and the other reads the winner's.
func (db *DB) MintIdempotencyKey(ctx context.Context, occurrenceID int64, platform, candidate string) (string, error) {
	query := `UPDATE platform_outcomes SET idempotency_key = ?, updated_at = ?
              WHERE occurrence_id = ? AND platform = ? AND idempotency_key IS NULL`
	result, err := db.ExecContext(ctx, query, candidate, time.Now(), occurrenceID, platform)
	if err != nil {
		return "", fmt.Errorf("failed to mint idempotency key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 1 {
		return candidate, nil
	}

	outcome, err := db.GetOutcome(ctx, occurrenceID, platform)
	if err != nil {
		return "", err
	}
	if outcome.IdempotencyKey == "" {
		return "", fmt.Errorf("idempotency key mint lost race but no key on record for occurrence %d platform %s",
			occurrenceID, platform)
	}
	return outcome.IdempotencyKey, nil
}

// MarkOutcomePublished records a successful platform publish and
// marks the idempotency key consumed. Idempotent: re-marking an
// already-published outcome keeps the original published_at.
func (db *DB) MarkOutcomePublished(ctx context.Context, occurrenceID int64, platform, remoteID string, publishedAt time.Time) error {
	query := `UPDATE platform_outcomes SET status = ?, key_consumed = 1, remote_id = ?,
              published_at = COALESCE(published_at, ?), last_error = NULL, updated_at = ?
              WHERE occurrence_id = ? AND platform = ?`
	_, err := db.ExecContext(ctx, query,
		models.OutcomePublished, remoteID, publishedAt, time.Now(), occurrenceID, platform)
	if err != nil {
		return fmt.Errorf("failed to mark outcome published: %w", err)
	}
	return nil
}

// MarkOutcomeFailed records a failed attempt. Retryable failures leave
// the outcome in retrying; permanent ones in failed. Published outcomes
// are never downgraded.
func (db *DB) MarkOutcomeFailed(ctx context.Context, occurrenceID int64, platform, errMsg string, retryable bool) error {
	status := models.OutcomeFailed
	if retryable {
		status = models.OutcomeRetrying
	}
	query := `UPDATE platform_outcomes SET status = ?, last_error = ?, updated_at = ?
              WHERE occurrence_id = ? AND platform = ? AND status != ?`
	_, err := db.ExecContext(ctx, query,
		status, errMsg, time.Now(), occurrenceID, platform, models.OutcomePublished)
	if err != nil {
		return fmt.Errorf("failed to mark outcome failed: %w", err)
	}
	return nil
}

// ResetOutcomeKey clears an unconsumed idempotency key so the next
// attempt mints a fresh one. Consumed keys are never cleared.
func (db *DB) ResetOutcomeKey(ctx context.Context, occurrenceID int64, platform string) error {
	query := `UPDATE platform_outcomes SET idempotency_key = NULL, updated_at = ?
              WHERE occurrence_id = ? AND platform = ? AND key_consumed = 0`
	_, err := db.ExecContext(ctx, query, time.Now(), occurrenceID, platform)
	if err != nil {
		return fmt.Errorf("failed to reset outcome key: %w", err)
	}
	return nil
}

func scanOutcome(row rowScanner) (*models.PlatformOutcome, error) {
	var outcome models.PlatformOutcome
	var key, remoteID sql.NullString

	err := row.Scan(
		&outcome.ID, &outcome.OccurrenceID, &outcome.Platform, &outcome.Status,
		&key, &outcome.KeyConsumed, &outcome.PublishedAt, &remoteID,
		&outcome.LastError, &outcome.CreatedAt, &outcome.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	outcome.IdempotencyKey = key.String
	outcome.RemoteID = remoteID.String
	return &outcome, nil
}
