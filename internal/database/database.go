// Package database persists occurrences, per-platform outcomes and
// remote sync state in sqlite. Every status transition goes through a
// compare-and-set UPDATE so concurrent workers cannot both claim the
// same work.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	db *sql.DB
}

func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite serializes writers; one writing connection avoids
	// SQLITE_BUSY churn under worker concurrency.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{db: db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS occurrences (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            group_id TEXT NOT NULL,
            title TEXT NOT NULL,
            body TEXT NOT NULL,
            content_type TEXT NOT NULL DEFAULT 'text',
            hashtags TEXT,
            mentions TEXT,
            media_files TEXT NOT NULL DEFAULT '[]',
            platforms TEXT NOT NULL DEFAULT '[]',
            scheduled_for DATETIME NOT NULL,
            ends_at DATETIME,
            status TEXT NOT NULL DEFAULT 'scheduled',
            status_reason TEXT,
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_retry_at DATETIME,
            next_retry_at DATETIME,
            max_retries INTEGER NOT NULL DEFAULT 5,
            job_ref TEXT,
            mirrored BOOLEAN NOT NULL DEFAULT 0,
            deleted_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS platform_outcomes (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurrence_id INTEGER NOT NULL,
            platform TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            idempotency_key TEXT,
            key_consumed BOOLEAN NOT NULL DEFAULT 0,
            published_at DATETIME,
            remote_id TEXT,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(occurrence_id, platform)
        )`,

		`CREATE TABLE IF NOT EXISTS sync_state (
            occurrence_id INTEGER PRIMARY KEY,
            remote_id TEXT,
            local_version INTEGER NOT NULL DEFAULT 1,
            remote_version INTEGER NOT NULL DEFAULT 0,
            content_hash TEXT,
            last_synced_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_occurrences_status ON occurrences(status)`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_scheduled_for ON occurrences(scheduled_for)`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_user_id ON occurrences(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_next_retry_at ON occurrences(next_retry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_occurrence_id ON platform_outcomes(occurrence_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

// encodeList stores string slices as JSON text columns.
func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(raw), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return values, nil
}
