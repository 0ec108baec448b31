// Package sqlite provides the embedded store implementation backed by
// modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // database/sql driver

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/broker"
)

// timeLayout is the canonical timestamp encoding for both tables.
const timeLayout = time.RFC3339Nano

// Config controls how the database file is opened.
type Config struct {
	// Path is the database file location (":memory:" for tests).
	Path string
	// BusyTimeoutMS is PRAGMA busy_timeout; defaults to 10000.
	BusyTimeoutMS int
}

// Store persists both cache tables in a single SQLite file. The claim
// operation relies on the primary key plus INSERT OR IGNORE, which SQLite
// serializes, so concurrent claims for the same key resolve to exactly one
// winner.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database, applies the production
// pragmas, and runs pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = 10_000
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d;", cfg.BusyTimeoutMS),
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			closeQuietly(db)
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		closeQuietly(db)
		return nil, err
	}
	return &Store{db: db}, nil
}

func closeQuietly(db *sql.DB) {
	_ = db.Close()
}

// migrations are applied in order, each exactly once, tracked by the
// schema_version table. New schema changes append a statement list here;
// existing entries are immutable.
var migrations = [][]string{
	{
		`CREATE TABLE publisher_profiles (
			key        TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE analysis_jobs (
			key        TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			payload    BLOB,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	},
	{
		`ALTER TABLE analysis_jobs ADD COLUMN progress TEXT`,
	},
}

// migrate brings the schema up to date. Each migration runs in its own
// transaction together with the version bump, so a crash mid-migration
// leaves a cleanly resumable state.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("seed schema_version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	for next := version; next < len(migrations); next++ {
		if err := applyMigration(ctx, db, next); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, index int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", index+1, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range migrations[index] {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", index+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, index+1); err != nil {
		return fmt.Errorf("bump schema version to %d: %w", index+1, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", index+1, err)
	}
	return nil
}

// GetAnalysis loads an analysis row or returns broker.ErrNotFound.
func (s *Store) GetAnalysis(ctx context.Context, key string) (broker.AnalysisEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, state, payload, progress, created_at, updated_at
		 FROM analysis_jobs WHERE key = ?`, key)

	var (
		entry     broker.AnalysisEntry
		state     string
		progress  sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&entry.Key, &state, &entry.Payload, &progress, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return broker.AnalysisEntry{}, broker.ErrNotFound
	}
	if err != nil {
		return broker.AnalysisEntry{}, fmt.Errorf("scan analysis row: %w", err)
	}
	entry.State = broker.State(state)
	entry.Progress = progress.String
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return broker.AnalysisEntry{}, err
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return broker.AnalysisEntry{}, err
	}
	return entry, nil
}

// TryClaimAnalysis atomically inserts a waiting row unless the key exists,
// reporting whether this call created it.
func (s *Store) TryClaimAnalysis(ctx context.Context, key string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO analysis_jobs (key, state, payload, progress, created_at, updated_at)
		 VALUES (?, ?, NULL, NULL, ?, ?)`,
		key, string(broker.StateWaiting), formatTime(at), formatTime(at))
	if err != nil {
		return false, fmt.Errorf("claim analysis row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected: %w", err)
	}
	return n == 1, nil
}

// SetAnalysisProgress overwrites the progress note of an existing row.
func (s *Store) SetAnalysisProgress(ctx context.Context, key, note string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET progress = ?, updated_at = ? WHERE key = ?`,
		note, formatTime(at), key)
	if err != nil {
		return fmt.Errorf("update analysis progress: %w", err)
	}
	return nil
}

// ResolveAnalysis transitions the row to resolved with its payload. The
// write is authoritative: it also clears any progress note still present.
func (s *Store) ResolveAnalysis(ctx context.Context, key string, payload []byte, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET state = ?, payload = ?, progress = NULL, updated_at = ? WHERE key = ?`,
		string(broker.StateResolved), payload, formatTime(at), key)
	if err != nil {
		return fmt.Errorf("resolve analysis row: %w", err)
	}
	return nil
}

// FailAnalysis transitions the row to the given error state.
func (s *Store) FailAnalysis(ctx context.Context, key string, state broker.State, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET state = ?, payload = NULL, updated_at = ? WHERE key = ?`,
		string(state), formatTime(at), key)
	if err != nil {
		return fmt.Errorf("fail analysis row: %w", err)
	}
	return nil
}

// DeleteAnalysis removes the row; absent keys are a no-op.
func (s *Store) DeleteAnalysis(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM analysis_jobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete analysis row: %w", err)
	}
	return nil
}

// GetPublisher loads a publisher profile row or returns broker.ErrNotFound.
func (s *Store) GetPublisher(ctx context.Context, key string) (broker.PublisherEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, payload, created_at FROM publisher_profiles WHERE key = ?`, key)

	var (
		entry     broker.PublisherEntry
		createdAt string
	)
	err := row.Scan(&entry.Key, &entry.Payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return broker.PublisherEntry{}, broker.ErrNotFound
	}
	if err != nil {
		return broker.PublisherEntry{}, fmt.Errorf("scan publisher row: %w", err)
	}
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return broker.PublisherEntry{}, err
	}
	return entry, nil
}

// PutPublisher upserts a publisher profile row.
func (s *Store) PutPublisher(ctx context.Context, key string, payload []byte, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publisher_profiles (key, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload`,
		key, payload, formatTime(at))
	if err != nil {
		return fmt.Errorf("upsert publisher row: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite database: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", raw, err)
	}
	return t, nil
}
