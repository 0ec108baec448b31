// Package postgres provides the shared-server store implementation backed by
// a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/broker"
)

// pool is the subset of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool through NewStoreWithPool.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists both cache tables in Postgres. The claim operation uses
// ON CONFLICT DO NOTHING against the primary key, so concurrent claims for
// the same key resolve to exactly one winner.
type Store struct {
	pool pool
}

// Open connects a pool for the given DSN, verifies connectivity, and
// ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	store := &Store{pool: p}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool wraps an existing pool without schema setup.
func NewStoreWithPool(p pool) *Store {
	return &Store{pool: p}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS publisher_profiles (
			key        TEXT PRIMARY KEY,
			payload    BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS analysis_jobs (
			key        TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			payload    BYTEA,
			progress   TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// GetAnalysis loads an analysis row or returns broker.ErrNotFound.
func (s *Store) GetAnalysis(ctx context.Context, key string) (broker.AnalysisEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, state, payload, COALESCE(progress, ''), created_at, updated_at
		 FROM analysis_jobs WHERE key = $1`, key)

	var (
		entry broker.AnalysisEntry
		state string
	)
	err := row.Scan(&entry.Key, &state, &entry.Payload, &entry.Progress, &entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return broker.AnalysisEntry{}, broker.ErrNotFound
	}
	if err != nil {
		return broker.AnalysisEntry{}, fmt.Errorf("scan analysis row: %w", err)
	}
	entry.State = broker.State(state)
	return entry, nil
}

// TryClaimAnalysis atomically inserts a waiting row unless the key exists,
// reporting whether this call created it.
func (s *Store) TryClaimAnalysis(ctx context.Context, key string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (key, state, payload, progress, created_at, updated_at)
		 VALUES ($1, $2, NULL, NULL, $3, $3)
		 ON CONFLICT (key) DO NOTHING`,
		key, string(broker.StateWaiting), at.UTC())
	if err != nil {
		return false, fmt.Errorf("claim analysis row: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetAnalysisProgress overwrites the progress note of an existing row.
func (s *Store) SetAnalysisProgress(ctx context.Context, key, note string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET progress = $1, updated_at = $2 WHERE key = $3`,
		note, at.UTC(), key)
	if err != nil {
		return fmt.Errorf("update analysis progress: %w", err)
	}
	return nil
}

// ResolveAnalysis transitions the row to resolved with its payload.
func (s *Store) ResolveAnalysis(ctx context.Context, key string, payload []byte, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET state = $1, payload = $2, progress = NULL, updated_at = $3 WHERE key = $4`,
		string(broker.StateResolved), payload, at.UTC(), key)
	if err != nil {
		return fmt.Errorf("resolve analysis row: %w", err)
	}
	return nil
}

// FailAnalysis transitions the row to the given error state.
func (s *Store) FailAnalysis(ctx context.Context, key string, state broker.State, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET state = $1, payload = NULL, updated_at = $2 WHERE key = $3`,
		string(state), at.UTC(), key)
	if err != nil {
		return fmt.Errorf("fail analysis row: %w", err)
	}
	return nil
}

// DeleteAnalysis removes the row; absent keys are a no-op.
func (s *Store) DeleteAnalysis(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM analysis_jobs WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete analysis row: %w", err)
	}
	return nil
}

// GetPublisher loads a publisher profile row or returns broker.ErrNotFound.
func (s *Store) GetPublisher(ctx context.Context, key string) (broker.PublisherEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, payload, created_at FROM publisher_profiles WHERE key = $1`, key)

	var entry broker.PublisherEntry
	err := row.Scan(&entry.Key, &entry.Payload, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return broker.PublisherEntry{}, broker.ErrNotFound
	}
	if err != nil {
		return broker.PublisherEntry{}, fmt.Errorf("scan publisher row: %w", err)
	}
	return entry, nil
}

// PutPublisher upserts a publisher profile row.
func (s *Store) PutPublisher(ctx context.Context, key string, payload []byte, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO publisher_profiles (key, payload, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload`,
		key, payload, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert publisher row: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
