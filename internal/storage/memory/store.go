// Package memory provides an in-memory store implementation for tests and
// local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/broker"
)

// Store keeps both cache tables in maps guarded by one mutex. The mutex makes
// TryClaimAnalysis atomic, matching the insert-if-absent contract of the
// durable stores.
type Store struct {
	mu         sync.RWMutex
	analyses   map[string]broker.AnalysisEntry
	publishers map[string]broker.PublisherEntry
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		analyses:   make(map[string]broker.AnalysisEntry),
		publishers: make(map[string]broker.PublisherEntry),
	}
}

// GetAnalysis fetches an analysis row by key.
func (s *Store) GetAnalysis(_ context.Context, key string) (broker.AnalysisEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.analyses[key]
	if !ok {
		return broker.AnalysisEntry{}, broker.ErrNotFound
	}
	return entry, nil
}

// TryClaimAnalysis inserts a waiting row unless the key exists.
func (s *Store) TryClaimAnalysis(_ context.Context, key string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.analyses[key]; exists {
		return false, nil
	}
	s.analyses[key] = broker.AnalysisEntry{
		Key:       key,
		State:     broker.StateWaiting,
		CreatedAt: at,
		UpdatedAt: at,
	}
	return true, nil
}

// SetAnalysisProgress overwrites the progress note of an existing row.
func (s *Store) SetAnalysisProgress(_ context.Context, key, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.analyses[key]
	if !ok {
		return broker.ErrNotFound
	}
	entry.Progress = note
	entry.UpdatedAt = at
	s.analyses[key] = entry
	return nil
}

// ResolveAnalysis marks the row resolved with its payload.
func (s *Store) ResolveAnalysis(_ context.Context, key string, payload []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.analyses[key]
	if !ok {
		return broker.ErrNotFound
	}
	entry.State = broker.StateResolved
	entry.Payload = append([]byte(nil), payload...)
	entry.Progress = ""
	entry.UpdatedAt = at
	s.analyses[key] = entry
	return nil
}

// FailAnalysis marks the row with a terminal or retriable error state.
func (s *Store) FailAnalysis(_ context.Context, key string, state broker.State, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.analyses[key]
	if !ok {
		return broker.ErrNotFound
	}
	entry.State = state
	entry.Payload = nil
	entry.UpdatedAt = at
	s.analyses[key] = entry
	return nil
}

// DeleteAnalysis removes the row. Deleting an absent key is a no-op.
func (s *Store) DeleteAnalysis(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.analyses, key)
	return nil
}

// GetPublisher fetches a publisher profile row by key.
func (s *Store) GetPublisher(_ context.Context, key string) (broker.PublisherEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.publishers[key]
	if !ok {
		return broker.PublisherEntry{}, broker.ErrNotFound
	}
	return entry, nil
}

// PutPublisher upserts a publisher profile row.
func (s *Store) PutPublisher(_ context.Context, key string, payload []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers[key] = broker.PublisherEntry{
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: at,
	}
	return nil
}

// Close implements the provider contract; nothing to release.
func (s *Store) Close() error { return nil }
