// Package broker declares the domain types and persistence interfaces for the
// analysis request broker. Implementations live in internal/storage; this
// package must not import database drivers or concrete clients.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested cache row does not exist.
var ErrNotFound = errors.New("cache entry not found")

// State is the lifecycle state of an analysis job row.
type State string

// Analysis job states persisted in analysis_jobs.state.
const (
	// StateWaiting marks a claimed key whose upstream invocation has not
	// settled yet.
	StateWaiting State = "waiting"
	// StateResolved marks a completed analysis; terminal, the payload is
	// cached indefinitely.
	StateResolved State = "resolved"
	// StateRetriableError marks a transient upstream failure. The next
	// reader deletes the row so a later request can reclaim the key.
	StateRetriableError State = "retriable_error"
	// StatePermanentError marks a non-transient failure; terminal.
	StatePermanentError State = "permanent_error"
)

// AnalysisEntry is one analysis job row, keyed by the raw URL string.
type AnalysisEntry struct {
	// Key is the URL exactly as the client sent it. No normalization is
	// applied; two spellings of the same page are two rows.
	Key string
	// State is the current lifecycle state.
	State State
	// Payload holds the analysis document, present only when State is
	// StateResolved.
	Payload []byte
	// Progress is the latest human-readable status note written while the
	// row was waiting.
	Progress string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublisherEntry caches one successfully resolved publisher profile.
type PublisherEntry struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// AnalysisRepository persists analysis job rows.
type AnalysisRepository interface {
	// GetAnalysis loads a row or returns ErrNotFound.
	GetAnalysis(ctx context.Context, key string) (AnalysisEntry, error)
	// TryClaimAnalysis inserts a waiting row unless the key already exists.
	// It reports whether this call created the row. The insert must be
	// atomic: under concurrent calls for the same absent key exactly one
	// caller observes true.
	TryClaimAnalysis(ctx context.Context, key string, at time.Time) (bool, error)
	// SetAnalysisProgress overwrites the progress note of an existing row.
	SetAnalysisProgress(ctx context.Context, key, note string, at time.Time) error
	// ResolveAnalysis transitions the row to StateResolved with the payload.
	ResolveAnalysis(ctx context.Context, key string, payload []byte, at time.Time) error
	// FailAnalysis transitions the row to StateRetriableError or
	// StatePermanentError.
	FailAnalysis(ctx context.Context, key string, state State, at time.Time) error
	// DeleteAnalysis removes the row; deleting an absent key is not an error.
	DeleteAnalysis(ctx context.Context, key string) error
}

// PublisherRepository persists publisher profile rows.
type PublisherRepository interface {
	// GetPublisher loads a cached profile or returns ErrNotFound.
	GetPublisher(ctx context.Context, key string) (PublisherEntry, error)
	// PutPublisher upserts the profile payload for a key.
	PutPublisher(ctx context.Context, key string, payload []byte, at time.Time) error
}

// Clock supplies row timestamps; a fixed clock is injected in tests.
type Clock interface {
	Now() time.Time
}
