// Package notify defines the interface for publishing analysis completion
// notifications. This abstraction keeps the broker independent of a specific
// messaging system (e.g., GCP Pub/Sub).
package notify

import "context"

// Completion describes one settled analysis.
type Completion struct {
	// URL is the cache key whose analysis settled.
	URL string `json:"url"`
	// Outcome is resolved, retriable_error, or permanent_error.
	Outcome string `json:"outcome"`
}

// Provider publishes completion notifications.
type Provider interface {
	// Publish sends a completion notification. Implementations should be
	// fire-and-forget; the broker never blocks a poll on notification
	// delivery.
	Publish(ctx context.Context, completion Completion) error

	// Close cleans up any client connections and resources.
	Close() error
}

// NoOpProvider is a notification provider that performs no operations. It is
// the default when no messaging system is configured.
type NoOpProvider struct{}

// Publish for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) Publish(_ context.Context, _ Completion) error { return nil }

// Close for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) Close() error { return nil }
