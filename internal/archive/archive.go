// Package archive defines the interface for archiving submitted article
// documents. Archival is best-effort: a failed save never affects the poll
// response, it is only logged by the caller.
package archive

import "context"

// Provider abstracts the operation of saving a document blob.
type Provider interface {
	// Save uploads data under the given object name.
	Save(ctx context.Context, objectName string, data []byte) error
}

// NoOpProvider discards documents. It is the default when archiving is not
// configured.
type NoOpProvider struct{}

// Save for NoOpProvider does nothing and always returns nil.
func (n *NoOpProvider) Save(_ context.Context, _ string, _ []byte) error {
	return nil
}
