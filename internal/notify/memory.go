package notify

import (
	"context"
	"sync"
)

// MemoryProvider records completions in memory for tests and local runs.
type MemoryProvider struct {
	mu          sync.Mutex
	completions []Completion
}

// NewMemoryProvider constructs a MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{}
}

// Publish appends the completion to the in-memory record.
func (m *MemoryProvider) Publish(_ context.Context, completion Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, completion)
	return nil
}

// Completions returns a copy of everything published so far.
func (m *MemoryProvider) Completions() []Completion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Completion, len(m.completions))
	copy(out, m.completions)
	return out
}

// Close does nothing.
func (m *MemoryProvider) Close() error { return nil }
