package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/broker"
)

func TestClaimOnlyOneWinner(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	const attempts = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.TryClaimAnalysis(ctx, "key-1", now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if won {
				wins++
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	require.Equal(t, 1, wins)
}

func TestAnalysisStateTransitions(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.GetAnalysis(ctx, "key-1")
	require.ErrorIs(t, err, broker.ErrNotFound)

	won, err := store.TryClaimAnalysis(ctx, "key-1", now)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, store.SetAnalysisProgress(ctx, "key-1", "writing analysis", now))
	entry, err := store.GetAnalysis(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, broker.StateWaiting, entry.State)
	require.Equal(t, "writing analysis", entry.Progress)

	payload := []byte(`{"summary":"ok"}`)
	require.NoError(t, store.ResolveAnalysis(ctx, "key-1", payload, now))
	entry, err = store.GetAnalysis(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, broker.StateResolved, entry.State)
	require.Equal(t, payload, entry.Payload)
	require.Empty(t, entry.Progress)
}

func TestFailDeleteAndReclaim(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	won, err := store.TryClaimAnalysis(ctx, "key-1", now)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, store.FailAnalysis(ctx, "key-1", broker.StateRetriableError, now))
	entry, err := store.GetAnalysis(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, broker.StateRetriableError, entry.State)

	require.NoError(t, store.DeleteAnalysis(ctx, "key-1"))
	require.NoError(t, store.DeleteAnalysis(ctx, "key-1"))

	won, err = store.TryClaimAnalysis(ctx, "key-1", now)
	require.NoError(t, err)
	require.True(t, won)
}

func TestPublisherRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.GetPublisher(ctx, "pub-1")
	require.ErrorIs(t, err, broker.ErrNotFound)

	payload := []byte(`{"domain":"example.com"}`)
	require.NoError(t, store.PutPublisher(ctx, "pub-1", payload, now))

	entry, err := store.GetPublisher(ctx, "pub-1")
	require.NoError(t, err)
	require.Equal(t, payload, entry.Payload)
	require.Equal(t, now, entry.CreatedAt)
}
