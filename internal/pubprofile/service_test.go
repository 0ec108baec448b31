package pubprofile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type countingResolver struct {
	calls   int
	payload []byte
	err     error
}

func (r *countingResolver) Resolve(context.Context, string) ([]byte, error) {
	r.calls++
	return r.payload, r.err
}

func newTestService(resolver Resolver) *Service {
	clock := fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(memory.NewStore(), resolver, clock, nil)
}

func TestSuccessIsCachedForever(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{payload: []byte(`{"domain":"example.com"}`)}
	svc := newTestService(resolver)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		payload, err := svc.Profile(ctx, "https://example.com/story")
		require.NoError(t, err)
		require.JSONEq(t, `{"domain":"example.com"}`, string(payload))
	}
	require.Equal(t, 1, resolver.calls, "only the first call may resolve")
}

func TestFailureIsNeverCached(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{err: errors.New("no usable metadata")}
	svc := newTestService(resolver)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		payload, err := svc.Profile(ctx, "https://example.com/story")
		require.NoError(t, err, "resolution failure degrades, it does not propagate")
		require.Nil(t, payload)
	}
	require.Equal(t, 2, resolver.calls, "each failed lookup must retry")
}

func TestRecoveryAfterFailure(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{err: errors.New("site unreachable")}
	svc := newTestService(resolver)
	ctx := context.Background()

	payload, err := svc.Profile(ctx, "https://example.com/story")
	require.NoError(t, err)
	require.Nil(t, payload)

	// The site starts publishing metadata; the next call caches it.
	resolver.err = nil
	resolver.payload = []byte(`{"domain":"example.com"}`)

	payload, err = svc.Profile(ctx, "https://example.com/story")
	require.NoError(t, err)
	require.JSONEq(t, `{"domain":"example.com"}`, string(payload))

	payload, err = svc.Profile(ctx, "https://example.com/story")
	require.NoError(t, err)
	require.JSONEq(t, `{"domain":"example.com"}`, string(payload))
	require.Equal(t, 2, resolver.calls)
}

func TestDistinctURLsAreDistinctKeys(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{payload: []byte(`{"domain":"example.com"}`)}
	svc := newTestService(resolver)
	ctx := context.Background()

	// Keys are exact strings; no normalization is applied.
	_, err := svc.Profile(ctx, "https://example.com/story")
	require.NoError(t, err)
	_, err = svc.Profile(ctx, "https://example.com/story/")
	require.NoError(t, err)
	require.Equal(t, 2, resolver.calls)
}
