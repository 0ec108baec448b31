// Package pubprofile implements the publisher profile lookup cache: resolve a
// URL's site once, remember the result forever, never remember failures.
package pubprofile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/broker"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/metrics"
)

// Resolver performs the external publisher lookup for a URL that has no
// cached profile yet.
type Resolver interface {
	// Resolve returns the profile payload for the URL's site, or an error
	// when no profile could be produced.
	Resolve(ctx context.Context, rawURL string) ([]byte, error)
}

// Service is the memoize-on-first-success cache over one Resolver.
type Service struct {
	repo     broker.PublisherRepository
	resolver Resolver
	clock    broker.Clock
	logger   *zap.Logger
}

// New constructs a Service.
func New(repo broker.PublisherRepository, resolver Resolver, clock broker.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, resolver: resolver, clock: clock, logger: logger}
}

// Profile returns the cached profile payload for the URL, resolving and
// caching it on first success. A failed resolution degrades to a nil payload
// without caching anything, so every later request for an unresolvable URL
// attempts the lookup again. Only store read/write failures are reported as
// errors.
func (s *Service) Profile(ctx context.Context, rawURL string) ([]byte, error) {
	entry, err := s.repo.GetPublisher(ctx, rawURL)
	switch {
	case err == nil:
		metrics.ObservePublisherLookup("hit")
		return entry.Payload, nil
	case errors.Is(err, broker.ErrNotFound):
	default:
		return nil, fmt.Errorf("load publisher row: %w", err)
	}

	payload, err := s.resolver.Resolve(ctx, rawURL)
	if err != nil {
		// Failures are never memoized: the site may publish usable
		// metadata tomorrow.
		metrics.ObservePublisherLookup("unresolved")
		s.logger.Warn("publisher resolution failed", zap.String("url", rawURL), zap.Error(err))
		return nil, nil
	}

	if err := s.repo.PutPublisher(ctx, rawURL, payload, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("store publisher profile: %w", err)
	}
	metrics.ObservePublisherLookup("miss")
	return payload, nil
}
