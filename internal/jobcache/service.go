// Package jobcache implements the per-URL analysis job state machine:
// claiming fresh keys, relaying progress from the upstream invocation into
// the store, and serving poll reads against whatever state the row is in.
package jobcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/archive"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/broker"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/hash/sha256"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/metrics"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/notify"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/upstream"
)

// writeTimeout bounds the detached goroutine's individual store writes. The
// invocation itself is never subject to a timeout.
const writeTimeout = 10 * time.Second

// Wire-level error strings surfaced to pollers.
const (
	ErrorOverloaded = "overloaded"
	ErrorFailed     = "failed"
)

// PollResult is what a single poll observes.
type PollResult struct {
	// Ready is true only for terminal states (Resolved, PermanentError).
	Ready bool
	// Payload is the analysis document; set only when the row is resolved.
	Payload []byte
	// Progress is the latest status note of a waiting row, if any.
	Progress string
	// Error is "", ErrorOverloaded, or ErrorFailed.
	Error string
}

// Config carries the optional collaborators of the Service.
type Config struct {
	// Archive receives the submitted document text of newly claimed keys.
	Archive archive.Provider
	// Notifier is told about every settled invocation.
	Notifier notify.Provider
	// BaseContext parents the detached invocation work so it survives the
	// originating HTTP request. Defaults to context.Background().
	BaseContext context.Context
	Logger      *zap.Logger
}

// Service coordinates the analysis job cache. It is safe for concurrent use;
// the store's atomic insert-if-absent is the only synchronization primitive
// involved, so two Services sharing a store would still start at most one
// invocation per key.
type Service struct {
	repo     broker.AnalysisRepository
	invoker  upstream.Invoker
	clock    broker.Clock
	archive  archive.Provider
	notifier notify.Provider
	baseCtx  context.Context
	hasher   *sha256.Hasher
	logger   *zap.Logger
}

// New constructs a Service.
func New(repo broker.AnalysisRepository, invoker upstream.Invoker, clock broker.Clock, cfg Config) *Service {
	if cfg.Archive == nil {
		cfg.Archive = &archive.NoOpProvider{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = &notify.NoOpProvider{}
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		invoker:  invoker,
		clock:    clock,
		archive:  cfg.Archive,
		notifier: cfg.Notifier,
		baseCtx:  cfg.BaseContext,
		hasher:   sha256.New(),
		logger:   cfg.Logger,
	}
}

// PollOrStart reads the current state of key and, when the key is absent,
// races to claim it. The caller that wins the claim starts the upstream
// invocation; every caller gets an immediate answer, never waiting on the
// invocation itself.
//
// req is only consulted on the claim path; polls against an existing row
// ignore it.
func (s *Service) PollOrStart(ctx context.Context, key string, req upstream.Request) (PollResult, error) {
	entry, err := s.repo.GetAnalysis(ctx, key)
	switch {
	case err == nil:
		return s.observe(ctx, entry)
	case errors.Is(err, broker.ErrNotFound):
		return s.claim(ctx, key, req)
	default:
		return PollResult{}, fmt.Errorf("load analysis row: %w", err)
	}
}

// claim performs the Absent -> Waiting transition. Losing the race is not an
// error: someone else owns the invocation and this caller simply reports
// not-ready.
func (s *Service) claim(ctx context.Context, key string, req upstream.Request) (PollResult, error) {
	won, err := s.repo.TryClaimAnalysis(ctx, key, s.clock.Now())
	if err != nil {
		return PollResult{}, fmt.Errorf("claim analysis key: %w", err)
	}
	metrics.ObserveClaim(won)
	if won {
		if err := s.start(key, req); err != nil {
			// Do not leave the claimed row stuck in Waiting forever.
			if failErr := s.repo.FailAnalysis(ctx, key, broker.StatePermanentError, s.clock.Now()); failErr != nil {
				s.logger.Error("mark failed after start error",
					zap.String("key", key), zap.Error(failErr))
			}
			return PollResult{}, fmt.Errorf("start invocation: %w", err)
		}
		s.logger.Info("claimed analysis key", zap.String("key", key))
	}
	metrics.ObservePollResponse("pending")
	return PollResult{}, nil
}

// start launches the upstream invocation and the goroutine that writes its
// progress and completion back into the store. It returns quickly; all
// long-running work is detached from the request.
func (s *Service) start(key string, req upstream.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("invoker panicked: %v", rec)
		}
	}()

	inv := s.invoker.Invoke(s.baseCtx, key, req)
	if inv == nil || inv.Done == nil {
		return errors.New("invoker returned no invocation")
	}
	metrics.IncActiveInvocations()
	go s.consume(key, inv)
	go s.archiveDocument(key, req)
	return nil
}

// consume relays progress notes into the row until the invocation settles.
// Completion is authoritative: once Done fires, any progress note still in
// flight is irrelevant and the loop exits.
func (s *Service) consume(key string, inv *upstream.Invocation) {
	defer metrics.DecActiveInvocations()
	progress := inv.Progress
	for {
		select {
		case note, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			s.writeProgress(key, note)
		case outcome := <-inv.Done:
			s.settle(key, outcome)
			return
		}
	}
}

func (s *Service) writeProgress(key, note string) {
	ctx, cancel := context.WithTimeout(s.baseCtx, writeTimeout)
	defer cancel()
	if err := s.repo.SetAnalysisProgress(ctx, key, note, s.clock.Now()); err != nil {
		s.logger.Warn("write progress note",
			zap.String("key", key), zap.String("note", note), zap.Error(err))
	}
}

// settle records the terminal state of the invocation.
func (s *Service) settle(key string, outcome upstream.Outcome) {
	ctx, cancel := context.WithTimeout(s.baseCtx, writeTimeout)
	defer cancel()

	now := s.clock.Now()
	var (
		state broker.State
		err   error
	)
	switch {
	case outcome.Failure == nil:
		state = broker.StateResolved
		err = s.repo.ResolveAnalysis(ctx, key, outcome.Payload, now)
	case outcome.Failure.Retriable:
		state = broker.StateRetriableError
		err = s.repo.FailAnalysis(ctx, key, state, now)
	default:
		state = broker.StatePermanentError
		err = s.repo.FailAnalysis(ctx, key, state, now)
	}
	if err != nil {
		s.logger.Error("record invocation outcome",
			zap.String("key", key), zap.String("state", string(state)), zap.Error(err))
		return
	}
	metrics.ObserveInvocation(string(state))
	if outcome.Failure != nil {
		s.logger.Warn("invocation failed",
			zap.String("key", key),
			zap.Bool("retriable", outcome.Failure.Retriable),
			zap.Error(outcome.Failure))
	} else {
		s.logger.Info("invocation resolved", zap.String("key", key))
	}

	if notifyErr := s.notifier.Publish(ctx, notify.Completion{URL: key, Outcome: string(state)}); notifyErr != nil {
		s.logger.Warn("publish completion", zap.String("key", key), zap.Error(notifyErr))
	}
}

// archiveDocument saves the submitted text keyed by content hash. Best
// effort only.
func (s *Service) archiveDocument(key string, req upstream.Request) {
	if req.Text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(s.baseCtx, writeTimeout)
	defer cancel()
	object := fmt.Sprintf("documents/%s.txt", s.hasher.Hash([]byte(req.Text)))
	if err := s.archive.Save(ctx, object, []byte(req.Text)); err != nil {
		s.logger.Warn("archive document", zap.String("key", key), zap.Error(err))
	}
}

// observe maps an existing row to a poll result, applying the
// delete-on-read rule for retriable errors.
func (s *Service) observe(ctx context.Context, entry broker.AnalysisEntry) (PollResult, error) {
	switch entry.State {
	case broker.StateWaiting:
		kind := "pending"
		if entry.Progress != "" {
			kind = "progress"
		}
		metrics.ObservePollResponse(kind)
		return PollResult{Progress: entry.Progress}, nil
	case broker.StateRetriableError:
		// Clearing the row reopens the slot: the next request after this
		// one restarts the claim protocol and retries the upstream call.
		if err := s.repo.DeleteAnalysis(ctx, entry.Key); err != nil {
			return PollResult{}, fmt.Errorf("clear retriable row: %w", err)
		}
		metrics.ObservePollResponse("overloaded")
		return PollResult{Error: ErrorOverloaded}, nil
	case broker.StatePermanentError:
		metrics.ObservePollResponse("failed")
		return PollResult{Ready: true, Error: ErrorFailed}, nil
	case broker.StateResolved:
		metrics.ObservePollResponse("resolved")
		return PollResult{Ready: true, Payload: entry.Payload}, nil
	default:
		return PollResult{}, fmt.Errorf("analysis row %q has unknown state %q", entry.Key, entry.State)
	}
}
