// Package api exposes the HTTP polling interface for the analysis broker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/jobcache"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/metrics"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/pubprofile"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/upstream"
)

// Cache headers for the two response classes. Resolved payloads and
// publisher profiles never change once written, so clients and edges may
// hold them; everything else is a poll snapshot.
const (
	cacheLongLived = "public, max-age=86400"
	cacheNone      = "no-store"
)

// Options configures optional server behavior.
type Options struct {
	// AllowedOrigin is echoed in CORS headers; "*" by default.
	AllowedOrigin string
	// ReadyCheck reports whether downstream dependencies are reachable.
	ReadyCheck func(context.Context) error
	Logger     *zap.Logger
}

// Server wires HTTP handlers to the job cache and publisher cache.
type Server struct {
	router     chi.Router
	jobs       *jobcache.Service
	publishers *pubprofile.Service
	readyCheck func(context.Context) error
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs *jobcache.Service, publishers *pubprofile.Service, opts Options) *Server {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		jobs:       jobs,
		publishers: publishers,
		readyCheck: opts.ReadyCheck,
		logger:     opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(opts.Logger))
	r.Use(recoverMiddleware(opts.Logger))
	r.Use(corsMiddleware(opts.AllowedOrigin))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/publisher", s.getPublisher)
	r.Post("/analyze", s.postAnalyze)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.readyCheck != nil {
		if err := s.readyCheck(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// pollResponse is the wire shape shared by both endpoints. Data is always
// present, as null when there is nothing to return.
type pollResponse struct {
	Ready    bool            `json:"ready"`
	Data     json.RawMessage `json:"data"`
	Progress string          `json:"progress,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (s *Server) getPublisher(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	payload, err := s.publishers.Profile(r.Context(), rawURL)
	if err != nil {
		s.logger.Error("publisher lookup failed", zap.String("url", rawURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Profiles are immutable once resolved; an unresolved site must stay
	// uncached so the next visit retries the lookup.
	if payload != nil {
		w.Header().Set("Cache-Control", cacheLongLived)
	} else {
		w.Header().Set("Cache-Control", cacheNone)
	}
	writeJSON(w, http.StatusOK, pollResponse{Ready: true, Data: payload})
}

type analyzeRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (s *Server) postAnalyze(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	var body analyzeRequest
	if r.Body != nil {
		// An empty body is a plain poll; malformed JSON is not.
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	result, err := s.jobs.PollOrStart(r.Context(), rawURL, upstream.Request{
		URL:   rawURL,
		Title: body.Title,
		Text:  body.Text,
	})
	if err != nil {
		s.logger.Error("analysis poll failed", zap.String("url", rawURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if result.Ready && result.Error == "" {
		w.Header().Set("Cache-Control", cacheLongLived)
	} else {
		w.Header().Set("Cache-Control", cacheNone)
	}
	writeJSON(w, http.StatusOK, pollResponse{
		Ready:    result.Ready,
		Data:     result.Payload,
		Progress: result.Progress,
		Error:    result.Error,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
