// Package metrics exposes Prometheus collectors for the analysis broker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	brokerClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_claims_total",
			Help: "Total claim attempts for fresh analysis keys, labeled by outcome (won/lost).",
		},
		[]string{"outcome"},
	)

	brokerInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_invocations_total",
			Help: "Total settled upstream invocations, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	brokerPollResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_poll_responses_total",
			Help: "Total poll responses served, labeled by kind.",
		},
		[]string{"kind"},
	)

	publisherLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_lookups_total",
			Help: "Total publisher profile lookups, labeled by result (hit/miss/unresolved).",
		},
		[]string{"result"},
	)

	brokerActiveInvocations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_active_invocations",
			Help: "Number of upstream invocations currently in flight.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaim increments the claim counter for the given outcome.
func ObserveClaim(won bool) {
	outcome := "lost"
	if won {
		outcome = "won"
	}
	brokerClaimsTotal.WithLabelValues(outcome).Inc()
}

// ObserveInvocation increments the invocation counter for a settled outcome
// (resolved, retriable_error, permanent_error).
func ObserveInvocation(outcome string) {
	brokerInvocationsTotal.WithLabelValues(outcome).Inc()
}

// ObservePollResponse increments the poll response counter for a wire-level
// kind (pending, progress, resolved, overloaded, failed).
func ObservePollResponse(kind string) {
	brokerPollResponsesTotal.WithLabelValues(kind).Inc()
}

// ObservePublisherLookup increments the publisher lookup counter.
func ObservePublisherLookup(result string) {
	publisherLookupsTotal.WithLabelValues(result).Inc()
}

// IncActiveInvocations increments the in-flight invocation gauge.
func IncActiveInvocations() {
	brokerActiveInvocations.Inc()
}

// DecActiveInvocations decrements the in-flight invocation gauge.
func DecActiveInvocations() {
	brokerActiveInvocations.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
