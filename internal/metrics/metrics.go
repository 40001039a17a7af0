// Package metrics declares the Prometheus collectors for the security chain.
// Collectors are registered on the default registry at init and exposed on
// /metrics by the app package.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Chain outcomes: decision is proceed/succeeded/failed, kind is the
	// failure kind or "none".
	ChainOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_chain_outcomes_total",
			Help: "Security chain evaluations by decision and failure kind",
		},
		[]string{"decision", "kind"},
	)

	ChainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_chain_duration_seconds",
			Help:    "Time spent evaluating the security chain",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"decision"},
	)

	// Challenge metrics
	ChallengesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_challenges_issued_total",
			Help: "Image challenges generated",
		},
	)

	ChallengeChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_challenge_checks_total",
			Help: "Challenge validations by result",
		},
		[]string{"result"}, // ok, missing, expired, mismatch
	)

	// Remember-me metrics
	RememberMeValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_rememberme_validations_total",
			Help: "Remember-me artifact validations by result",
		},
		[]string{"result"},
	)

	RememberMeTheft = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_rememberme_theft_total",
			Help: "Stale remember-me tokens presented for a live series",
		},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_security_events_published_total",
			Help: "Security events handed to the event bus",
		},
		[]string{"type", "status"},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
