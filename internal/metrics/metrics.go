package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// rateLimitExceeded counts HTTP 429 events from rate limiting.
	// Labels:
	// - endpoint: short name like "credentials:validate", "dispatch:send"
	rateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certmail",
			Subsystem: "http",
			Name:      "rate_limit_exceeded_total",
			Help:      "Number of requests rejected due to rate limiting (HTTP 429)",
		},
		[]string{"endpoint"},
	)

	// validationOutcomes counts credential validation outcomes.
	// Labels:
	// - result: success | invalid_format | rate_limited | auth_failed | insecure | network
	// - class: consumer | institutional | unknown
	validationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certmail",
			Subsystem: "credentials",
			Name:      "validation_outcomes_total",
			Help:      "Credential validation outcomes by result and provider class.",
		},
		[]string{"result", "class"},
	)

	// validationDuration observes the live SMTP handshake latency.
	validationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "certmail",
		Subsystem: "credentials",
		Name:      "handshake_seconds",
		Help:      "Duration of the live SMTP credential check.",
		Buckets:   prometheus.DefBuckets,
	})
)

// IncRateLimitExceeded increments the 429 counter for the given endpoint.
func IncRateLimitExceeded(endpoint string) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	rateLimitExceeded.WithLabelValues(endpoint).Inc()
}

// IncValidationOutcome increments the credential validation counter.
func IncValidationOutcome(result, class string) {
	if result == "" {
		result = "unknown"
	}
	if class == "" {
		class = "unknown"
	}
	validationOutcomes.WithLabelValues(result, class).Inc()
}

// ObserveValidationHandshake records a live check latency in seconds.
func ObserveValidationHandshake(seconds float64) { validationDuration.Observe(seconds) }
