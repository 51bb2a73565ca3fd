package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// messagesTotal counts per-recipient send outcomes.
	// Labels:
	// - backend: hosted | direct
	// - strategy: sequential | pooled
	// - result: success | failure
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certmail",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Certificate emails attempted by backend, strategy and result.",
		},
		[]string{"backend", "strategy", "result"},
	)

	// batchDuration observes whole-batch latency.
	batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "certmail",
			Subsystem: "dispatch",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a dispatch batch in seconds.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"backend", "strategy"},
	)

	// poolOpen is the number of open pooled SMTP connections.
	poolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "certmail",
		Subsystem: "pool",
		Name:      "open_connections",
		Help:      "Open SMTP connections held by the shared pool.",
	})

	// poolRotations counts connections retired after reaching their message cap.
	poolRotations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "certmail",
		Subsystem: "pool",
		Name:      "rotations_total",
		Help:      "Pooled SMTP connections rotated after reaching the per-connection message cap.",
	})
)

// IncMessage increments the per-recipient outcome counter.
func IncMessage(backend, strategy string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	messagesTotal.WithLabelValues(backend, strategy, result).Inc()
}

// ObserveBatch records a batch latency in seconds.
func ObserveBatch(backend, strategy string, seconds float64) {
	batchDuration.WithLabelValues(backend, strategy).Observe(seconds)
}

// AddPoolOpen moves the open connection gauge by delta.
func AddPoolOpen(delta float64) { poolOpen.Add(delta) }

// IncPoolRotation counts a rotated connection.
func IncPoolRotation() { poolRotations.Inc() }
