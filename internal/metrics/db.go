package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dbUp is 1 when the last ping to the send log database succeeded, else 0.
	dbUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "certmail",
		Subsystem: "db",
		Name:      "up",
		Help:      "Send log database availability (1=up, 0=down).",
	})

	// redisUp is 1 when the last ping to Redis succeeded, else 0.
	redisUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "certmail",
		Subsystem: "redis",
		Name:      "up",
		Help:      "Redis availability (1=up, 0=down).",
	})

	// sendlogWriteErrors counts failed send log inserts.
	sendlogWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "certmail",
		Subsystem: "sendlog",
		Name:      "write_errors_total",
		Help:      "Send log writes that failed.",
	})
)

// SetDBUp sets the db_up gauge to 1/0.
func SetDBUp(up bool) { setUp(dbUp, up) }

// SetRedisUp sets the redis_up gauge to 1/0.
func SetRedisUp(up bool) { setUp(redisUp, up) }

// IncSendlogWriteError counts a failed send log write.
func IncSendlogWriteError() { sendlogWriteErrors.Inc() }

func setUp(g prometheus.Gauge, up bool) {
	if up {
		g.Set(1)
		return
	}
	g.Set(0)
}
