package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Conversion cache metrics. The backend label is "memory" or "redis".
var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sigmalens",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of conversion cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sigmalens",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of conversion cache misses",
		},
		[]string{"backend"},
	)

	// CacheErrors labels:
	//   - backend: "memory" or "redis"
	//   - op: "get", "set", "delete", "purge", "marshal" or "unmarshal"
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sigmalens",
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total number of conversion cache errors",
		},
		[]string{"backend", "op"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sigmalens",
			Subsystem: "conversion",
			Name:      "circuit_breaker_open",
			Help:      "1 when the conversion circuit breaker is open, 0 otherwise",
		},
		[]string{"service"},
	)
)
