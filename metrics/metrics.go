package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConversionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigmalens_conversion_requests_total",
			Help: "Total number of conversion service requests",
		},
		[]string{"endpoint", "outcome"},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sigmalens_conversion_duration_seconds",
			Help:    "Time taken by conversion service requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ConversionContractViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sigmalens_conversion_contract_violations_total",
			Help: "Total number of structured responses that did not match the response schema",
		},
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigmalens_search_requests_total",
			Help: "Total number of rule searches",
		},
		[]string{"search_type"},
	)

	SearchFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigmalens_search_fallbacks_total",
			Help: "Total number of searches answered by the local filter",
		},
		[]string{"reason"},
	)

	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigmalens_exports_total",
			Help: "Total number of query exports",
		},
		[]string{"outcome"},
	)

	StaleResponsesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigmalens_stale_responses_discarded_total",
			Help: "Total number of responses dropped because a newer request superseded them",
		},
		[]string{"kind"},
	)

	ViewSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sigmalens_view_sessions_active",
			Help: "Number of open viewing sessions",
		},
	)
)
