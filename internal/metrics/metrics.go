package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal tracks backend fetches per entity kind and result
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lendwatch_fetches_total",
			Help: "Total number of backend fetches issued by poll sessions",
		},
		[]string{"kind", "result"},
	)

	// FetchLatency tracks backend fetch latency
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lendwatch_fetch_latency_seconds",
			Help:    "Backend fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// SessionsTotal tracks finished sessions per kind and outcome
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lendwatch_sessions_total",
			Help: "Total number of poll sessions by final status",
		},
		[]string{"kind", "status"},
	)

	// SessionsActive tracks running sessions per kind
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lendwatch_sessions_active",
			Help: "Number of poll sessions currently running",
		},
		[]string{"kind"},
	)

	// SessionAttempts tracks how many fetches a finished session needed
	SessionAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lendwatch_session_attempts",
			Help:    "Fetches issued per finished poll session",
			Buckets: []float64{1, 2, 3, 5, 8, 12, 20},
		},
		[]string{"kind"},
	)

	// ThrottledFetches tracks fetches that waited for the shared rate budget
	ThrottledFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lendwatch_throttled_fetches_total",
			Help: "Total number of fetches delayed by the shared rate limiter",
		},
	)

	// DBConnectionPoolUsage tracks database connection pool usage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lendwatch_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
