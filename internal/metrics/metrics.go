package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Settlement metrics
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paysplit_settlements_total",
			Help: "Total number of settlement attempts",
		},
		[]string{"status"},
	)

	SettlementRecipients = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "paysplit_settlement_recipients",
		Help:    "Number of recipients per settlement request",
		Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
	})

	// Verification metrics
	VerificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paysplit_verifications_total",
		Help: "Total number of verification grants",
	})

	// Registry metrics
	RegistryExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paysplit_registry_executions_total",
			Help: "Total number of registry split executions",
		},
		[]string{"status"},
	)

	RegistrySplitsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paysplit_registry_splits_active",
		Help: "Number of currently active split configs",
	})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paysplit_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paysplit_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
