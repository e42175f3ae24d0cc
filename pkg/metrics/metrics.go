package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kodix_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks sessions that are neither expired nor revoked.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kodix_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// TeamSwitches counts active-team switches by result (success|forbidden|error).
	TeamSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kodix_team_switches_total",
			Help: "Total number of active-team switch attempts",
		},
		[]string{"result"},
	)

	// GateRedirects counts redirects issued by request gates (signin|apps|team_select).
	GateRedirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kodix_gate_redirects_total",
			Help: "Total number of redirects issued by request gates",
		},
		[]string{"gate"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kodix_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
