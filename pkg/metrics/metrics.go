package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionOutcomes counts join attempt evaluations by outcome
	// (admitted|queued|rejected) and rejection reason code ("" when accepted).
	AdmissionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_admission_outcomes_total",
			Help: "Total number of evaluated join attempts",
		},
		[]string{"outcome", "reason"},
	)

	// ApprovalDecisions counts waiting-room decisions by result (approved|rejected|failed).
	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_approval_decisions_total",
			Help: "Total number of waiting-room approval decisions",
		},
		[]string{"result"},
	)

	// ActiveMeetings tracks meetings that have been created and not yet ended.
	ActiveMeetings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_active_meetings",
			Help: "Number of meetings not yet ended",
		},
	)

	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// SignalingClients tracks WebSocket clients attached to the relay hub.
	SignalingClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_signaling_clients",
			Help: "Number of connected signaling clients",
		},
	)
)
