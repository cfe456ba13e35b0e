package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// StudyTransitions counts lifecycle operations by transition and outcome (ok|rejected).
	StudyTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_study_transitions_total",
			Help: "Total number of study lifecycle transitions",
		},
		[]string{"transition", "result"},
	)

	// EnrollmentChanges counts meetup enrollment operations by action and outcome (ok|rejected).
	EnrollmentChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_enrollment_changes_total",
			Help: "Total number of meetup enrollment changes",
		},
		[]string{"action", "result"},
	)

	// EventsPublished counts bus events by type and outcome (queued|dropped|handled|failed).
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_events_total",
			Help: "Total number of domain events seen by the in-process bus",
		},
		[]string{"type", "result"},
	)

	// NotificationDeliveries counts fan-out deliveries by channel (email|web) and result (sent|failed).
	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_notification_deliveries_total",
			Help: "Total number of notification deliveries attempted",
		},
		[]string{"channel", "result"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studyhub_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyhub_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
