package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RemindersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_reminders_total",
			Help: "Due reminder outcomes by trigger",
		},
		[]string{"outcome", "trigger"}, // sent|failed|skipped|deferred|lost_claim , poller|manual
	)

	NegotiationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_provider_attempts_total",
			Help: "Provider requests issued while negotiating the wire contract",
		},
		[]string{"result"}, // ok|http_error|transport_error
	)

	NegotiationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recall_provider_negotiation_seconds",
			Help:    "Wall time of one full send negotiation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_webhook_events_total",
			Help: "Provider callbacks by reconciliation outcome",
		},
		[]string{"outcome"}, // applied|unchanged|unmatched|no_id|error
	)

	ControlAppointments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_control_appointments_total",
			Help: "Appointments materialized from control schedules",
		},
		[]string{"source"}, // create|recurrence
	)

	SchedulerTick = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recall_scheduler_tick_seconds",
			Help:    "Duration of scheduler ticks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	ArchivedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_archived_events_total",
			Help: "Status events written to ClickHouse",
		},
	)
)

var once sync.Once

// MustRegister is safe to call from every command that wires components.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			RemindersTotal,
			NegotiationAttempts,
			NegotiationDuration,
			WebhookEvents,
			ControlAppointments,
			SchedulerTick,
			ArchivedEvents,
		)
	})
}
