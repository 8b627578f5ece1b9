package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wacg_messages_total",
			Help: "Per-recipient send outcomes by stage",
		},
		[]string{"stage"}, // enqueued|sent|failed|skipped|retried
	)

	SchedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wacg_scheduler_ticks_total",
			Help: "Scheduler tick outcomes",
		},
		[]string{"result"}, // ok|skipped_overlap|error
	)

	CampaignsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wacg_campaigns_dispatched_total",
			Help: "Campaign windows dispatched (scheduled + manual)",
		},
	)

	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wacg_ratelimit_decisions_total",
			Help: "Rate limiter decisions by limiter and outcome",
		},
		[]string{"limiter", "outcome"}, // allowed|denied|fail_open
	)

	QueueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wacg_queue_jobs_total",
			Help: "Queue job transitions by queue and event",
		},
		[]string{"queue", "event"}, // added|acked|nacked|discarded
	)

	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wacg_gateway_breaker_transitions_total",
			Help: "Per-instance circuit breaker state transitions",
		},
		[]string{"instance", "state"}, // closed|open|probing
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		MessagesTotal,
		SchedulerTicks,
		CampaignsDispatched,
		RateLimitDecisions,
		QueueJobs,
		BreakerTransitions,
	)
}
