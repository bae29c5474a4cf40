package reminder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingo_reminder_evaluations_total",
		Help: "Reminder rule evaluations by kind and outcome",
	}, []string{"kind", "outcome"})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lingo_reminder_tick_duration_seconds",
		Help:    "Time spent evaluating all reminder candidates",
		Buckets: prometheus.DefBuckets,
	})

	outboxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingo_reminder_outbox_total",
		Help: "Queued reminder intents processed by result",
	}, []string{"result"})
)
