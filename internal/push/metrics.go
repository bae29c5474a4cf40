package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingo_push_sends_total",
		Help: "Web Push sends by result",
	}, []string{"result"})

	deactivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lingo_push_subscriptions_deactivated_total",
		Help: "Subscriptions deactivated after the push service reported them gone",
	})
)
