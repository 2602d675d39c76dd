package authz

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type authzMetrics struct {
	decisions *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

var metrics = sync.OnceValue(func() authzMetrics {
	return authzMetrics{
		decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authz",
			Name:      "decisions_total",
			Help:      "Authorization decisions by mode, object, action and result.",
		}, []string{"mode", "object", "action", "result"}),
		latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "authz",
			Name:      "decision_seconds",
			Help:      "Time spent evaluating a policy.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"result"}),
	}
})

func observeDecision(mode Mode, req Request, allowed bool, took time.Duration) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m := metrics()
	m.decisions.WithLabelValues(string(mode), string(req.Object), req.action(), result).Inc()
	m.latency.WithLabelValues(result).Observe(took.Seconds())
}
