package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	planOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliance",
		Subsystem: "plan",
		Name:      "operations_total",
		Help:      "Total number of compliance plan operations broken down by action and result code.",
	}, []string{"action", "result"})

	planCompleteness = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "compliance",
		Subsystem: "plan",
		Name:      "completeness_score",
		Help:      "Completeness score of plans at submission time.",
		Buckets:   []float64{0, 25, 50, 75, 90, 100},
	})

	planCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliance",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Total number of plan cache lookups broken down by cache and hit/miss.",
	}, []string{"cache", "result"})

	planCacheInvalidate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliance",
		Subsystem: "cache",
		Name:      "invalidate_total",
		Help:      "Total number of plan cache invalidations broken down by reason.",
	}, []string{"reason"})

	planWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliance",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of plan write conflicts broken down by kind.",
	}, []string{"kind"})

	auditPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "compliance",
		Subsystem: "audit",
		Name:      "purged_total",
		Help:      "Total number of audit entries removed after the retention window.",
	})
)

func recordOperation(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if svcErr, ok := err.(*ServiceError); ok {
			result = svcErr.Code
		}
	}
	planOperations.WithLabelValues(action, result).Inc()
}

func recordCacheRequest(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	planCacheRequests.WithLabelValues(cache, result).Inc()
}

func recordCacheInvalidate(reason string) {
	if reason == "" {
		reason = "manual"
	}
	planCacheInvalidate.WithLabelValues(reason).Inc()
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	planWriteConflicts.WithLabelValues(kind).Inc()
}
