package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	policyEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_policy_evaluations_total",
			Help: "Total number of safety policy evaluations",
		},
		[]string{"flag"},
	)

	policyEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consensus_policy_evaluation_duration_seconds",
			Help:    "Time spent evaluating the safety policy",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		},
	)

	policyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_policy_errors_total",
			Help: "Safety policy evaluation errors",
		},
		[]string{"error_type"},
	)

	policyCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consensus_policy_cache_hits_total",
			Help: "Safety decisions served from cache",
		},
	)

	policyCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consensus_policy_cache_misses_total",
			Help: "Safety decisions that required evaluation",
		},
	)

	policyVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "consensus_policy_version_info",
			Help: "Loaded safety policy version hash",
		},
		[]string{"source", "version"},
	)
)
