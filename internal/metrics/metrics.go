// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationsTotal counts full evaluation passes per clinic.
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redflag",
		Name:      "evaluations_total",
		Help:      "Number of rule-set evaluation passes.",
	}, []string{"clinic"})

	// EvaluationDuration observes wall time of a full evaluation pass.
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "redflag",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of a full rule-set evaluation pass.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	// AlertsMatchedTotal counts matched rules by severity tier.
	AlertsMatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redflag",
		Name:      "alerts_matched_total",
		Help:      "Number of matched red-flag rules.",
	}, []string{"severity"})

	// RuleValidationFailures counts rejected rule submissions.
	RuleValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "redflag",
		Name:      "rule_validation_failures_total",
		Help:      "Number of rule definitions rejected at validation.",
	})
)
