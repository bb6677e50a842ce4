// Package metrics registers the service's Prometheus collectors,
// continuing the teacher's use of prometheus/client_golang rather than a
// bespoke stats package. The HTTP handlers observe TurnDuration per turn
// and main sets ActiveSessions to 0 at startup; IntegrityVerdicts,
// LLMCalls and StoreConflicts are registered but nothing in the service
// updates them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cac_turn_duration_seconds",
		Help:    "Wall-clock duration of one processResponse turn.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	IntegrityVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cac_integrity_verdicts_total",
		Help: "Count of IntegrityEvaluator recommendations by action.",
	}, []string{"action"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cac_active_sessions",
		Help: "Number of sessions currently in a non-terminal status.",
	})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cac_llm_calls_total",
		Help: "Count of LLM provider calls by component and outcome.",
	}, []string{"component", "outcome"})

	StoreConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cac_store_conflicts_total",
		Help: "Count of optimistic-CAS conflicts on SessionStore.Commit.",
	})
)
