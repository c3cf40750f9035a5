// Package metrics publishes Prometheus counters and gauges for the mock
// engine, in the teacher's own promauto + package-level Record*/Set*
// helper idiom (this file started from TetsujinOni-go-tartuffe's
// internal/metrics/metrics.go), renamespaced "ersatz" and re-pointed at
// the engine's own domain (rule matches, reloads, state operators, script
// executions) instead of mountebank's imposter/stub counts. The original
// Python addon this engine is modeled on has no observability at all;
// this is a SPEC_FULL addition (see SPEC_FULL.md section 11).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RulesMatchedTotal counts successful rule resolutions per event kind.
	RulesMatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ersatz",
			Name:      "rules_matched_total",
			Help:      "Total number of flows for which the resolver selected a rule",
		},
		[]string{"event"},
	)

	// NoMatchTotal counts flows that fell through with no applicable rule.
	NoMatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ersatz",
			Name:      "no_match_total",
			Help:      "Total number of flows with no matching rule",
		},
		[]string{"event"},
	)

	// ReloadsTotal counts configuration reload attempts, labeled by outcome.
	ReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ersatz",
			Name:      "config_reloads_total",
			Help:      "Total number of configuration reload attempts",
		},
		[]string{"outcome"},
	)

	// ScriptExecutionsTotal counts "script" action invocations.
	ScriptExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ersatz",
			Name:      "script_executions_total",
			Help:      "Total number of script action executions",
		},
		[]string{"outcome"},
	)

	// StateOperatorTotal counts state-reducer operator applications by kind.
	StateOperatorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ersatz",
			Name:      "state_operator_total",
			Help:      "Total number of state operator reductions applied, by operator",
		},
		[]string{"operator"},
	)

	// ConfigLoadedAt is a gauge of the unix timestamp of the last
	// successful configuration load.
	ConfigLoadedAt = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ersatz",
			Name:      "config_loaded_at_seconds",
			Help:      "Unix timestamp of the last successful configuration load",
		},
	)
)

// RecordMatch records a successful rule resolution for the given event kind.
func RecordMatch(event string) {
	RulesMatchedTotal.WithLabelValues(event).Inc()
}

// RecordNoMatch records a flow with no matching rule.
func RecordNoMatch(event string) {
	NoMatchTotal.WithLabelValues(event).Inc()
}

// RecordReload records a configuration reload attempt outcome ("ok" or "error").
func RecordReload(outcome string) {
	ReloadsTotal.WithLabelValues(outcome).Inc()
}

// RecordScript records a script action execution outcome ("ok" or "error").
func RecordScript(outcome string) {
	ScriptExecutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordStateOperator records one state-operator reduction.
func RecordStateOperator(operator string) {
	StateOperatorTotal.WithLabelValues(operator).Inc()
}

// SetConfigLoadedAt sets the last-load gauge to the given unix seconds.
func SetConfigLoadedAt(unixSeconds float64) {
	ConfigLoadedAt.Set(unixSeconds)
}
