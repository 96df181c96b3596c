// Package metrics exposes Prometheus instrumentation for the tool server and the series
// lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cadence_tool_call_duration_seconds",
			Help:    "Tool call latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"tool"},
	)

	toolCallsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_tool_calls_in_flight",
			Help: "Number of tool calls currently being processed",
		},
	)

	lifecycleActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_lifecycle_actions_total",
			Help: "Series lifecycle actions by outcome",
		},
		[]string{"action", "outcome"},
	)

	occurrencesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cadence_occurrences_created_total",
			Help: "Occurrences materialized for recurring series",
		},
	)

	seriesEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_series_ended_total",
			Help: "Series transitioned to ended",
		},
		[]string{"reason"},
	)

	malformedRules = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cadence_malformed_rules_total",
			Help: "Templates whose stored recurrence rule could not be decoded",
		},
	)

	reconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_reconcile_runs_total",
			Help: "Reconciliation sweeps by status",
		},
		[]string{"status"},
	)

	reconcileRepaired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cadence_reconcile_repaired_total",
			Help: "Series given a missing open occurrence by reconciliation",
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordToolCall(tool string, isError bool, duration time.Duration) {
	status := "ok"
	if isError {
		status = "error"
	}
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func IncrementInFlight() {
	toolCallsInFlight.Inc()
}

func DecrementInFlight() {
	toolCallsInFlight.Dec()
}

func RecordLifecycle(action, outcome string) {
	lifecycleActions.WithLabelValues(action, outcome).Inc()
}

func RecordOccurrenceCreated() {
	occurrencesCreated.Inc()
}

// RecordSeriesEnded counts a series reaching the ended state. reason is "exhausted" when
// the rule ran out of dates and "manual" when ended on request.
func RecordSeriesEnded(reason string) {
	seriesEnded.WithLabelValues(reason).Inc()
}

func RecordMalformedRule() {
	malformedRules.Inc()
}

func RecordReconcile(repaired int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	reconcileRuns.WithLabelValues(status).Inc()
	reconcileRepaired.Add(float64(repaired))
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}
