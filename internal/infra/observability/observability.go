// Package observability holds the Prometheus metrics and OpenTelemetry
// setup shared by the booking core, its stores and the API.
//
// Metrics are registered once at package init through promauto and are
// exposed by the API at /metrics. Tracing is opt-in; see Setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "medgrab"

// ═══════════════════════════════════════════════════════════════════════════
// Booking Core Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Cancellation Metrics ───────────────────────────────────────────────────

// Cancellations counts finished cancellation workflows by outcome status and
// terminal reason ("" for reassigned).
var Cancellations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "cancellation",
	Name:      "outcomes_total",
	Help:      "Total cancellation workflows by outcome.",
}, []string{"status", "reason"})

// CancellationErrors counts workflows that ended with an error, by class.
var CancellationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "cancellation",
	Name:      "errors_total",
	Help:      "Total cancellation workflows aborted by error class.",
}, []string{"class"})

// CancellationWarnings counts partial failures recorded in outcomes.
var CancellationWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "cancellation",
	Name:      "warnings_total",
	Help:      "Total partial failures by workflow step.",
}, []string{"step"})

// CancellationDuration tracks end-to-end workflow latency.
var CancellationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "cancellation",
	Name:      "duration_seconds",
	Help:      "Cancellation workflow latency in seconds.",
	Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
})

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerEntries counts credit log entries written, by kind.
var LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "entries_total",
	Help:      "Total credit score log entries by kind.",
}, []string{"kind"})

// LedgerClamped counts entries whose delta was cut by the score bounds.
var LedgerClamped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "clamped_total",
	Help:      "Total credit score changes limited by the 0..100 bounds.",
})

// LedgerDelta tracks the distribution of requested deltas.
var LedgerDelta = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "delta",
	Help:      "Requested credit score deltas.",
	Buckets:   []float64{-50, -20, -10, -7, -5, 0, 1, 2, 5, 50},
})

// ─── Policy Metrics ─────────────────────────────────────────────────────────

// PolicyTransitions counts warn/suspend/reinstate transitions.
var PolicyTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "policy",
	Name:      "transitions_total",
	Help:      "Total suspension policy transitions by kind.",
}, []string{"transition"})

// SweepRuns counts suspension sweeps by result.
var SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "policy",
	Name:      "sweeps_total",
	Help:      "Total suspension sweeps by result.",
}, []string{"result"})

// ─── Selector Metrics ───────────────────────────────────────────────────────

// EligiblePool tracks the eligible nurse pool size per selection.
var EligiblePool = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "selector",
	Name:      "eligible_pool_size",
	Help:      "Number of eligible nurses per reassignment selection.",
	Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
})

// ─── Collaborator Metrics ───────────────────────────────────────────────────

// CollaboratorCalls counts calls to stores and dispatchers by result.
var CollaboratorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "collaborator",
	Name:      "calls_total",
	Help:      "Total collaborator calls by service, operation and result.",
}, []string{"service", "op", "result"})

// CollaboratorRetries counts retry attempts after a failed call.
var CollaboratorRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "collaborator",
	Name:      "retries_total",
	Help:      "Total collaborator call retries by service and operation.",
}, []string{"service", "op"})

// CollaboratorLatency tracks per-call latency including retries.
var CollaboratorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "collaborator",
	Name:      "latency_seconds",
	Help:      "Collaborator call latency in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"service", "op"})

// ─── Executor Metrics ───────────────────────────────────────────────────────

// ExecutorActive tracks cancellation tasks currently running.
var ExecutorActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "executor",
	Name:      "active_tasks",
	Help:      "Number of cancellation tasks currently executing.",
})

// ExecutorQueued tracks tasks waiting for a concurrency slot.
var ExecutorQueued = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "executor",
	Name:      "queued_tasks",
	Help:      "Number of cancellation tasks waiting for a slot.",
})

// ExecutorTasks counts finished tasks by state.
var ExecutorTasks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "executor",
	Name:      "tasks_total",
	Help:      "Total cancellation tasks by final state.",
}, []string{"state"})

// ─── Notification Metrics ───────────────────────────────────────────────────

// NotificationsPublished counts messages handed to the broker.
var NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notification",
	Name:      "published_total",
	Help:      "Total notifications published by result.",
}, []string{"result"})
