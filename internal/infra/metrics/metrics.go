// Package metrics exposes Prometheus instruments for the execution core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsTotal counts finished job attempts.
	// Labels: queue, kind, outcome (done, retry, failed)
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Job attempts by queue, kind and outcome",
	}, []string{"queue", "kind", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autopilot",
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "Wall time of a single job attempt",
		Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600},
	}, []string{"queue", "kind"})

	// toolCallsTotal counts tool invocations.
	// Labels: tool, status (success, error)
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Subsystem: "tools",
		Name:      "calls_total",
		Help:      "Tool invocations by tool and status",
	}, []string{"tool", "status"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autopilot",
		Subsystem: "tools",
		Name:      "call_duration_seconds",
		Help:      "Tool invocation latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	// modelCallsTotal counts completion requests.
	// Labels: model, status (ok, error)
	modelCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Model completion calls by model and status",
	}, []string{"model", "status"})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Inference cache lookups by result (hit, miss)",
	}, []string{"result"})

	// healingTotal counts healing decisions.
	// Labels: source (sweep, inline), decision (retry, bug_report, coaching, ignored, remediate, exhausted)
	healingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Subsystem: "healing",
		Name:      "decisions_total",
		Help:      "Self-healing decisions by source and decision",
	}, []string{"source", "decision"})

	triageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Subsystem: "triage",
		Name:      "items_total",
		Help:      "Backlog items considered by triage, by agent and outcome (assigned, busy, evicted)",
	}, []string{"agent", "outcome"})

	compressionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autopilot",
		Subsystem: "context",
		Name:      "compressions_total",
		Help:      "Successful conversation compressions",
	})
)

// RecordJob records one job attempt.
func RecordJob(queue, kind, outcome string, elapsed time.Duration) {
	jobsTotal.WithLabelValues(queue, kind, outcome).Inc()
	jobDuration.WithLabelValues(queue, kind).Observe(elapsed.Seconds())
}

// RecordToolCall records one tool invocation.
func RecordToolCall(tool string, ok bool, elapsed time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status(ok, "success", "error")).Inc()
	toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RecordModelCall records one completion request.
func RecordModelCall(model string, ok bool) {
	modelCallsTotal.WithLabelValues(model, status(ok, "ok", "error")).Inc()
}

// RecordCacheLookup records an inference cache lookup.
func RecordCacheLookup(hit bool) {
	cacheLookupsTotal.WithLabelValues(status(hit, "hit", "miss")).Inc()
}

// RecordHealing records a healing decision.
func RecordHealing(source, decision string) {
	healingTotal.WithLabelValues(source, decision).Inc()
}

// RecordTriage records what triage did with an item.
func RecordTriage(agent, outcome string) {
	triageTotal.WithLabelValues(agent, outcome).Inc()
}

// RecordCompression records a successful compression.
func RecordCompression() {
	compressionsTotal.Inc()
}

func status(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
