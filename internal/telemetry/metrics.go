// Package telemetry exposes Prometheus collectors reporting dispatcher,
// executor, and retry activity for scraping over /metrics.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the collectors the orchestration core reports. All
// methods are nil-receiver safe so callers can pass a nil *Metrics in
// tests without special-casing every call site.
type Metrics struct {
	planStarted    prometheus.Counter
	planFailed     *prometheus.CounterVec
	agentCallDur   *prometheus.HistogramVec
	agentCallFails *prometheus.CounterVec
	taskDuration   prometheus.Histogram
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the process-wide Metrics instance, registered against
// the default Prometheus registerer exactly once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNew constructs Metrics registered against reg. A nil reg falls
// back to the default registerer. Panics on registration failure other
// than "already registered", mirroring promauto's semantics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	planStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "plan_started_total",
		Help:      "Total number of plans admitted for dispatch.",
	})
	planFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "plan_failed_total",
		Help:      "Total number of plans that reached a terminal Failed state, by error code.",
	}, []string{"error_code"})
	agentCallDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_call_duration_seconds",
		Help:    "Duration of a single agent invocation attempt.",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent"})
	agentCallFails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_call_failures_total",
		Help: "Total number of agent invocation attempts that did not succeed.",
	}, []string{"agent", "kind"})
	taskDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Name:      "task_duration_seconds",
		Help:      "Total wall-clock time from task dispatch to terminal state, across all attempts.",
		Buckets:   prometheus.DefBuckets,
	})

	m := &Metrics{
		planStarted:    planStarted,
		planFailed:     planFailed,
		agentCallDur:   agentCallDur,
		agentCallFails: agentCallFails,
		taskDuration:   taskDuration,
	}

	for _, c := range []prometheus.Collector{planStarted, planFailed, agentCallDur, agentCallFails, taskDuration} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			panic(err)
		}
	}
	return m
}

// PlanStarted increments the plan-admission counter.
func (m *Metrics) PlanStarted() {
	if m == nil {
		return
	}
	m.planStarted.Inc()
}

// PlanFailed increments the terminal-failure counter for errorCode.
func (m *Metrics) PlanFailed(errorCode string) {
	if m == nil {
		return
	}
	m.planFailed.WithLabelValues(errorCode).Inc()
}

// ObserveAgentCall records one attempt's duration and, if kind is
// non-empty, counts it as a failure of that kind.
func (m *Metrics) ObserveAgentCall(agent string, duration time.Duration, failureKind string) {
	if m == nil {
		return
	}
	m.agentCallDur.WithLabelValues(agent).Observe(duration.Seconds())
	if failureKind != "" {
		m.agentCallFails.WithLabelValues(agent, failureKind).Inc()
	}
}

// ObserveTaskDuration records the total time a task spent from dispatch
// to its terminal state.
func (m *Metrics) ObserveTaskDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.Observe(duration.Seconds())
}
