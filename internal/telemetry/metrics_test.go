package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMustNew_RegistersAgainstFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.PlanStarted()
	m.PlanFailed("BackendFailure")
	m.ObserveAgentCall("git_agent", 50*time.Millisecond, "")
	m.ObserveAgentCall("git_agent", 10*time.Millisecond, "timeout")
	m.ObserveTaskDuration(75 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}

	if got := byName["orchestrator_plan_started_total"]; got == nil || got.Metric[0].GetCounter().GetValue() != 1 {
		t.Errorf("orchestrator_plan_started_total = %v, want 1", got)
	}
	if got := byName["orchestrator_plan_failed_total"]; got == nil || len(got.Metric) != 1 {
		t.Errorf("orchestrator_plan_failed_total missing or wrong cardinality: %v", got)
	}
	if got := byName["agent_call_duration_seconds"]; got == nil || got.Metric[0].GetHistogram().GetSampleCount() != 2 {
		t.Errorf("agent_call_duration_seconds sample count = %v, want 2", got)
	}
	if got := byName["agent_call_failures_total"]; got == nil || len(got.Metric) != 1 {
		t.Errorf("agent_call_failures_total missing or wrong cardinality: %v", got)
	}
	if got := byName["orchestrator_task_duration_seconds"]; got == nil || got.Metric[0].GetHistogram().GetSampleCount() != 1 {
		t.Errorf("orchestrator_task_duration_seconds sample count = %v, want 1", got)
	}
}

func TestMustNew_IdempotentAgainstSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustNew(reg)

	// A second MustNew against the same registry must not panic: every
	// collector it tries to register already exists, and that case is
	// tolerated rather than treated as a fatal registration error.
	m2 := MustNew(reg)
	m2.PlanStarted()
}

func TestMetrics_NilReceiverIsNoOp(t *testing.T) {
	var m *Metrics

	m.PlanStarted()
	m.PlanFailed("Internal")
	m.ObserveAgentCall("agent", time.Second, "backend_failure")
	m.ObserveTaskDuration(time.Second)
}

func TestDefault_ReturnsSameInstance(t *testing.T) {
	first := Default()
	second := Default()
	if first != second {
		t.Error("Default() returned different instances across calls")
	}
}
