package retrycontrol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shayc/conductor/internal/agentexec"
	"github.com/shayc/conductor/internal/concurrency"
	"github.com/shayc/conductor/internal/config"
	"github.com/shayc/conductor/internal/core"
	"github.com/shayc/conductor/internal/store"
	"github.com/shayc/conductor/internal/wire"
)

// scriptedInvoker returns a fixed sequence of outcomes, one per call, and
// records every request it was asked to execute.
type scriptedInvoker struct {
	outcomes []agentexec.Outcome
	calls    int
}

func (s *scriptedInvoker) Execute(ctx context.Context, req *wire.ActionRequest, timeout time.Duration) agentexec.Outcome {
	out := s.outcomes[s.calls]
	s.calls++
	return out
}

func newHarness(t *testing.T, invoker Invoker) (*Controller, *store.LifecycleStore, *store.HealthStore, core.Task) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	lifecycle := store.NewLifecycleStore(db)
	health := store.NewHealthStore(db)
	governor := concurrency.NewGovernor(4)

	ctrl := New(invoker, lifecycle, health, governor)
	ctrl.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	now := time.Now().UTC()
	if _, err := lifecycle.CreatePlan(context.Background(), "plan-1", "corr-1", now); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	task, err := lifecycle.CreateTask(context.Background(), "task-1", "plan-1", "flaky_agent", json.RawMessage(`{}`), now)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return ctrl, lifecycle, health, task
}

func defaultCfg() config.AgentExecutionConfig {
	return config.AgentExecutionConfig{
		Timeout: time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
		},
		Circuit: config.CircuitConfig{
			FailureThreshold: 3,
			Cooldown:         time.Minute,
		},
	}
}

func TestController_SucceedsOnFirstAttempt(t *testing.T) {
	invoker := &scriptedInvoker{outcomes: []agentexec.Outcome{
		{Response: &wire.ActionResponse{RequestID: "task-1", Status: "success", Code: 0}},
	}}
	ctrl, _, health, task := newHarness(t, invoker)

	result, err := ctrl.Execute(context.Background(), task, defaultCfg(), "corr-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.Task.Status != core.TaskSucceeded {
		t.Fatalf("expected success, got %+v", result)
	}
	if invoker.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", invoker.calls)
	}

	h, err := health.Get(context.Background(), "flaky_agent")
	if err != nil {
		t.Fatalf("Get health: %v", err)
	}
	if h.Health != core.Healthy {
		t.Errorf("Health = %v, want Healthy", h.Health)
	}
}

func TestController_RetriesTransientFailureThenSucceeds(t *testing.T) {
	invoker := &scriptedInvoker{outcomes: []agentexec.Outcome{
		{Err: &core.AgentError{Kind: core.KindTimeout, Message: "timed out"}},
		{Response: &wire.ActionResponse{RequestID: "task-1", Status: "success", Code: 0}},
	}}
	ctrl, _, _, task := newHarness(t, invoker)

	result, err := ctrl.Execute(context.Background(), task, defaultCfg(), "corr-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected eventual success, got %+v", result)
	}
	if invoker.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", invoker.calls)
	}
}

func TestController_NonRetryableFailsImmediately(t *testing.T) {
	invoker := &scriptedInvoker{outcomes: []agentexec.Outcome{
		{Err: &core.AgentError{Kind: core.KindInvalidRequest, Message: "bad payload"}},
	}}
	ctrl, _, _, task := newHarness(t, invoker)

	result, err := ctrl.Execute(context.Background(), task, defaultCfg(), "corr-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success || result.Task.Status != core.TaskDeadLettered {
		t.Fatalf("expected immediate dead-letter, got %+v", result)
	}
	if invoker.calls != 1 {
		t.Errorf("expected 1 attempt for non-retryable error, got %d", invoker.calls)
	}
}

func TestController_ExhaustsRetriesAndDeadLetters(t *testing.T) {
	cfg := defaultCfg()
	invoker := &scriptedInvoker{outcomes: []agentexec.Outcome{
		{Err: &core.AgentError{Kind: core.KindBackendFailure, Message: "boom 1"}},
		{Err: &core.AgentError{Kind: core.KindBackendFailure, Message: "boom 2"}},
		{Err: &core.AgentError{Kind: core.KindBackendFailure, Message: "boom 3"}},
	}}
	ctrl, _, health, task := newHarness(t, invoker)

	result, err := ctrl.Execute(context.Background(), task, cfg, "corr-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success || result.Task.Status != core.TaskDeadLettered {
		t.Fatalf("expected dead-letter after exhausting retries, got %+v", result)
	}
	if invoker.calls != cfg.Retry.MaxAttempts {
		t.Errorf("expected %d attempts, got %d", cfg.Retry.MaxAttempts, invoker.calls)
	}

	h, err := health.Get(context.Background(), "flaky_agent")
	if err != nil {
		t.Fatalf("Get health: %v", err)
	}
	if h.Health != core.Unhealthy {
		t.Errorf("Health = %v, want Unhealthy after hitting failure threshold", h.Health)
	}
	if h.CircuitOpenUntil == nil {
		t.Error("expected circuit to be open after threshold failures")
	}
}
