package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shayc/conductor/internal/core"
)

func TestLifecycleStore_PlanTransitions(t *testing.T) {
	db := newTestDB(t)
	ls := NewLifecycleStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	plan, err := ls.CreatePlan(ctx, "plan-1", "corr-1", now)
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if plan.Status != core.PlanDraft {
		t.Fatalf("new plan status = %v, want Draft", plan.Status)
	}

	plan, err = ls.PlanTransition(ctx, plan.ID, core.PlanPending, "queued for dispatch", "corr-1", now)
	if err != nil {
		t.Fatalf("PlanTransition to Pending: %v", err)
	}
	plan, err = ls.PlanTransition(ctx, plan.ID, core.PlanRunning, "dispatch started", "corr-1", now)
	if err != nil {
		t.Fatalf("PlanTransition to Running: %v", err)
	}
	plan, err = ls.PlanTransition(ctx, plan.ID, core.PlanSucceeded, "all tasks completed", "corr-1", now)
	if err != nil {
		t.Fatalf("PlanTransition to Succeeded: %v", err)
	}
	if plan.Status != core.PlanSucceeded {
		t.Fatalf("plan status = %v, want Succeeded", plan.Status)
	}

	// Reapplying the same terminal transition is a no-op, not an error.
	again, err := ls.PlanTransition(ctx, plan.ID, core.PlanSucceeded, "duplicate", "corr-1", now)
	if err != nil {
		t.Fatalf("reapplying terminal transition should be a no-op, got error: %v", err)
	}
	if again.Status != core.PlanSucceeded {
		t.Errorf("status after no-op reapply = %v, want Succeeded", again.Status)
	}

	// Skipping straight from Succeeded to Failed is invalid.
	if _, err := ls.PlanTransition(ctx, plan.ID, core.PlanFailed, "oops", "corr-1", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestLifecycleStore_TaskTransitionsAndRetryLoop(t *testing.T) {
	db := newTestDB(t)
	ls := NewLifecycleStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ls.CreatePlan(ctx, "plan-2", "corr-2", now); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	task, err := ls.CreateTask(ctx, "task-1", "plan-2", "echo_agent", json.RawMessage(`{"action":"noop"}`), now)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != core.TaskQueued {
		t.Fatalf("new task status = %v, want Queued", task.Status)
	}

	task, err = ls.TaskTransition(ctx, task.ID, core.TaskDispatched, "sent to agent", 0, nil, now)
	if err != nil {
		t.Fatalf("transition to Dispatched: %v", err)
	}
	task, err = ls.TaskTransition(ctx, task.ID, core.TaskInProgress, "attempt 1", 1, nil, now)
	if err != nil {
		t.Fatalf("transition to InProgress: %v", err)
	}
	if task.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", task.AttemptCount)
	}

	agentErr := &core.AgentError{Kind: core.KindTimeout, Message: "deadline exceeded"}
	task, err = ls.TaskTransition(ctx, task.ID, core.TaskRetried, "attempt 1 failed", 1, agentErr, now)
	if err != nil {
		t.Fatalf("transition to Retried: %v", err)
	}
	if task.AttemptCount != 2 {
		t.Errorf("AttemptCount after retry bump = %d, want 2", task.AttemptCount)
	}
	if task.LastError == nil || task.LastError.Message != "deadline exceeded" {
		t.Errorf("LastError not persisted correctly: %+v", task.LastError)
	}

	task, err = ls.TaskTransition(ctx, task.ID, core.TaskInProgress, "attempt 2", 2, nil, now)
	if err != nil {
		t.Fatalf("transition back to InProgress: %v", err)
	}
	task, err = ls.TaskTransition(ctx, task.ID, core.TaskSucceeded, "attempt 2 succeeded", 2, nil, now)
	if err != nil {
		t.Fatalf("transition to Succeeded: %v", err)
	}
	if task.Status != core.TaskSucceeded {
		t.Fatalf("final status = %v, want Succeeded", task.Status)
	}

	if _, err := ls.TaskTransition(ctx, task.ID, core.TaskDeadLettered, "too late", 3, nil, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition moving out of a terminal state, got %v", err)
	}

	fetched, err := ls.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if fetched.Status != core.TaskSucceeded {
		t.Errorf("GetTask status = %v, want Succeeded", fetched.Status)
	}

	tasks, err := ls.ListTasksByPlan(ctx, "plan-2")
	if err != nil {
		t.Fatalf("ListTasksByPlan: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("ListTasksByPlan returned %d tasks, want 1", len(tasks))
	}
}

func TestLifecycleStore_GetPlan_NotFound(t *testing.T) {
	db := newTestDB(t)
	ls := NewLifecycleStore(db)

	if _, err := ls.GetPlan(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing plan")
	}
}
