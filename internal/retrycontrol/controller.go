// Package retrycontrol drives one task through the agent executor with
// exponential-backoff retries, updating the lifecycle log and health
// store on every attempt.
package retrycontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/shayc/conductor/internal/agentexec"
	"github.com/shayc/conductor/internal/concurrency"
	"github.com/shayc/conductor/internal/config"
	"github.com/shayc/conductor/internal/core"
	"github.com/shayc/conductor/internal/store"
	"github.com/shayc/conductor/internal/telemetry"
	"github.com/shayc/conductor/internal/wire"
)

// Invoker runs a single agent attempt. *agentexec.Executor implements
// this; tests substitute a fake to avoid spawning real processes.
type Invoker interface {
	Execute(ctx context.Context, req *wire.ActionRequest, timeout time.Duration) agentexec.Outcome
}

// Controller runs the retry loop described by the retry contract: attempt
// the agent invocation up to MaxAttempts times, backing off exponentially
// between retryable failures, recording every transition and health
// update along the way.
type Controller struct {
	executor  Invoker
	lifecycle *store.LifecycleStore
	health    *store.HealthStore
	governor  *concurrency.Governor
	metrics   *telemetry.Metrics

	// now and sleep are overridden in tests to avoid real wall-clock waits.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Controller wiring the executor, lifecycle log, health
// store, and concurrency governor together. Metrics defaults to a nil
// *telemetry.Metrics (a no-op) until SetMetrics is called.
func New(executor Invoker, lifecycle *store.LifecycleStore, health *store.HealthStore, governor *concurrency.Governor) *Controller {
	return &Controller{
		executor:  executor,
		lifecycle: lifecycle,
		health:    health,
		governor:  governor,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     ctxSleep,
	}
}

// SetMetrics attaches the collectors Execute reports agent-call and
// task-duration observations to. Safe to leave unset.
func (c *Controller) SetMetrics(m *telemetry.Metrics) {
	c.metrics = m
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result is the terminal outcome of the retry loop.
type Result struct {
	Task    core.Task
	Success bool
	// Response is set when Success is true: the winning attempt's
	// ActionResponse, carrying the agent's output payload.
	Response *wire.ActionResponse
	// FinalError is set when Success is false; it is the classified error
	// from the last attempt.
	FinalError *core.AgentError
}

// Execute runs task to completion: Dispatched -> InProgress, then attempts
// 1..cfg.Retry.MaxAttempts against the target agent, retrying retryable
// failures with exponential backoff and giving up (DeadLettered) on the
// first non-retryable failure or after the final attempt.
func (c *Controller) Execute(ctx context.Context, task core.Task, cfg config.AgentExecutionConfig, correlationID string) (Result, error) {
	task, err := c.lifecycle.TaskTransition(ctx, task.ID, core.TaskDispatched, "dispatched to retry controller", 0, nil, c.now())
	if err != nil {
		return Result{}, fmt.Errorf("retrycontrol: dispatch task %s: %w", task.ID, err)
	}

	maxAttempts := cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	started := c.now()
	var lastErr *core.AgentError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		task, err = c.lifecycle.TaskTransition(ctx, task.ID, core.TaskInProgress, fmt.Sprintf("attempt %d", attempt), attempt, nil, c.now())
		if err != nil {
			return Result{}, fmt.Errorf("retrycontrol: mark in-progress: %w", err)
		}

		attemptStarted := c.now()
		outcome, err := c.attempt(ctx, task, cfg.Timeout, correlationID)
		if err != nil {
			return Result{}, err
		}

		if outcome.Err == nil {
			c.metrics.ObserveAgentCall(task.TargetAgent, c.now().Sub(attemptStarted), "")
			if err := c.health.RecordSuccess(ctx, task.TargetAgent, c.now()); err != nil {
				return Result{}, fmt.Errorf("retrycontrol: record health success: %w", err)
			}
			task, err = c.lifecycle.TaskTransition(ctx, task.ID, core.TaskSucceeded, "attempt succeeded", attempt, nil, c.now())
			if err != nil {
				return Result{}, fmt.Errorf("retrycontrol: mark succeeded: %w", err)
			}
			c.metrics.ObserveTaskDuration(c.now().Sub(started))
			return Result{Task: task, Success: true, Response: outcome.Response}, nil
		}

		lastErr = outcome.Err
		c.metrics.ObserveAgentCall(task.TargetAgent, c.now().Sub(attemptStarted), string(lastErr.Kind))
		if _, err := c.health.RecordFailure(ctx, task.TargetAgent, c.now(), cfg.Circuit.FailureThreshold, cfg.Circuit.Cooldown); err != nil {
			return Result{}, fmt.Errorf("retrycontrol: record health failure: %w", err)
		}

		retryable := lastErr.Kind.Retryable() && attempt < maxAttempts
		if retryable {
			task, err = c.lifecycle.TaskTransition(ctx, task.ID, core.TaskRetried, lastErr.Message, attempt, lastErr, c.now())
			if err != nil {
				return Result{}, fmt.Errorf("retrycontrol: mark retried: %w", err)
			}
			delay := computeBackoff(cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff, attempt)
			if err := c.sleep(ctx, delay); err != nil {
				return Result{}, fmt.Errorf("retrycontrol: backoff sleep: %w", err)
			}
			continue
		}

		task, err = c.lifecycle.TaskTransition(ctx, task.ID, core.TaskDeadLettered, lastErr.Message, attempt, lastErr, c.now())
		if err != nil {
			return Result{}, fmt.Errorf("retrycontrol: mark dead-lettered: %w", err)
		}
		c.metrics.ObserveTaskDuration(c.now().Sub(started))
		return Result{Task: task, Success: false, FinalError: lastErr}, nil
	}

	// Unreachable: the loop always returns on its final iteration.
	return Result{Task: task, Success: false, FinalError: lastErr}, nil
}

func (c *Controller) attempt(ctx context.Context, task core.Task, timeout time.Duration, correlationID string) (agentexec.Outcome, error) {
	var outcome agentexec.Outcome
	req := &wire.ActionRequest{
		RequestID:     task.ID,
		Tool:          task.TargetAgent,
		Action:        "execute",
		Context:       "",
		PlanID:        &task.PlanID,
		TaskID:        &task.ID,
		CorrelationID: &correlationID,
		Payload:       task.RequestPayload,
	}
	err := c.governor.Run(ctx, func() error {
		outcome = c.executor.Execute(ctx, req, timeout)
		return nil
	})
	if err != nil {
		return agentexec.Outcome{}, fmt.Errorf("retrycontrol: acquire concurrency slot: %w", err)
	}
	return outcome, nil
}
