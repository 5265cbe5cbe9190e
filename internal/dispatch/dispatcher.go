// Package dispatch implements the plan dispatcher: the top-level entry
// point that turns a chat request into a plan, a task, and ultimately a
// response, coordinating the planner, health store, lifecycle log, and
// retry controller.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shayc/conductor/internal/config"
	"github.com/shayc/conductor/internal/core"
	"github.com/shayc/conductor/internal/planner"
	"github.com/shayc/conductor/internal/retrycontrol"
	"github.com/shayc/conductor/internal/store"
	"github.com/shayc/conductor/internal/telemetry"
)

// ChatRequest is the inbound request accepted from the HTTP collaborator.
type ChatRequest struct {
	Message       string
	CorrelationID string
	APIVersion    string
}

// ChatResponse is the outbound response returned to the HTTP collaborator.
type ChatResponse struct {
	APIVersion    string
	Status        string // "success" or "error"
	Output        string
	Error         *core.OrchestratorError
	CorrelationID string
	PlanID        string
}

// Dispatcher accepts chat requests, applies the pre-flight circuit check,
// records plan/task creation, and hands the task to the retry controller.
type Dispatcher struct {
	planner    planner.Planner
	lifecycle  *store.LifecycleStore
	health     *store.HealthStore
	controller *retrycontrol.Controller
	agentCfg   config.AgentsConfig
	metrics    *telemetry.Metrics

	now  func() time.Time
	newID func() string
}

// New wires a Dispatcher from its collaborators.
func New(p planner.Planner, lifecycle *store.LifecycleStore, health *store.HealthStore, controller *retrycontrol.Controller, agentCfg config.AgentsConfig) *Dispatcher {
	return &Dispatcher{
		planner:    p,
		lifecycle:  lifecycle,
		health:     health,
		controller: controller,
		agentCfg:   agentCfg,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
	}
}

// SetMetrics attaches the collectors Dispatch reports plan admission and
// terminal-failure counts to. Safe to leave unset.
func (d *Dispatcher) SetMetrics(m *telemetry.Metrics) {
	d.metrics = m
}

// Dispatch runs one chat request end-to-end per spec.md §4.1: plan, check
// the target agent's circuit, create the plan/task records, and drive the
// retry controller to a terminal outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req ChatRequest) ChatResponse {
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = d.newID()
	}

	resp := ChatResponse{APIVersion: req.APIVersion, CorrelationID: correlationID}

	plan, err := d.planner.Plan(ctx, req.Message)
	if err != nil {
		resp.Status = "error"
		resp.Error = &core.OrchestratorError{Code: core.ErrPlanningFailed, Message: err.Error()}
		d.metrics.PlanFailed(string(core.ErrPlanningFailed))
		return resp
	}

	d.metrics.PlanStarted()
	now := d.now()
	planID := d.newID()

	health, err := d.health.Get(ctx, plan.AgentName)
	if err != nil {
		return d.internalError(resp, fmt.Errorf("dispatch: read health for %s: %w", plan.AgentName, err))
	}
	if health.InCooldown(now) {
		if _, txErr := d.lifecycle.CreatePlan(ctx, planID, correlationID, now); txErr != nil {
			return d.internalError(resp, fmt.Errorf("dispatch: create plan for unavailable agent: %w", txErr))
		}
		detail := fmt.Sprintf("agent %s temporarily unavailable", plan.AgentName)
		// The plan graph has no Draft->Failed edge (a plan is never queued
		// against an agent it never got to run against), so the refusal
		// still walks Pending->Running before landing on Failed; these are
		// all recorded within the same short-circuit request.
		if _, txErr := d.lifecycle.PlanTransition(ctx, planID, core.PlanPending, "plan constructed", correlationID, now); txErr != nil {
			return d.internalError(resp, fmt.Errorf("dispatch: promote plan to pending for unavailable agent: %w", txErr))
		}
		if _, txErr := d.lifecycle.PlanTransition(ctx, planID, core.PlanRunning, detail, correlationID, now); txErr != nil {
			return d.internalError(resp, fmt.Errorf("dispatch: promote plan to running for unavailable agent: %w", txErr))
		}
		if _, txErr := d.lifecycle.PlanTransition(ctx, planID, core.PlanFailed, detail, correlationID, now); txErr != nil {
			return d.internalError(resp, fmt.Errorf("dispatch: fail plan for unavailable agent: %w", txErr))
		}
		resp.PlanID = planID
		resp.Status = "error"
		resp.Error = &core.OrchestratorError{Code: core.ErrAgentUnavailable, Message: detail}
		d.metrics.PlanFailed(string(core.ErrAgentUnavailable))
		return resp
	}

	if _, err := d.lifecycle.CreatePlan(ctx, planID, correlationID, now); err != nil {
		return d.internalError(resp, fmt.Errorf("dispatch: create plan: %w", err))
	}
	resp.PlanID = planID

	if _, err := d.lifecycle.PlanTransition(ctx, planID, core.PlanPending, "plan constructed", correlationID, now); err != nil {
		return d.internalError(resp, fmt.Errorf("dispatch: promote plan to pending: %w", err))
	}
	if _, err := d.lifecycle.PlanTransition(ctx, planID, core.PlanRunning, "dispatching task", correlationID, now); err != nil {
		return d.internalError(resp, fmt.Errorf("dispatch: promote plan to running: %w", err))
	}

	taskID := d.newID()
	task, err := d.lifecycle.CreateTask(ctx, taskID, planID, plan.AgentName, plan.Payload, now)
	if err != nil {
		return d.internalError(resp, fmt.Errorf("dispatch: create task: %w", err))
	}

	cfg := d.agentCfg.Resolve(plan.AgentName)
	result, err := d.controller.Execute(ctx, task, cfg, correlationID)
	if err != nil {
		return d.internalError(resp, fmt.Errorf("dispatch: run retry controller: %w", err))
	}

	if result.Success {
		if _, err := d.lifecycle.PlanTransition(ctx, planID, core.PlanSucceeded, "task succeeded", correlationID, d.now()); err != nil {
			return d.internalError(resp, fmt.Errorf("dispatch: mark plan succeeded: %w", err))
		}
		resp.Status = "success"
		resp.Output = successOutput(result)
		return resp
	}

	detail := "task exhausted its retry budget"
	if result.FinalError != nil {
		detail = result.FinalError.Message
	}
	if _, err := d.lifecycle.PlanTransition(ctx, planID, core.PlanFailed, detail, correlationID, d.now()); err != nil {
		return d.internalError(resp, fmt.Errorf("dispatch: mark plan failed: %w", err))
	}

	resp.Status = "error"
	code := core.ErrBackendFailure
	if result.FinalError != nil {
		code = result.FinalError.Kind.ErrorCode()
	}
	resp.Error = &core.OrchestratorError{Code: code, Message: detail}
	d.metrics.PlanFailed(string(code))
	return resp
}

func successOutput(result retrycontrol.Result) string {
	if result.Response != nil && result.Response.Result != nil {
		return result.Response.Result.Data
	}
	return ""
}

func (d *Dispatcher) internalError(resp ChatResponse, err error) ChatResponse {
	resp.Status = "error"
	resp.Error = &core.OrchestratorError{Code: core.ErrInternal, Message: err.Error()}
	return resp
}
