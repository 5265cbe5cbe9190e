// Package core holds the durable data model shared by the dispatcher,
// retry controller, health store, and lifecycle log: plans, tasks, agent
// health records, and the state machines that govern their transitions.
package core

import "time"

// PlanStatus is the lifecycle state of a Plan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanSucceeded PlanStatus = "succeeded"
	PlanFailed    PlanStatus = "failed"
)

// Terminal reports whether the status is Succeeded or Failed.
func (s PlanStatus) Terminal() bool {
	return s == PlanSucceeded || s == PlanFailed
}

// Valid reports whether s is a known plan status.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanDraft, PlanPending, PlanRunning, PlanSucceeded, PlanFailed:
		return true
	default:
		return false
	}
}

// planTransitions enumerates the allowed plan state graph. Backward
// transitions and skipping states are both forbidden except that a
// terminal state may be re-applied to itself (idempotent no-op).
var planTransitions = map[PlanStatus]map[PlanStatus]bool{
	PlanDraft:   {PlanPending: true},
	PlanPending: {PlanRunning: true},
	PlanRunning: {PlanSucceeded: true, PlanFailed: true},
}

// ValidPlanTransition reports whether moving from `from` to `to` is legal.
// Reapplying the same terminal status is treated as valid (idempotent).
func ValidPlanTransition(from, to PlanStatus) bool {
	if from == to && to.Terminal() {
		return true
	}
	return planTransitions[from][to]
}

// Plan is a durable record of one accepted chat request.
type Plan struct {
	ID            string
	CorrelationID string
	CreatedAt     time.Time
	Status        PlanStatus
	StatusDetail  string
}
