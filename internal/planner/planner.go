// Package planner turns an incoming chat message into a target agent
// name and an agent-specific request payload. The dispatcher depends
// only on the Planner interface; how a plan is produced is pluggable.
package planner

import (
	"context"
	"encoding/json"
)

// Plan is the outcome of planning one chat message: which agent should
// handle it, and the opaque payload to hand that agent.
type Plan struct {
	AgentName string
	Payload   json.RawMessage
}

// Planner derives a Plan from a user message. A non-nil error means
// planning itself failed (the caller maps this to ErrPlanningFailed);
// it is distinct from the target agent later failing to execute.
type Planner interface {
	Plan(ctx context.Context, message string) (Plan, error)
}
