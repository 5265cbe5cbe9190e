package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shayc/conductor/internal/registry"
)

// ErrPlanningFailed is returned when no rule matches and no fallback
// agent is configured, or when the chosen agent is not registered — the
// "gatekeeper" check the original keyword router performed before ever
// creating a task.
var ErrPlanningFailed = fmt.Errorf("planner: planning failed")

// Rule maps a set of case-insensitive keywords to a target agent. The
// first rule (in order) with a matching keyword wins.
type Rule struct {
	Agent    string
	Keywords []string
}

// KeywordPlanner is the default planning strategy: a small ordered table
// of keyword rules with a fallback agent, validated against a live
// registry so a plan is never created for an agent that cannot run.
type KeywordPlanner struct {
	rules    []Rule
	fallback string
	registry *registry.Registry
}

// NewKeywordPlanner returns a KeywordPlanner evaluating rules in order
// and falling back to fallbackAgent when no rule's keywords match.
func NewKeywordPlanner(reg *registry.Registry, fallbackAgent string, rules ...Rule) *KeywordPlanner {
	return &KeywordPlanner{rules: rules, fallback: fallbackAgent, registry: reg}
}

// Plan implements Planner. It lower-cases the message once and checks
// each rule's keywords against it in order; the payload it produces
// simply wraps the original message so agents receive the caller's
// intent verbatim.
func (p *KeywordPlanner) Plan(ctx context.Context, message string) (Plan, error) {
	lower := strings.ToLower(message)

	agent := p.fallback
	for _, rule := range p.rules {
		if matchesAny(lower, rule.Keywords) {
			agent = rule.Agent
			break
		}
	}

	if agent == "" {
		return Plan{}, fmt.Errorf("%w: no rule matched and no fallback agent configured", ErrPlanningFailed)
	}

	if _, err := p.registry.Resolve(agent); err != nil {
		return Plan{}, fmt.Errorf("%w: agent %q is not registered or active", ErrPlanningFailed, agent)
	}

	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return Plan{}, fmt.Errorf("%w: failed to build request payload: %v", ErrPlanningFailed, err)
	}

	return Plan{AgentName: agent, Payload: payload}, nil
}

func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
