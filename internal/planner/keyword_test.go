package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/shayc/conductor/internal/registry"
)

func newTestRegistry() *registry.Registry {
	r := registry.New()
	r.Register("git_agent", registry.Entry{Path: "/bin/git_agent"})
	r.Register("llm_router_agent", registry.Entry{Path: "/bin/llm_router_agent"})
	return r
}

func TestKeywordPlanner_MatchesRuleInOrder(t *testing.T) {
	p := NewKeywordPlanner(newTestRegistry(), "llm_router_agent",
		Rule{Agent: "git_agent", Keywords: []string{"git", "commit"}},
	)

	tests := []struct {
		message   string
		wantAgent string
	}{
		{"please COMMIT my changes", "git_agent"},
		{"what does git status show", "git_agent"},
		{"summarize this document", "llm_router_agent"},
	}
	for _, tt := range tests {
		plan, err := p.Plan(context.Background(), tt.message)
		if err != nil {
			t.Fatalf("Plan(%q): %v", tt.message, err)
		}
		if plan.AgentName != tt.wantAgent {
			t.Errorf("Plan(%q).AgentName = %q, want %q", tt.message, plan.AgentName, tt.wantAgent)
		}
		if len(plan.Payload) == 0 {
			t.Errorf("Plan(%q) produced empty payload", tt.message)
		}
	}
}

func TestKeywordPlanner_UnregisteredAgentFailsPlanning(t *testing.T) {
	reg := registry.New() // empty: nothing registered
	p := NewKeywordPlanner(reg, "llm_router_agent",
		Rule{Agent: "git_agent", Keywords: []string{"git"}},
	)

	if _, err := p.Plan(context.Background(), "git status"); !errors.Is(err, ErrPlanningFailed) {
		t.Errorf("expected ErrPlanningFailed for unregistered agent, got %v", err)
	}
}

func TestKeywordPlanner_NoFallbackConfigured(t *testing.T) {
	p := NewKeywordPlanner(newTestRegistry(), "")

	if _, err := p.Plan(context.Background(), "anything"); !errors.Is(err, ErrPlanningFailed) {
		t.Errorf("expected ErrPlanningFailed when no fallback is configured, got %v", err)
	}
}
