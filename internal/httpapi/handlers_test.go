package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shayc/conductor/internal/agentexec"
	"github.com/shayc/conductor/internal/authn"
	"github.com/shayc/conductor/internal/concurrency"
	"github.com/shayc/conductor/internal/config"
	"github.com/shayc/conductor/internal/dispatch"
	"github.com/shayc/conductor/internal/planner"
	"github.com/shayc/conductor/internal/registry"
	"github.com/shayc/conductor/internal/retrycontrol"
	"github.com/shayc/conductor/internal/store"
	"github.com/shayc/conductor/internal/wire"
)

type scriptedInvoker struct {
	outcome agentexec.Outcome
}

func (s *scriptedInvoker) Execute(ctx context.Context, req *wire.ActionRequest, timeout time.Duration) agentexec.Outcome {
	return s.outcome
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	lifecycle := store.NewLifecycleStore(db)
	health := store.NewHealthStore(db)
	governor := concurrency.NewGovernor(4)
	invoker := &scriptedInvoker{outcome: agentexec.Outcome{
		Response: &wire.ActionResponse{RequestID: "x", Status: "success", Code: 0, Result: &wire.ActionResult{Data: "done"}},
	}}
	controller := retrycontrol.New(invoker, lifecycle, health, governor)

	reg := registry.New()
	reg.Register("echo_agent", registry.Entry{Path: "/bin/echo_agent"})
	p := planner.NewKeywordPlanner(reg, "echo_agent")

	agentsCfg := config.AgentsConfig{
		Default: config.AgentExecutionConfig{
			Timeout: time.Second,
			Retry:   config.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
			Circuit: config.CircuitConfig{FailureThreshold: 2, Cooldown: time.Minute},
		},
		Overlays: map[string]config.AgentExecutionConfig{},
	}
	d := dispatch.New(p, lifecycle, health, controller, agentsCfg)

	h := &Handlers{Dispatcher: d, Lifecycle: lifecycle, Health: health, DB: db}
	router := NewRouter(h, authn.NewStaticTokenVerifier([]string{"test-token"}))
	return httptest.NewServer(router)
}

func TestHealthzAndReadyz_NoAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestPostChat_RequiresBearerToken(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"message": "hi"})
	resp, err := http.Post(srv.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPostChat_SuccessWithValidToken(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"message": "hi"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out chatResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "success" || out.Output != "done" {
		t.Errorf("unexpected response: %+v", out)
	}

	// GET /v1/plans/{planID} should now resolve the plan just dispatched.
	planReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/plans/"+out.PlanID, nil)
	planReq.Header.Set("Authorization", "Bearer test-token")
	planResp, err := http.DefaultClient.Do(planReq)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer planResp.Body.Close()
	if planResp.StatusCode != http.StatusOK {
		t.Errorf("GET plan status = %d, want 200", planResp.StatusCode)
	}
}

func TestListAgents_ReturnsKnownAgents(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"message": "hi"})
	chatReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat", bytes.NewReader(body))
	chatReq.Header.Set("Authorization", "Bearer test-token")
	chatReq.Header.Set("Content-Type", "application/json")
	chatResp, err := http.DefaultClient.Do(chatReq)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	chatResp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Agents []struct {
			AgentName string `json:"agent_name"`
			Health    string `json:"health"`
		} `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Agents) != 1 || out.Agents[0].AgentName != "echo_agent" {
		t.Errorf("unexpected agents: %+v", out.Agents)
	}
}

func TestListAgents_RequiresBearerToken(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/agents")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPostChat_RejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat", bytes.NewReader([]byte("not json")))
	req.Header.Set("Authorization", "Bearer test-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
