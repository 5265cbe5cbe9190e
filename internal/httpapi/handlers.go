// Package httpapi exposes the orchestration core over HTTP: chat
// dispatch, plan lookup, and the liveness/readiness/metrics probes an
// operator points a load balancer and a Prometheus scraper at.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shayc/conductor/internal/dispatch"
	"github.com/shayc/conductor/internal/store"
	"github.com/shayc/conductor/internal/version"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// Handlers holds the collaborators the HTTP surface delegates to.
type Handlers struct {
	Dispatcher *dispatch.Dispatcher
	Lifecycle  *store.LifecycleStore
	Health     *store.HealthStore
	DB         *store.DB
}

type chatRequestBody struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`
}

type chatResponseBody struct {
	APIVersion    string      `json:"api_version,omitempty"`
	Status        string      `json:"status"`
	Output        string      `json:"output,omitempty"`
	Error         interface{} `json:"error,omitempty"`
	CorrelationID string      `json:"correlation_id"`
	PlanID        string      `json:"plan_id,omitempty"`
}

// PostChat handles POST /v1/chat.
func (h *Handlers) PostChat(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[chatRequestBody](w, r)
	if !ok {
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp := h.Dispatcher.Dispatch(r.Context(), dispatch.ChatRequest{
		Message:       body.Message,
		CorrelationID: body.CorrelationID,
		APIVersion:    body.APIVersion,
	})

	out := chatResponseBody{
		APIVersion:    resp.APIVersion,
		Status:        resp.Status,
		Output:        resp.Output,
		CorrelationID: resp.CorrelationID,
		PlanID:        resp.PlanID,
	}
	if resp.Error != nil {
		out.Error = resp.Error
	}
	// A well-formed request always gets a 200; only the JSON status field
	// distinguishes a business failure from success, matching the
	// taxonomy's split between malformed requests and agent failures.
	writeJSON(w, http.StatusOK, out)
}

type planSummary struct {
	ID            string      `json:"id"`
	CorrelationID string      `json:"correlation_id"`
	Status        string      `json:"status"`
	StatusDetail  string      `json:"status_detail,omitempty"`
	Tasks         []taskEntry `json:"tasks"`
}

type taskEntry struct {
	ID           string `json:"id"`
	TargetAgent  string `json:"target_agent"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
}

// GetPlan handles GET /v1/plans/{planID}.
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")

	plan, err := h.Lifecycle.GetPlan(r.Context(), planID)
	if err != nil {
		writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	tasks, err := h.Lifecycle.ListTasksByPlan(r.Context(), planID)
	if err != nil {
		slog.Error("httpapi: list tasks for plan", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load plan tasks")
		return
	}

	entries := make([]taskEntry, 0, len(tasks))
	for _, t := range tasks {
		entries = append(entries, taskEntry{
			ID:           t.ID,
			TargetAgent:  t.TargetAgent,
			Status:       string(t.Status),
			AttemptCount: t.AttemptCount,
		})
	}

	writeJSON(w, http.StatusOK, planSummary{
		ID:            plan.ID,
		CorrelationID: plan.CorrelationID,
		Status:        string(plan.Status),
		StatusDetail:  plan.StatusDetail,
		Tasks:         entries,
	})
}

type agentHealth struct {
	AgentName           string     `json:"agent_name"`
	Health              string     `json:"health"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	CircuitOpenUntil    *time.Time `json:"circuit_open_until,omitempty"`
}

// ListAgents handles GET /v1/agents: every known agent's health/circuit
// summary, for operators diagnosing an open circuit.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Health.List(r.Context())
	if err != nil {
		slog.Error("httpapi: list agent health", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load agent health")
		return
	}

	out := make([]agentHealth, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, agentHealth{
			AgentName:           s.AgentName,
			Health:              string(s.Health),
			ConsecutiveFailures: s.ConsecutiveFailures,
			LastSuccessAt:       s.LastSuccessAt,
			LastFailureAt:       s.LastFailureAt,
			CircuitOpenUntil:    s.CircuitOpenUntil,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

// Healthz handles GET /healthz: process liveness only.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Get()})
}

// Readyz handles GET /readyz: liveness plus a live store round trip.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("httpapi: failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
