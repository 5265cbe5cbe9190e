package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shayc/conductor/internal/core"
)

// HealthStore records per-agent health and circuit-breaker state. Updates
// are atomic per agent: the whole read-modify-write cycle happens while
// holding db.mu, the store-wide mutex that serializes every DB access.
type HealthStore struct {
	db *DB
}

// NewHealthStore returns a HealthStore backed by db.
func NewHealthStore(db *DB) *HealthStore {
	return &HealthStore{db: db}
}

// RecordSuccess resets the agent to Healthy with zero consecutive
// failures, clearing any open circuit.
func (s *HealthStore) RecordSuccess(ctx context.Context, agent string, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO agent_health (agent_name, health, consecutive_failures, last_success_at, last_failure_at, circuit_open_until)
		VALUES (?, 'healthy', 0, ?, NULL, NULL)
		ON CONFLICT(agent_name) DO UPDATE SET
			health = 'healthy',
			consecutive_failures = 0,
			last_success_at = excluded.last_success_at,
			last_failure_at = NULL,
			circuit_open_until = NULL
	`, agent, formatTime(now))
	if err != nil {
		return fmt.Errorf("store: record success for %s: %w", agent, err)
	}
	return nil
}

// RecordFailure increments the agent's consecutive failure count and, if
// it has reached circuit.FailureThreshold, opens the circuit until
// now+circuit.Cooldown. It returns the resulting summary.
func (s *HealthStore) RecordFailure(ctx context.Context, agent string, now time.Time, threshold uint32, cooldown time.Duration) (core.HealthSummary, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var existingFailures uint32
	var lastSuccess sql.NullString
	row := s.db.conn.QueryRowContext(ctx, `SELECT consecutive_failures, last_success_at FROM agent_health WHERE agent_name = ?`, agent)
	if err := row.Scan(&existingFailures, &lastSuccess); err != nil && err != sql.ErrNoRows {
		return core.HealthSummary{}, fmt.Errorf("store: read existing failures for %s: %w", agent, err)
	}

	newFailures := existingFailures + 1

	var health core.HealthState
	var circuitOpenUntil *time.Time
	if newFailures >= threshold {
		deadline := now.Add(cooldown)
		health = core.Unhealthy
		circuitOpenUntil = &deadline
	} else {
		health = core.Degraded
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO agent_health (agent_name, health, consecutive_failures, last_failure_at, last_success_at, circuit_open_until)
		VALUES (?, ?, ?, ?, NULL, ?)
		ON CONFLICT(agent_name) DO UPDATE SET
			health = excluded.health,
			consecutive_failures = excluded.consecutive_failures,
			last_failure_at = excluded.last_failure_at,
			circuit_open_until = excluded.circuit_open_until
	`, agent, string(health), newFailures, formatTime(now), nullableTimeString(circuitOpenUntil))
	if err != nil {
		return core.HealthSummary{}, fmt.Errorf("store: record failure for %s: %w", agent, err)
	}

	return core.HealthSummary{
		AgentName:           agent,
		Health:              health,
		ConsecutiveFailures: newFailures,
		LastSuccessAt:       parseNullableTime(lastSuccess),
		LastFailureAt:       &now,
		CircuitOpenUntil:    circuitOpenUntil,
	}, nil
}

// Get returns the current summary for agent, defaulting to Healthy/0 if
// no record exists.
func (s *HealthStore) Get(ctx context.Context, agent string) (core.HealthSummary, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	row := s.db.conn.QueryRowContext(ctx, `
		SELECT health, consecutive_failures, last_success_at, last_failure_at, circuit_open_until
		FROM agent_health WHERE agent_name = ?
	`, agent)

	var health string
	var failures uint32
	var lastSuccess, lastFailure, circuitOpen sql.NullString
	err := row.Scan(&health, &failures, &lastSuccess, &lastFailure, &circuitOpen)
	if err == sql.ErrNoRows {
		return core.DefaultHealthSummary(agent), nil
	}
	if err != nil {
		return core.HealthSummary{}, fmt.Errorf("store: get health for %s: %w", agent, err)
	}

	return core.HealthSummary{
		AgentName:           agent,
		Health:              core.HealthState(health),
		ConsecutiveFailures: failures,
		LastSuccessAt:       parseNullableTime(lastSuccess),
		LastFailureAt:       parseNullableTime(lastFailure),
		CircuitOpenUntil:    parseNullableTime(circuitOpen),
	}, nil
}

// List returns every known agent health record.
func (s *HealthStore) List(ctx context.Context) ([]core.HealthSummary, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT agent_name, health, consecutive_failures, last_success_at, last_failure_at, circuit_open_until
		FROM agent_health ORDER BY agent_name
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list health: %w", err)
	}
	defer rows.Close()

	var out []core.HealthSummary
	for rows.Next() {
		var agent, health string
		var failures uint32
		var lastSuccess, lastFailure, circuitOpen sql.NullString
		if err := rows.Scan(&agent, &health, &failures, &lastSuccess, &lastFailure, &circuitOpen); err != nil {
			return nil, fmt.Errorf("store: scan health row: %w", err)
		}
		out = append(out, core.HealthSummary{
			AgentName:           agent,
			Health:              core.HealthState(health),
			ConsecutiveFailures: failures,
			LastSuccessAt:       parseNullableTime(lastSuccess),
			LastFailureAt:       parseNullableTime(lastFailure),
			CircuitOpenUntil:    parseNullableTime(circuitOpen),
		})
	}
	return out, rows.Err()
}
