package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shayc/conductor/internal/core"
)

// ErrInvalidTransition is returned when a requested plan or task status
// change is not reachable from the record's current status.
var ErrInvalidTransition = fmt.Errorf("store: invalid lifecycle transition")

// LifecycleStore is the durable, append-only log of plan and task state
// changes. Every transition is validated against the state machines in
// package core before it is applied, and recorded twice: once in the
// current-state table (plans/tasks) and once in the transition-history
// table (plan_transitions/task_transitions), all within a single
// transaction so a reader never observes one without the other.
type LifecycleStore struct {
	db *DB
}

// NewLifecycleStore returns a LifecycleStore backed by db.
func NewLifecycleStore(db *DB) *LifecycleStore {
	return &LifecycleStore{db: db}
}

// CreatePlan inserts a new plan in PlanDraft status and records the
// initial transition.
func (s *LifecycleStore) CreatePlan(ctx context.Context, planID, correlationID string, now time.Time) (core.Plan, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return core.Plan{}, fmt.Errorf("store: begin create plan: %w", err)
	}
	defer tx.Rollback()

	plan := core.Plan{ID: planID, CorrelationID: correlationID, CreatedAt: now, Status: core.PlanDraft}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plans (id, correlation_id, status, status_detail, created_at)
		VALUES (?, ?, ?, '', ?)
	`, plan.ID, plan.CorrelationID, string(plan.Status), formatTime(now)); err != nil {
		return core.Plan{}, fmt.Errorf("store: insert plan: %w", err)
	}

	if err := insertPlanTransition(ctx, tx, plan.ID, plan.Status, "created", correlationID, now); err != nil {
		return core.Plan{}, err
	}

	if err := tx.Commit(); err != nil {
		return core.Plan{}, fmt.Errorf("store: commit create plan: %w", err)
	}
	return plan, nil
}

// PlanTransition moves the plan identified by planID to status `to`,
// validating the transition against core.ValidPlanTransition and
// recording it in the transition history. It returns the updated plan.
func (s *LifecycleStore) PlanTransition(ctx context.Context, planID string, to core.PlanStatus, detail, correlationID string, now time.Time) (core.Plan, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return core.Plan{}, fmt.Errorf("store: begin plan transition: %w", err)
	}
	defer tx.Rollback()

	plan, err := getPlanTx(ctx, tx, planID)
	if err != nil {
		return core.Plan{}, err
	}

	if !core.ValidPlanTransition(plan.Status, to) {
		return core.Plan{}, fmt.Errorf("%w: plan %s %s -> %s", ErrInvalidTransition, planID, plan.Status, to)
	}

	if plan.Status == to && to.Terminal() {
		if err := tx.Commit(); err != nil {
			return core.Plan{}, fmt.Errorf("store: commit no-op plan transition: %w", err)
		}
		return plan, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE plans SET status = ?, status_detail = ? WHERE id = ?
	`, string(to), detail, planID); err != nil {
		return core.Plan{}, fmt.Errorf("store: update plan status: %w", err)
	}

	if err := insertPlanTransition(ctx, tx, planID, to, detail, correlationID, now); err != nil {
		return core.Plan{}, err
	}

	if err := tx.Commit(); err != nil {
		return core.Plan{}, fmt.Errorf("store: commit plan transition: %w", err)
	}

	plan.Status = to
	plan.StatusDetail = detail
	return plan, nil
}

// GetPlan returns the current record for planID.
func (s *LifecycleStore) GetPlan(ctx context.Context, planID string) (core.Plan, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return getPlanTx(ctx, s.db.conn, planID)
}

// CreateTask inserts a new task in TaskQueued status and records the
// initial transition.
func (s *LifecycleStore) CreateTask(ctx context.Context, taskID, planID, targetAgent string, payload json.RawMessage, now time.Time) (core.Task, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return core.Task{}, fmt.Errorf("store: begin create task: %w", err)
	}
	defer tx.Rollback()

	task := core.Task{
		ID:             taskID,
		PlanID:         planID,
		TargetAgent:    targetAgent,
		RequestPayload: payload,
		Status:         core.TaskQueued,
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, plan_id, target_agent, request_payload, attempt_count, status, last_error)
		VALUES (?, ?, ?, ?, 0, ?, NULL)
	`, task.ID, task.PlanID, task.TargetAgent, string(task.RequestPayload), string(task.Status)); err != nil {
		return core.Task{}, fmt.Errorf("store: insert task: %w", err)
	}

	if err := insertTaskTransition(ctx, tx, task.ID, task.Status, "created", 0, now); err != nil {
		return core.Task{}, err
	}

	if err := tx.Commit(); err != nil {
		return core.Task{}, fmt.Errorf("store: commit create task: %w", err)
	}
	return task, nil
}

// TaskTransition moves the task identified by taskID to status `to`,
// validating against core.ValidTaskTransition. attempt records the
// 1-based attempt number this transition corresponds to (0 when not
// attempt-specific, e.g. the initial Queued->Dispatched move). Moving
// into TaskInProgress or TaskRetried also bumps attempt_count.
func (s *LifecycleStore) TaskTransition(ctx context.Context, taskID string, to core.TaskStatus, detail string, attempt int, lastErr *core.AgentError, now time.Time) (core.Task, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return core.Task{}, fmt.Errorf("store: begin task transition: %w", err)
	}
	defer tx.Rollback()

	task, err := getTaskTx(ctx, tx, taskID)
	if err != nil {
		return core.Task{}, err
	}

	if !core.ValidTaskTransition(task.Status, to) {
		return core.Task{}, fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, taskID, task.Status, to)
	}

	if task.Status == to && to.Terminal() {
		if err := tx.Commit(); err != nil {
			return core.Task{}, fmt.Errorf("store: commit no-op task transition: %w", err)
		}
		return task, nil
	}

	attemptCount := task.AttemptCount
	if to == core.TaskInProgress || to == core.TaskRetried {
		attemptCount++
	}

	var lastErrJSON sql.NullString
	if lastErr != nil {
		b, err := json.Marshal(lastErr)
		if err != nil {
			return core.Task{}, fmt.Errorf("store: marshal last error: %w", err)
		}
		lastErrJSON = sql.NullString{String: string(b), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, attempt_count = ?, last_error = ? WHERE id = ?
	`, string(to), attemptCount, lastErrJSON, taskID); err != nil {
		return core.Task{}, fmt.Errorf("store: update task status: %w", err)
	}

	if err := insertTaskTransition(ctx, tx, taskID, to, detail, attempt, now); err != nil {
		return core.Task{}, err
	}

	if err := tx.Commit(); err != nil {
		return core.Task{}, fmt.Errorf("store: commit task transition: %w", err)
	}

	task.Status = to
	task.AttemptCount = attemptCount
	task.LastError = lastErr
	return task, nil
}

// GetTask returns the current record for taskID.
func (s *LifecycleStore) GetTask(ctx context.Context, taskID string) (core.Task, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return getTaskTx(ctx, s.db.conn, taskID)
}

// ListTasksByPlan returns every task belonging to planID, in insertion
// order.
func (s *LifecycleStore) ListTasksByPlan(ctx context.Context, planID string) ([]core.Task, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, plan_id, target_agent, request_payload, attempt_count, status, last_error
		FROM tasks WHERE plan_id = ? ORDER BY rowid
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks for plan %s: %w", planID, err)
	}
	defer rows.Close()

	var out []core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting read helpers
// run inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getPlanTx(ctx context.Context, q querier, planID string) (core.Plan, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, correlation_id, status, status_detail, created_at
		FROM plans WHERE id = ?
	`, planID)

	var plan core.Plan
	var createdAt string
	if err := row.Scan(&plan.ID, &plan.CorrelationID, &plan.Status, &plan.StatusDetail, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return core.Plan{}, fmt.Errorf("store: plan %s: %w", planID, sql.ErrNoRows)
		}
		return core.Plan{}, fmt.Errorf("store: get plan %s: %w", planID, err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return core.Plan{}, fmt.Errorf("store: parse plan created_at: %w", err)
	}
	plan.CreatedAt = t
	return plan, nil
}

func getTaskTx(ctx context.Context, q querier, taskID string) (core.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, plan_id, target_agent, request_payload, attempt_count, status, last_error
		FROM tasks WHERE id = ?
	`, taskID)
	return scanTaskRow(row, taskID)
}

func scanTaskRow(row *sql.Row, taskID string) (core.Task, error) {
	var task core.Task
	var payload string
	var lastErr sql.NullString
	if err := row.Scan(&task.ID, &task.PlanID, &task.TargetAgent, &payload, &task.AttemptCount, &task.Status, &lastErr); err != nil {
		if err == sql.ErrNoRows {
			return core.Task{}, fmt.Errorf("store: task %s: %w", taskID, sql.ErrNoRows)
		}
		return core.Task{}, fmt.Errorf("store: get task %s: %w", taskID, err)
	}
	task.RequestPayload = json.RawMessage(payload)
	if lastErr.Valid {
		var ae core.AgentError
		if err := json.Unmarshal([]byte(lastErr.String), &ae); err != nil {
			return core.Task{}, fmt.Errorf("store: unmarshal last error for task %s: %w", taskID, err)
		}
		task.LastError = &ae
	}
	return task, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(rs rowScanner) (core.Task, error) {
	var task core.Task
	var payload string
	var lastErr sql.NullString
	if err := rs.Scan(&task.ID, &task.PlanID, &task.TargetAgent, &payload, &task.AttemptCount, &task.Status, &lastErr); err != nil {
		return core.Task{}, fmt.Errorf("store: scan task row: %w", err)
	}
	task.RequestPayload = json.RawMessage(payload)
	if lastErr.Valid {
		var ae core.AgentError
		if err := json.Unmarshal([]byte(lastErr.String), &ae); err != nil {
			return core.Task{}, fmt.Errorf("store: unmarshal last error: %w", err)
		}
		task.LastError = &ae
	}
	return task, nil
}

func insertPlanTransition(ctx context.Context, tx *sql.Tx, planID string, status core.PlanStatus, detail, correlationID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plan_transitions (plan_id, status, detail, correlation_id, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, planID, string(status), detail, correlationID, formatTime(now)); err != nil {
		return fmt.Errorf("store: insert plan transition: %w", err)
	}
	return nil
}

func insertTaskTransition(ctx context.Context, tx *sql.Tx, taskID string, status core.TaskStatus, detail string, attempt int, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_transitions (task_id, status, detail, attempt, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, taskID, string(status), detail, attempt, formatTime(now)); err != nil {
		return fmt.Errorf("store: insert task transition: %w", err)
	}
	return nil
}
