package core

import "encoding/json"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskQueued       TaskStatus = "queued"
	TaskDispatched   TaskStatus = "dispatched"
	TaskInProgress   TaskStatus = "in_progress"
	TaskRetried      TaskStatus = "retried"
	TaskSucceeded    TaskStatus = "succeeded"
	TaskDeadLettered TaskStatus = "dead_lettered"
)

// Terminal reports whether the status is Succeeded or DeadLettered.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskDeadLettered
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskQueued, TaskDispatched, TaskInProgress, TaskRetried, TaskSucceeded, TaskDeadLettered:
		return true
	default:
		return false
	}
}

// taskTransitions enumerates the allowed task state graph:
//
//	Queued -> Dispatched -> InProgress -> (Retried -> InProgress)* -> Succeeded | DeadLettered
var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskQueued:     {TaskDispatched: true},
	TaskDispatched: {TaskInProgress: true},
	TaskInProgress: {TaskRetried: true, TaskSucceeded: true, TaskDeadLettered: true},
	TaskRetried:    {TaskInProgress: true},
}

// ValidTaskTransition reports whether moving from `from` to `to` is legal.
// Reapplying the same terminal status is treated as valid (idempotent).
func ValidTaskTransition(from, to TaskStatus) bool {
	if from == to && to.Terminal() {
		return true
	}
	return taskTransitions[from][to]
}

// Task is a durable record of one logical unit of agent work.
type Task struct {
	ID             string
	PlanID         string
	TargetAgent    string
	RequestPayload json.RawMessage
	AttemptCount   int
	Status         TaskStatus
	LastError      *AgentError
}
