// Package models defines the core domain models for data-transformation workflow orchestration.
package models

// TaskType identifies the kind of transformation a task delegates to the processing backend.
type TaskType string

const (
	TaskTypeClean    TaskType = "clean"
	TaskTypeMerge    TaskType = "merge"
	TaskTypeAnalyze  TaskType = "analyze"
	TaskTypeReport   TaskType = "report"
	TaskTypeValidate TaskType = "validate"
)

// KnownTaskTypes lists every task type the engine understands, in no particular order.
var KnownTaskTypes = []TaskType{
	TaskTypeClean,
	TaskTypeMerge,
	TaskTypeAnalyze,
	TaskTypeReport,
	TaskTypeValidate,
}

// Known reports whether t is one of the task types the engine understands.
// Unknown types are still executed, the input adapter just passes their payload
// through untouched.
func (t TaskType) Known() bool {
	for _, known := range KnownTaskTypes {
		if t == known {
			return true
		}
	}

	return false
}

// TaskStatus represents the lifecycle state of a single task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is one a task never leaves without an explicit re-run.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is one stage of a workflow, delegated to the external processing backend.
// Tasks are owned by their parent workflow and mutated only by the engine and the poller.
type Task struct {
	ID          string     `json:"id"          validate:"required"`
	Name        string     `json:"name"        validate:"required,min=3"`
	Description string     `json:"description"`
	Type        TaskType   `json:"type"        validate:"required"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"    validate:"min=0,max=100"`
	Agent       string     `json:"agent,omitempty"`
}

// Reset returns the task to its initial pending state for a re-run.
func (t *Task) Reset() {
	t.Status = TaskStatusPending
	t.Progress = 0
}
