package models

import (
	"slices"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
//
// The only legal transitions are draft → running → {completed | failed}.
// A terminal workflow never returns to draft or running except through an
// explicit re-run, which resets its tasks and starts a fresh attempt.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// Terminal reports whether the workflow reached a final state.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

// Workflow is an ordered pipeline of tasks operating over a shared set of input files.
// It owns its tasks: deleting the workflow deletes them.
type Workflow struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description"`
	Tasks       []*Task           `json:"tasks"       validate:"dive"`
	FileIDs     []string          `json:"file_ids"`
	Status      WorkflowStatus    `json:"status"      validate:"required"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Results     []*WorkflowResult `json:"results,omitempty"`
}

// TaskByID returns the task with the given id, or nil when no such task exists.
func (w *Workflow) TaskByID(id string) *Task {
	for _, task := range w.Tasks {
		if task.ID == id {
			return task
		}
	}

	return nil
}

// AllTasksTerminal reports whether every task reached completed or failed.
// A workflow without tasks is considered terminal.
func (w *Workflow) AllTasksTerminal() bool {
	for _, task := range w.Tasks {
		if !task.Status.Terminal() {
			return false
		}
	}

	return true
}

// AnyTaskFailed reports whether at least one task failed.
func (w *Workflow) AnyTaskFailed() bool {
	for _, task := range w.Tasks {
		if task.Status == TaskStatusFailed {
			return true
		}
	}

	return false
}

// DeriveStatus computes the overall status from the task statuses: failed if any
// task failed and all are terminal, completed if every task completed, running
// otherwise.
func (w *Workflow) DeriveStatus() WorkflowStatus {
	if !w.AllTasksTerminal() {
		return WorkflowStatusRunning
	}

	for _, task := range w.Tasks {
		if task.Status == TaskStatusFailed {
			return WorkflowStatusFailed
		}
	}

	return WorkflowStatusCompleted
}

// AddFileIDs merges the given file ids into the workflow's file set. Duplicates
// are dropped, existing order is preserved, and the call is idempotent.
func (w *Workflow) AddFileIDs(fileIDs []string) {
	for _, id := range fileIDs {
		if !slices.Contains(w.FileIDs, id) {
			w.FileIDs = append(w.FileIDs, id)
		}
	}
}
