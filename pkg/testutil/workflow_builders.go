// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/pipevine/pipevine/pkg/models"
)

// CreateTestTask creates a test Task with default values that can be overridden.
func CreateTestTask(overrides ...func(*models.Task)) *models.Task {
	task := &models.Task{
		ID:          uuid.New().String(),
		Name:        "Test Task",
		Description: "A test task",
		Type:        models.TaskTypeClean,
		Status:      models.TaskStatusPending,
		Progress:    0,
	}

	for _, override := range overrides {
		override(task)
	}

	return task
}

// WithTaskType sets the task type.
func WithTaskType(taskType models.TaskType) func(*models.Task) {
	return func(t *models.Task) {
		t.Type = taskType
	}
}

// WithTaskStatus sets the task status, forcing progress to match terminal states.
func WithTaskStatus(status models.TaskStatus) func(*models.Task) {
	return func(t *models.Task) {
		t.Status = status

		switch status {
		case models.TaskStatusCompleted:
			t.Progress = 100
		case models.TaskStatusFailed:
			t.Progress = 0
		}
	}
}

// WithTaskName sets the task name.
func WithTaskName(name string) func(*models.Task) {
	return func(t *models.Task) {
		t.Name = name
	}
}

// WithAgent sets the agent the task is dispatched to.
func WithAgent(agent string) func(*models.Task) {
	return func(t *models.Task) {
		t.Agent = agent
	}
}

// CreateTestWorkflow creates a test Workflow with a single clean task. Pass
// overrides to adjust tasks, status, or file ids.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A test workflow",
		Tasks:       []*models.Task{CreateTestTask()},
		FileIDs:     []string{"file-1"},
		Status:      models.WorkflowStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithTasks replaces the workflow's tasks.
func WithTasks(tasks ...*models.Task) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Tasks = tasks
	}
}

// WithWorkflowStatus sets the workflow status.
func WithWorkflowStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithFileIDs replaces the workflow's file ids.
func WithFileIDs(fileIDs ...string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.FileIDs = fileIDs
	}
}

// WithWorkflowName sets the workflow name.
func WithWorkflowName(name string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Name = name
	}
}

// CreateTestResult creates a test WorkflowResult tied to the given workflow and task.
func CreateTestResult(workflowID, taskID string, overrides ...func(*models.WorkflowResult)) *models.WorkflowResult {
	result := &models.WorkflowResult{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		TaskID:     taskID,
		Status:     models.TaskStatusCompleted,
		Output:     []any{map[string]any{"rows": float64(10)}},
		CreatedAt:  time.Now().UTC(),
	}

	for _, override := range overrides {
		override(result)
	}

	return result
}
