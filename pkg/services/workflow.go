package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pipevine/pipevine/pkg/engine"
	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/persistence"
	"github.com/pipevine/pipevine/pkg/poller"
	"github.com/pipevine/pipevine/pkg/progress"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// TaskDefinition describes one task of a new workflow.
type TaskDefinition struct {
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Type        models.TaskType `json:"type"        validate:"required"`
	Agent       string          `json:"agent,omitempty"`
}

// Workflow is the orchestration service: the surface surrounding code calls to
// create, run and delete data-transformation workflows. It owns the poller
// registry, so poller lifecycle follows run and delete calls.
type Workflow struct {
	persistence persistence.Persistence
	runner      *engine.Runner
	pollers     *poller.Registry
	tracker     progress.Tracker
	logger      *slog.Logger
}

// NewWorkflow creates the workflow service.
func NewWorkflow(
	logger *slog.Logger,
	store persistence.Persistence,
	runner *engine.Runner,
	pollers *poller.Registry,
	tracker progress.Tracker,
) *Workflow {
	return &Workflow{
		persistence: store,
		runner:      runner,
		pollers:     pollers,
		tracker:     tracker,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create assembles a draft workflow from task definitions: task ids assigned,
// every task pending at progress 0.
func (w *Workflow) Create(ctx context.Context, name, description string, taskDefs []TaskDefinition, fileIDs []string) (*models.Workflow, error) {
	if name == "" {
		return nil, NewValidationError(
			"Create",
			"WORKFLOW_NAME_REQUIRED",
			"workflow name is required",
			ErrWorkflowNameRequired,
		)
	}

	if len(taskDefs) == 0 {
		return nil, NewValidationError(
			"Create",
			"TASKS_REQUIRED",
			"workflow must have at least one task",
			ErrTasksRequired,
		)
	}

	tasks := make([]*models.Task, 0, len(taskDefs))

	for _, def := range taskDefs {
		if !def.Type.Known() {
			return nil, NewValidationError(
				"Create",
				"INVALID_TASK_TYPE",
				fmt.Sprintf("task %q has unknown type %q", def.Name, def.Type),
				ErrInvalidTaskType,
			)
		}

		tasks = append(tasks, &models.Task{
			ID:          uuid.New().String(),
			Name:        def.Name,
			Description: def.Description,
			Type:        def.Type,
			Status:      models.TaskStatusPending,
			Progress:    0,
			Agent:       def.Agent,
		})
	}

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Tasks:       tasks,
		FileIDs:     fileIDs,
		Status:      models.WorkflowStatusDraft,
	}
	if workflow.FileIDs == nil {
		workflow.FileIDs = []string{}
	}

	if err := w.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Created workflow", "workflow_id", workflow.ID, "tasks", len(tasks))

	return workflow, nil
}

// Run starts orchestration of the workflow asynchronously. Progress is
// observable through the tracker or by polling the store. Running an
// already-running workflow is rejected; running a terminal workflow requires
// an explicit ReRun.
func (w *Workflow) Run(ctx context.Context, workflowID string) error {
	workflow, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return err
	}

	if workflow.Status == models.WorkflowStatusRunning && !workflow.AllTasksTerminal() {
		return ErrWorkflowAlreadyRunning
	}

	if workflow.Status.Terminal() {
		return fmt.Errorf("workflow %s is %s: %w", workflowID, workflow.Status, ErrWorkflowNotRunnable)
	}

	// The run owns its own context: it must outlive the HTTP request that
	// triggered it.
	go func() {
		if err := w.runner.Run(context.WithoutCancel(ctx), workflowID); err != nil {
			w.logger.Error("Workflow run aborted", "workflow_id", workflowID, "error", err)
		}
	}()

	return nil
}

// ReRun resets every task of a terminal workflow and starts a fresh run over
// the same task definitions. Earlier results stay on record.
func (w *Workflow) ReRun(ctx context.Context, workflowID string) error {
	workflow, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return err
	}

	if !workflow.Status.Terminal() {
		return fmt.Errorf("workflow %s is %s: %w", workflowID, workflow.Status, ErrWorkflowNotRunnable)
	}

	for _, task := range workflow.Tasks {
		task.Reset()
	}

	status := models.WorkflowStatusDraft
	if _, err := w.persistence.UpdateWorkflow(ctx, workflowID, persistence.WorkflowUpdate{
		Status: &status,
		Tasks:  workflow.Tasks,
	}); err != nil {
		return fmt.Errorf("failed to reset workflow %s: %w", workflowID, err)
	}

	if w.tracker != nil {
		if err := w.tracker.Clear(ctx, workflowID); err != nil {
			w.logger.WarnContext(ctx, "Failed to clear recorded progress", "workflow_id", workflowID, "error", err)
		}
	}

	return w.Run(ctx, workflowID)
}

// Delete removes the workflow and everything it owns. Any active poller is
// stopped synchronously first, so no status fetch for this id happens after
// Delete returns.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	w.pollers.Stop(workflowID)

	if w.tracker != nil {
		if err := w.tracker.Clear(ctx, workflowID); err != nil {
			w.logger.WarnContext(ctx, "Failed to clear recorded progress", "workflow_id", workflowID, "error", err)
		}
	}

	if err := w.persistence.DeleteWorkflow(ctx, workflowID); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", workflowID, err)
	}

	w.logger.InfoContext(ctx, "Deleted workflow", "workflow_id", workflowID)

	return nil
}

// AddFiles merges file ids into the workflow's file set. The union is
// idempotent: adding the same ids twice changes nothing.
func (w *Workflow) AddFiles(ctx context.Context, workflowID string, fileIDs []string) error {
	workflow, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return err
	}

	workflow.AddFileIDs(fileIDs)

	if _, err := w.persistence.UpdateWorkflow(ctx, workflowID, persistence.WorkflowUpdate{FileIDs: workflow.FileIDs}); err != nil {
		return fmt.Errorf("failed to update workflow files: %w", err)
	}

	return nil
}

// FetchByID returns one workflow.
func (w *Workflow) FetchByID(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.persistence.WorkflowByID(ctx, workflowID)
}

// List returns all workflows.
func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	return w.persistence.Workflows(ctx)
}

// Results returns every recorded task attempt for the workflow.
func (w *Workflow) Results(ctx context.Context, workflowID string) ([]*models.WorkflowResult, error) {
	if _, err := w.persistence.WorkflowByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return w.persistence.WorkflowResults(ctx, workflowID)
}
