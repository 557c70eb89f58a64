// Package engine drives the sequential execution of a workflow's task pipeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pipevine/pipevine/pkg/adapter"
	"github.com/pipevine/pipevine/pkg/eventbus"
	"github.com/pipevine/pipevine/pkg/events"
	"github.com/pipevine/pipevine/pkg/executor"
	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/otelhelper"
	"github.com/pipevine/pipevine/pkg/persistence"
	"github.com/pipevine/pipevine/pkg/poller"
	"github.com/pipevine/pipevine/pkg/progress"
)

const (
	// DefaultProgressCadence is how often estimated progress is emitted while a
	// task awaits its backend result.
	DefaultProgressCadence = 2 * time.Second

	// progressStep is the estimated progress bump per cadence tick. Estimated
	// progress never reaches 100; only a completed result does that.
	progressStep = 10
	progressCap  = 90
)

// TaskExecutor delegates one task to the processing backend. Implementations
// never return a Go error; failures are reported inside the result.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.Task, payload any, workflowID string) *executor.Result
}

// Runner executes a workflow's tasks strictly in order, chaining each task's
// output into the next task's input. One Runner drives any given workflow at a
// time; the poller independently reconciles and finalizes status.
type Runner struct {
	persistence persistence.Persistence
	executor    TaskExecutor
	adapter     *adapter.Adapter
	pollers     *poller.Registry
	tracker     progress.Tracker
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	cadence     time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithProgressCadence sets the interval for estimated progress updates.
func WithProgressCadence(cadence time.Duration) Option {
	return func(r *Runner) {
		r.cadence = cadence
	}
}

// WithTracer enables span creation around workflow runs.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithPublisher sets the event bus publisher for lifecycle notifications.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(r *Runner) {
		r.publisher = publisher
	}
}

// NewRunner creates a workflow runner.
func NewRunner(
	logger *slog.Logger,
	store persistence.Persistence,
	taskExecutor TaskExecutor,
	inputAdapter *adapter.Adapter,
	pollers *poller.Registry,
	tracker progress.Tracker,
	opts ...Option,
) *Runner {
	runner := &Runner{
		persistence: store,
		executor:    taskExecutor,
		adapter:     inputAdapter,
		pollers:     pollers,
		tracker:     tracker,
		logger:      logger.With("module", "engine"),
		tracer:      noop.NewTracerProvider().Tracer("engine"),
		cadence:     DefaultProgressCadence,
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

// InitialInput builds the first task's input: one opaque record per source file.
// The engine never parses files; downstream executors resolve the references.
func InitialInput(fileIDs []string) []any {
	records := make([]any, 0, len(fileIDs))
	for _, id := range fileIDs {
		records = append(records, map[string]any{"ref": id})
	}

	return records
}

// Run executes the workflow's tasks in declared order. Tasks already terminal
// are skipped, which lets a partially-run workflow resume without re-executing
// finished steps. The loop halts on the first failed task; tasks after it stay
// pending. The workflow is always left in a terminal, inspectable state once
// the run loop ends, either inline here or through the poller.
func (r *Runner) Run(ctx context.Context, workflowID string) error {
	runID := uuid.New().String()
	runStarted := time.Now()
	logger := r.logger.With("workflow_id", workflowID, "run_id", runID)

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "engine.run",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.RunIDKey, runID),
	)
	defer span.End()

	workflow, err := r.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowNameKey, workflow.Name))

	logger.InfoContext(ctx, "Starting workflow run", "tasks", len(workflow.Tasks), "files", len(workflow.FileIDs))

	workflow.Status = models.WorkflowStatusRunning
	if err := r.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return fmt.Errorf("failed to mark workflow %s running: %w", workflowID, err)
	}

	r.pollers.Start(ctx, workflowID)
	r.publish(ctx, workflowID, events.WorkflowRunStarted{
		BaseEvent: events.NewBaseEvent(events.WorkflowRunStartedEvent, workflowID),
		TaskCount: len(workflow.Tasks),
	})

	initialInput := InitialInput(workflow.FileIDs)

	var data any = initialInput

	for i, task := range workflow.Tasks {
		if task.Status.Terminal() {
			logger.DebugContext(ctx, "Skipping task in terminal state", "task_id", task.ID, "status", task.Status)

			continue
		}

		payload := r.adapter.Adapt(ctx, data, task.Type, i == 0, initialInput)

		result := r.runTask(ctx, workflow, task, payload)

		if result.Status == models.TaskStatusFailed {
			logger.WarnContext(ctx, "Task failed, halting workflow run", "task_id", task.ID, "error", result.Error)

			break
		}

		if result.Output == nil {
			logger.WarnContext(ctx, "Task produced no output, keeping previous data", "task_id", task.ID)
		} else {
			data = result.Output
		}
	}

	r.finalize(ctx, workflowID, runStarted)

	return nil
}

// runTask executes a single task and applies the outcome to the task and the
// result record. Any panic inside the task body is converted into a failed
// result at this boundary: a single unexpected error never aborts the process
// or leaves the workflow hanging in running.
func (r *Runner) runTask(ctx context.Context, workflow *models.Workflow, task *models.Task, payload any) (result *executor.Result) {
	logger := r.logger.With("workflow_id", workflow.ID, "task_id", task.ID, "task_type", task.Type)

	started := time.Now().UTC()
	record := &models.WorkflowResult{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		TaskID:     task.ID,
		Status:     models.TaskStatusRunning,
		StartedAt:  &started,
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "Unexpected error during task execution", "panic", rec)

			result = &executor.Result{
				Status: models.TaskStatusFailed,
				Error:  fmt.Sprintf("unexpected error during task execution: %v", rec),
			}
		}

		r.applyResult(ctx, workflow, task, record, result)
	}()

	task.Status = models.TaskStatusRunning
	task.Progress = 0

	if err := r.persistence.SaveWorkflow(ctx, workflow); err != nil {
		logger.WarnContext(ctx, "Failed to persist task start", "error", err)
	}

	if err := r.persistence.SaveResult(ctx, record); err != nil {
		logger.WarnContext(ctx, "Failed to persist result record", "error", err)
	}

	r.recordProgress(ctx, workflow.ID, task.ID, 0)

	stopEstimating := r.estimateProgress(ctx, workflow, task)
	defer stopEstimating()

	return r.executor.Execute(ctx, task, payload, workflow.ID)
}

// estimateProgress emits simulated progress at a fixed cadence while the remote
// call is in flight. Progress only ever moves up, and stays below 100 until the
// real result lands.
func (r *Runner) estimateProgress(ctx context.Context, workflow *models.Workflow, task *models.Task) func() {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)

		ticker := time.NewTicker(r.cadence)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if task.Progress+progressStep <= progressCap {
					task.Progress += progressStep
				}

				r.recordProgress(ctx, workflow.ID, task.ID, task.Progress)

				if err := r.persistence.SaveWorkflow(ctx, workflow); err != nil {
					r.logger.DebugContext(ctx, "Failed to persist estimated progress", "task_id", task.ID, "error", err)
				}
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			close(done)
		})

		<-finished
	}
}

// applyResult moves the task and its result record into their terminal state
// and persists both.
func (r *Runner) applyResult(ctx context.Context, workflow *models.Workflow, task *models.Task, record *models.WorkflowResult, result *executor.Result) {
	completed := time.Now().UTC()

	record.Status = result.Status
	record.Output = result.Output
	record.Error = result.Error
	record.Metrics = result.Metrics
	record.CompletedAt = &completed

	task.Status = result.Status
	if result.Status == models.TaskStatusCompleted {
		task.Progress = 100
	} else {
		task.Progress = 0
	}

	if err := r.persistence.SaveWorkflow(ctx, workflow); err != nil {
		r.logger.WarnContext(ctx, "Failed to persist task outcome", "task_id", task.ID, "error", err)
	}

	if err := r.persistence.SaveResult(ctx, record); err != nil {
		r.logger.WarnContext(ctx, "Failed to persist task result", "task_id", task.ID, "error", err)
	}

	r.recordProgress(ctx, workflow.ID, task.ID, task.Progress)

	switch result.Status {
	case models.TaskStatusFailed:
		r.publish(ctx, workflow.ID, events.TaskFailed{
			BaseEvent: events.NewBaseEvent(events.TaskFailedEvent, workflow.ID),
			TaskID:    task.ID,
			Error:     result.Error,
		})
	default:
		r.publish(ctx, workflow.ID, events.TaskCompleted{
			BaseEvent:        events.NewBaseEvent(events.TaskCompletedEvent, workflow.ID),
			TaskID:           task.ID,
			RecordsProcessed: result.Metrics.RecordsProcessed,
			DurationMS:       result.Metrics.ProcessingTimeMS,
		})
	}
}

// finalize resolves the overall workflow status once the run loop has ended.
// A halt on failure leaves later tasks pending, so a failed task alone makes
// the workflow failed; the workflow is never left hanging in running. The
// status write is idempotent, so racing with the poller is harmless.
func (r *Runner) finalize(ctx context.Context, workflowID string, runStarted time.Time) {
	workflow, err := r.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to fetch workflow for finalization", "workflow_id", workflowID, "error", err)

		return
	}

	if workflow.Status.Terminal() {
		return
	}

	newStatus := workflow.DeriveStatus()
	if newStatus == models.WorkflowStatusRunning {
		if !workflow.AnyTaskFailed() {
			return
		}

		newStatus = models.WorkflowStatusFailed
	}

	if _, err := r.persistence.UpdateWorkflow(ctx, workflowID, persistence.WorkflowUpdate{Status: &newStatus}); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist final workflow status", "workflow_id", workflowID, "error", err)

		return
	}

	r.logger.InfoContext(ctx, "Workflow run finished", "workflow_id", workflowID, "status", newStatus)

	switch newStatus {
	case models.WorkflowStatusFailed:
		r.publish(ctx, workflowID, events.WorkflowFailed{
			BaseEvent: events.NewBaseEvent(events.WorkflowFailedEvent, workflowID),
			Error:     "one or more tasks failed",
		})
	default:
		r.publish(ctx, workflowID, events.WorkflowCompleted{
			BaseEvent: events.NewBaseEvent(events.WorkflowCompletedEvent, workflowID),
			Duration:  time.Since(runStarted),
		})
	}
}

func (r *Runner) recordProgress(ctx context.Context, workflowID, taskID string, percentage int) {
	if r.tracker == nil {
		return
	}

	if err := r.tracker.Record(ctx, workflowID, taskID, percentage); err != nil {
		r.logger.DebugContext(ctx, "Failed to record progress", "task_id", taskID, "error", err)
	}
}

func (r *Runner) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	if err := r.publisher.Publish(ctx, workflowID, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish lifecycle event", "workflow_id", workflowID, "error", err)
	}
}
