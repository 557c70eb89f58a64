package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipevine/pipevine/pkg/adapter"
	"github.com/pipevine/pipevine/pkg/engine"
	"github.com/pipevine/pipevine/pkg/executor"
	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/persistence/file"
	"github.com/pipevine/pipevine/pkg/poller"
	"github.com/pipevine/pipevine/pkg/progress"
	"github.com/pipevine/pipevine/pkg/testutil"
)

// instantExecutor completes every task immediately.
type instantExecutor struct{}

func (instantExecutor) Execute(context.Context, *models.Task, any, string) *executor.Result {
	return &executor.Result{Status: models.TaskStatusCompleted, Output: []any{"ok"}}
}

func newTestService(t *testing.T) (*Workflow, *file.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	validator, err := adapter.NewValidator()
	require.NoError(t, err)

	registry := poller.NewRegistry(slog.Default(), store, nil, 10*time.Millisecond)
	t.Cleanup(registry.StopAll)

	tracker := progress.NewMemoryTracker()

	runner := engine.NewRunner(
		slog.Default(),
		store,
		instantExecutor{},
		adapter.New(slog.Default(), validator),
		registry,
		tracker,
		engine.WithProgressCadence(time.Hour),
	)

	return NewWorkflow(slog.Default(), store, runner, registry, tracker), store
}

func sampleTaskDefs() []TaskDefinition {
	return []TaskDefinition{
		{Name: "Clean input", Type: models.TaskTypeClean},
		{Name: "Build report", Type: models.TaskTypeReport, Agent: "reporter"},
	}
}

func waitForStatus(t *testing.T, store *file.Persistence, workflowID string, status models.WorkflowStatus) {
	t.Helper()

	require.Eventually(t, func() bool {
		workflow, err := store.WorkflowByID(context.Background(), workflowID)

		return err == nil && workflow.Status == status
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreate(t *testing.T) {
	service, _ := newTestService(t)

	workflow, err := service.Create(context.Background(), "Monthly ETL", "clean then report", sampleTaskDefs(), []string{"file-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, workflow.ID)
	assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
	assert.Equal(t, []string{"file-1"}, workflow.FileIDs)
	require.Len(t, workflow.Tasks, 2)

	for _, task := range workflow.Tasks {
		assert.NotEmpty(t, task.ID)
		assert.Equal(t, models.TaskStatusPending, task.Status)
		assert.Equal(t, 0, task.Progress)
	}

	assert.Equal(t, "reporter", workflow.Tasks[1].Agent)
}

func TestCreate_Validation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, "", "", sampleTaskDefs(), nil)
	assert.ErrorIs(t, err, ErrWorkflowNameRequired)
	assert.True(t, IsValidationError(err))

	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "Create", serviceErr.Op)
	assert.Equal(t, "WORKFLOW_NAME_REQUIRED", serviceErr.Code)

	_, err = service.Create(ctx, "No Tasks", "", nil, nil)
	assert.ErrorIs(t, err, ErrTasksRequired)
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "TASKS_REQUIRED", serviceErr.Code)

	_, err = service.Create(ctx, "Bad Type", "", []TaskDefinition{{Name: "Nope", Type: "transmogrify"}}, nil)
	assert.ErrorIs(t, err, ErrInvalidTaskType)
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "INVALID_TASK_TYPE", serviceErr.Code)
	assert.Contains(t, serviceErr.Message, "transmogrify")
}

func TestRun_CompletesWorkflow(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	workflow, err := service.Create(ctx, "Monthly ETL", "", sampleTaskDefs(), []string{"file-1"})
	require.NoError(t, err)

	require.NoError(t, service.Run(ctx, workflow.ID))
	waitForStatus(t, store, workflow.ID, models.WorkflowStatusCompleted)

	results, err := service.Results(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRun_RejectsRunningWorkflow(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow(
		testutil.WithWorkflowStatus(models.WorkflowStatusRunning),
		testutil.WithTasks(testutil.CreateTestTask(testutil.WithTaskStatus(models.TaskStatusRunning))),
	)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	err := service.Run(ctx, workflow.ID)
	assert.ErrorIs(t, err, ErrWorkflowAlreadyRunning)
	assert.True(t, IsConflictError(err))
}

func TestRun_RejectsTerminalWorkflow(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow(testutil.WithWorkflowStatus(models.WorkflowStatusCompleted))
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	err := service.Run(ctx, workflow.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotRunnable)
}

func TestRun_NotFound(t *testing.T) {
	service, _ := newTestService(t)

	err := service.Run(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrWorkflowNotFound))
}

func TestReRun_ResetsAndRuns(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow(
		testutil.WithWorkflowStatus(models.WorkflowStatusFailed),
		testutil.WithTasks(
			testutil.CreateTestTask(
				testutil.WithTaskName("Clean Records"),
				testutil.WithTaskStatus(models.TaskStatusFailed),
			),
			testutil.CreateTestTask(
				testutil.WithTaskName("Build Report"),
				testutil.WithTaskType(models.TaskTypeReport),
				testutil.WithTaskStatus(models.TaskStatusPending),
			),
		),
	)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	// Keep a failed attempt on record; re-run must not erase it.
	earlier := testutil.CreateTestResult(workflow.ID, workflow.Tasks[0].ID)
	earlier.Status = models.TaskStatusFailed
	earlier.CreatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.SaveResult(ctx, earlier))

	require.NoError(t, service.ReRun(ctx, workflow.ID))
	waitForStatus(t, store, workflow.ID, models.WorkflowStatusCompleted)

	results, err := service.Results(ctx, workflow.ID)
	require.NoError(t, err)
	// Old attempt plus one fresh attempt per task.
	assert.Len(t, results, 3)
}

func TestReRun_RejectsNonTerminalWorkflow(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	err := service.ReRun(ctx, workflow.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotRunnable)
}

func TestDelete(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	workflow, err := service.Create(ctx, "Disposable", "", sampleTaskDefs(), nil)
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, workflow.ID))

	_, err = service.FetchByID(ctx, workflow.ID)
	assert.True(t, errors.Is(err, ErrWorkflowNotFound))

	_, err = store.WorkflowByID(ctx, workflow.ID)
	assert.Error(t, err)
}

// countingStore counts workflow fetches so tests can assert the poller went
// quiet after a delete.
type countingStore struct {
	*file.Persistence

	mu      sync.Mutex
	fetches int
}

func (s *countingStore) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.Lock()
	s.fetches++
	s.mu.Unlock()

	return s.Persistence.WorkflowByID(ctx, id)
}

func (s *countingStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fetches
}

func TestDelete_StopsPolling(t *testing.T) {
	store := &countingStore{Persistence: file.NewPersistence(t.TempDir())}
	ctx := context.Background()

	validator, err := adapter.NewValidator()
	require.NoError(t, err)

	interval := 10 * time.Millisecond
	registry := poller.NewRegistry(slog.Default(), store, nil, interval)
	t.Cleanup(registry.StopAll)

	tracker := progress.NewMemoryTracker()
	runner := engine.NewRunner(
		slog.Default(),
		store,
		instantExecutor{},
		adapter.New(slog.Default(), validator),
		registry,
		tracker,
		engine.WithProgressCadence(time.Hour),
	)
	service := NewWorkflow(slog.Default(), store, runner, registry, tracker)

	workflow := testutil.CreateTestWorkflow(
		testutil.WithWorkflowStatus(models.WorkflowStatusRunning),
		testutil.WithTasks(testutil.CreateTestTask(testutil.WithTaskStatus(models.TaskStatusRunning))),
	)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	registry.Start(ctx, workflow.ID)
	time.Sleep(3 * interval)
	require.True(t, registry.Active(workflow.ID))

	require.NoError(t, service.Delete(ctx, workflow.ID))

	// Delete waits for the poller to exit, so no fetch may land after it.
	fetchesAtDelete := store.fetchCount()
	time.Sleep(5 * interval)
	assert.Equal(t, fetchesAtDelete, store.fetchCount())
	assert.False(t, registry.Active(workflow.ID))
}

func TestAddFiles_IdempotentUnion(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	workflow, err := service.Create(ctx, "With Files", "", sampleTaskDefs(), []string{"a"})
	require.NoError(t, err)

	require.NoError(t, service.AddFiles(ctx, workflow.ID, []string{"a", "b"}))
	require.NoError(t, service.AddFiles(ctx, workflow.ID, []string{"b"}))

	stored, err := service.FetchByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stored.FileIDs)
}

func TestList(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, "First Workflow", "", sampleTaskDefs(), nil)
	require.NoError(t, err)
	_, err = service.Create(ctx, "Second Workflow", "", sampleTaskDefs(), nil)
	require.NoError(t, err)

	workflows, err := service.List(ctx)
	require.NoError(t, err)
	assert.Len(t, workflows, 2)
}

func TestResults_NotFound(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Results(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrWorkflowNotFound))
}

func TestHealthCheck(t *testing.T) {
	service, _ := newTestService(t)

	message, ok := service.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.NotEmpty(t, message)
}
