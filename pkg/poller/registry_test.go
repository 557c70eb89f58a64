package poller

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/persistence/file"
	"github.com/pipevine/pipevine/pkg/testutil"
)

func runningWorkflowStore(t *testing.T) (*file.Persistence, *models.Workflow) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	workflow := testutil.CreateTestWorkflow(
		testutil.WithWorkflowStatus(models.WorkflowStatusRunning),
		testutil.WithTasks(testutil.CreateTestTask(testutil.WithTaskStatus(models.TaskStatusRunning))),
	)
	require.NoError(t, store.SaveWorkflow(context.Background(), workflow))

	return store, workflow
}

func TestRegistry_DuplicateStartReplacesPoller(t *testing.T) {
	store, workflow := runningWorkflowStore(t)
	registry := NewRegistry(slog.Default(), store, nil, testInterval)
	ctx := context.Background()

	first := registry.Start(ctx, workflow.ID)
	second := registry.Start(ctx, workflow.ID)

	require.NotSame(t, first, second)

	// The first poller is stopped by the replacement.
	waitDone(t, first)

	// The replacement stays live and registered.
	assert.True(t, registry.Active(workflow.ID))

	select {
	case <-second.Done():
		t.Fatal("replacement poller stopped unexpectedly")
	default:
	}

	registry.Stop(workflow.ID)
	assert.False(t, registry.Active(workflow.ID))
}

func TestRegistry_StopUnknownWorkflowIsNoOp(t *testing.T) {
	store, _ := runningWorkflowStore(t)
	registry := NewRegistry(slog.Default(), store, nil, testInterval)

	registry.Stop("never-started")
}

func TestRegistry_StopWaitsForExit(t *testing.T) {
	store, workflow := runningWorkflowStore(t)
	registry := NewRegistry(slog.Default(), store, nil, testInterval)

	p := registry.Start(context.Background(), workflow.ID)

	registry.Stop(workflow.ID)

	// After Stop returns the loop has fully exited.
	select {
	case <-p.Done():
	default:
		t.Fatal("Stop returned before the poll loop exited")
	}

	assert.False(t, registry.Active(workflow.ID))
}

func TestRegistry_StopAll(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	registry := NewRegistry(slog.Default(), store, nil, testInterval)
	ctx := context.Background()

	var workflows []*models.Workflow

	for range 3 {
		workflow := testutil.CreateTestWorkflow(
			testutil.WithWorkflowStatus(models.WorkflowStatusRunning),
			testutil.WithTasks(testutil.CreateTestTask(testutil.WithTaskStatus(models.TaskStatusRunning))),
		)
		require.NoError(t, store.SaveWorkflow(ctx, workflow))
		registry.Start(ctx, workflow.ID)
		workflows = append(workflows, workflow)
	}

	registry.StopAll()

	for _, workflow := range workflows {
		assert.False(t, registry.Active(workflow.ID))
	}
}

func TestRegistry_ContextCancellationStopsPoller(t *testing.T) {
	store, workflow := runningWorkflowStore(t)
	registry := NewRegistry(slog.Default(), store, nil, testInterval)

	ctx, cancel := context.WithCancel(context.Background())
	p := registry.Start(ctx, workflow.ID)

	cancel()
	waitDone(t, p)

	assert.Eventually(t, func() bool {
		return !registry.Active(workflow.ID)
	}, time.Second, testInterval)
}

func TestRegistry_DefaultInterval(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	registry := NewRegistry(slog.Default(), store, nil, 0)
	assert.Equal(t, DefaultInterval, registry.interval)
}
