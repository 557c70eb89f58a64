package progress

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTracker_RecordAndGet(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	require.NoError(t, tracker.Record(ctx, "wf-1", "task-1", 30))
	require.NoError(t, tracker.Record(ctx, "wf-1", "task-2", 100))
	require.NoError(t, tracker.Record(ctx, "wf-2", "task-1", 50))

	got, err := tracker.Get(ctx, "wf-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, 30, got)

	got, err = tracker.Get(ctx, "wf-2", "task-1")
	require.NoError(t, err)
	assert.Equal(t, 50, got)

	// Later records overwrite earlier ones.
	require.NoError(t, tracker.Record(ctx, "wf-1", "task-1", 60))
	got, err = tracker.Get(ctx, "wf-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, 60, got)
}

func TestMemoryTracker_GetUnknownIsZero(t *testing.T) {
	tracker := NewMemoryTracker()

	got, err := tracker.Get(context.Background(), "missing", "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestMemoryTracker_Clear(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	require.NoError(t, tracker.Record(ctx, "wf-1", "task-1", 70))
	require.NoError(t, tracker.Clear(ctx, "wf-1"))

	got, err := tracker.Get(ctx, "wf-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	// Clearing an unknown workflow is a no-op.
	require.NoError(t, tracker.Clear(ctx, "missing"))
}

func TestMemoryTracker_Subscribe(t *testing.T) {
	tracker := NewMemoryTracker()

	type update struct {
		workflowID string
		taskID     string
		percentage int
	}

	var (
		mu      sync.Mutex
		updates []update
	)

	tracker.Subscribe(func(workflowID, taskID string, percentage int) {
		mu.Lock()
		defer mu.Unlock()

		updates = append(updates, update{workflowID, taskID, percentage})
	})

	ctx := context.Background()
	require.NoError(t, tracker.Record(ctx, "wf-1", "task-1", 10))
	require.NoError(t, tracker.Record(ctx, "wf-1", "task-1", 20))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, updates, 2)
	assert.Equal(t, update{"wf-1", "task-1", 10}, updates[0])
	assert.Equal(t, update{"wf-1", "task-1", 20}, updates[1])
}

func TestMemoryTracker_ConcurrentRecord(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func(pct int) {
			defer wg.Done()

			assert.NoError(t, tracker.Record(ctx, "wf-1", "task-1", pct))
		}(i * 5)
	}

	wg.Wait()

	got, err := tracker.Get(ctx, "wf-1", "task-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, 0)
	assert.LessOrEqual(t, got, 95)
}
