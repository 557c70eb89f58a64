// Package progress records and exposes per-task progress for in-flight workflows.
package progress

import (
	"context"
	"sync"
)

// Subscriber receives progress updates as they are recorded. Percentage is 0-100.
type Subscriber func(workflowID, taskID string, percentage int)

// Tracker stores the latest progress percentage per task.
type Tracker interface {
	// Record stores the progress of one task and notifies subscribers.
	Record(ctx context.Context, workflowID, taskID string, percentage int) error

	// Get returns the last recorded progress for a task, or 0 when none was recorded.
	Get(ctx context.Context, workflowID, taskID string) (int, error)

	// Clear drops all recorded progress for a workflow.
	Clear(ctx context.Context, workflowID string) error

	// Subscribe registers a callback invoked on every Record.
	Subscribe(fn Subscriber)
}

// MemoryTracker keeps progress in process memory. It is the default tracker;
// deployments that want progress visible across processes use the Redis tracker.
type MemoryTracker struct {
	mu          sync.RWMutex
	progress    map[string]map[string]int
	subscribers []Subscriber
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		progress: make(map[string]map[string]int),
	}
}

func (t *MemoryTracker) Record(_ context.Context, workflowID, taskID string, percentage int) error {
	t.mu.Lock()

	tasks, ok := t.progress[workflowID]
	if !ok {
		tasks = make(map[string]int)
		t.progress[workflowID] = tasks
	}

	tasks[taskID] = percentage
	subscribers := make([]Subscriber, len(t.subscribers))
	copy(subscribers, t.subscribers)
	t.mu.Unlock()

	for _, fn := range subscribers {
		fn(workflowID, taskID, percentage)
	}

	return nil
}

func (t *MemoryTracker) Get(_ context.Context, workflowID, taskID string) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.progress[workflowID][taskID], nil
}

func (t *MemoryTracker) Clear(_ context.Context, workflowID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.progress, workflowID)

	return nil
}

func (t *MemoryTracker) Subscribe(fn Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.subscribers = append(t.subscribers, fn)
}
