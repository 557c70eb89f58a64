package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipevine/pipevine/pkg/channels/gochannel"
	"github.com/pipevine/pipevine/pkg/events"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	publisher, subscriber, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(publisher, subscriber)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []*events.TaskCompleted
	)

	require.NoError(t, bus.Handle(events.TaskCompletedEvent, func(_ context.Context, event any) error {
		taskCompleted, ok := event.(*events.TaskCompleted)
		require.True(t, ok)

		mu.Lock()
		defer mu.Unlock()

		received = append(received, taskCompleted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	event := events.TaskCompleted{
		BaseEvent:        events.NewBaseEvent(events.TaskCompletedEvent, "wf-1"),
		TaskID:           "task-1",
		RecordsProcessed: 7,
		DurationMS:       120,
	}
	require.NoError(t, bus.Publish(ctx, "wf-1", event))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "wf-1", received[0].WorkflowID)
	assert.Equal(t, "task-1", received[0].TaskID)
	assert.Equal(t, 7, received[0].RecordsProcessed)
}

func TestWatermillEventBus_UnhandledEventTypesAreAcked(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		failed int
	)

	require.NoError(t, bus.Handle(events.WorkflowFailedEvent, func(context.Context, any) error {
		mu.Lock()
		defer mu.Unlock()

		failed++

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	// No handler for completion events; they are acked and dropped.
	require.NoError(t, bus.Publish(ctx, "wf-1", events.WorkflowCompleted{
		BaseEvent: events.NewBaseEvent(events.WorkflowCompletedEvent, "wf-1"),
	}))
	require.NoError(t, bus.Publish(ctx, "wf-1", events.WorkflowFailed{
		BaseEvent: events.NewBaseEvent(events.WorkflowFailedEvent, "wf-1"),
		Error:     "boom",
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return failed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
