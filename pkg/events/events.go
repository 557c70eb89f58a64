// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every workflow lifecycle event.
const Topic = "pipevine.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow run lifecycle events.
	WorkflowRunStartedEvent EventType = "workflow.run.started"
	WorkflowCompletedEvent  EventType = "workflow.completed"
	WorkflowFailedEvent     EventType = "workflow.failed"

	// Task lifecycle events.
	TaskCompletedEvent EventType = "task.completed"
	TaskFailedEvent    EventType = "task.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent creates the common envelope for a lifecycle event.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

type WorkflowRunStarted struct {
	BaseEvent

	TaskCount int `json:"task_count"`
}

func (w WorkflowRunStarted) GetType() EventType {
	return WorkflowRunStartedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (w WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowFailed struct {
	BaseEvent

	Error string `json:"error"`
}

func (w WorkflowFailed) GetType() EventType {
	return WorkflowFailedEvent
}

type TaskCompleted struct {
	BaseEvent

	TaskID           string `json:"task_id"`
	RecordsProcessed int    `json:"records_processed,omitempty"`
	DurationMS       int64  `json:"duration_ms"`
}

func (t TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}

type TaskFailed struct {
	BaseEvent

	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

func (t TaskFailed) GetType() EventType {
	return TaskFailedEvent
}
