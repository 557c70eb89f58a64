package models

import "time"

// TaskMetrics carries backend-reported execution metrics for a single task attempt.
// Extra holds provider-specific metrics the engine forwards without interpreting.
type TaskMetrics struct {
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	RecordsProcessed int            `json:"records_processed,omitempty"`
	ErrorsFound      []string       `json:"errors_found,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// WorkflowResult records one execution attempt of one task. Results are append-only
// per task id across re-runs and immutable once the attempt is terminal.
type WorkflowResult struct {
	ID          string      `json:"id"          validate:"required"`
	WorkflowID  string      `json:"workflow_id" validate:"required"`
	TaskID      string      `json:"task_id"     validate:"required"`
	Status      TaskStatus  `json:"status"`
	Output      any         `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	Metrics     TaskMetrics `json:"metrics"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
