// Package executor provides the client that delegates a single task to the remote
// processing backend.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/otelhelper"
)

const DefaultTimeout = 120 * time.Second

// Request is the wire payload sent to the processing backend for one task.
type Request struct {
	TaskType  models.TaskType `json:"task_type"`
	InputData any             `json:"input_data"`
	Config    RequestConfig   `json:"config"`
}

// RequestConfig carries task-level execution hints for the backend.
type RequestConfig struct {
	Agent       string `json:"agent,omitempty"`
	Description string `json:"description,omitempty"`
}

// response is the backend's success payload.
type response struct {
	Output           any      `json:"output"`
	RecordsProcessed *int     `json:"records_processed,omitempty"`
	ErrorsFound      []string `json:"errors_found,omitempty"`
}

// errorResponse is the backend's failure payload. Either field may carry the message.
type errorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Result is the outcome of one delegated task call. Status is always completed
// or failed; the client never raises transport errors to its caller.
type Result struct {
	Status  models.TaskStatus
	Output  any
	Metrics models.TaskMetrics
	Error   string
}

// Client calls the remote task backend. It is stateless; retries are the
// engine's concern, not the client's.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each backend call. On expiry the call is reported as a
// failed result, never left pending.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithTracer enables span creation around backend calls.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// NewClient creates a task executor client for the backend at baseURL.
func NewClient(logger *slog.Logger, baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: logger.With("module", "task_executor"),
		tracer: noop.NewTracerProvider().Tracer("executor"),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Execute delegates one task to the backend and reports the outcome. Wall-clock
// duration around the remote call is always recorded in the result metrics,
// success or failure.
func (c *Client) Execute(ctx context.Context, task *models.Task, payload any, workflowID string) *Result {
	logger := c.logger.With("workflow_id", workflowID, "task_id", task.ID, "task_type", task.Type)

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "executor.execute",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.TaskIDKey, task.ID),
		attribute.String(otelhelper.TaskTypeKey, string(task.Type)),
	)
	defer span.End()

	logger.InfoContext(ctx, "Delegating task to processing backend")

	started := time.Now()
	result := c.call(ctx, task, payload)
	result.Metrics.ProcessingTimeMS = time.Since(started).Milliseconds()

	if result.Status == models.TaskStatusFailed {
		otelhelper.SetError(span, errors.New(result.Error))
		logger.WarnContext(ctx, "Task execution failed", "error", result.Error)
	} else {
		logger.InfoContext(ctx, "Task execution completed",
			"duration_ms", result.Metrics.ProcessingTimeMS,
			"records_processed", result.Metrics.RecordsProcessed)
	}

	return result
}

func (c *Client) call(ctx context.Context, task *models.Task, payload any) *Result {
	body, err := json.Marshal(Request{
		TaskType:  task.Type,
		InputData: payload,
		Config: RequestConfig{
			Agent:       task.Agent,
			Description: task.Description,
		},
	})
	if err != nil {
		return failure(fmt.Sprintf("failed to encode task payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks/execute", bytes.NewReader(body))
	if err != nil {
		return failure(fmt.Sprintf("failed to build backend request: %v", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return failure(fmt.Sprintf("task %s timed out after %s", task.ID, c.httpClient.Timeout))
		}

		return failure(fmt.Sprintf("failed to reach processing backend: %v", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(fmt.Sprintf("failed to read backend response: %v", err))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return failure(remoteMessage(data, resp.StatusCode))
	}

	var decoded response

	if err := json.Unmarshal(data, &decoded); err != nil {
		return failure(fmt.Sprintf("failed to decode backend response: %v", err))
	}

	result := &Result{
		Status: models.TaskStatusCompleted,
		Output: decoded.Output,
		Metrics: models.TaskMetrics{
			ErrorsFound: decoded.ErrorsFound,
		},
	}

	if decoded.RecordsProcessed != nil {
		result.Metrics.RecordsProcessed = *decoded.RecordsProcessed
	}

	return result
}

// remoteMessage extracts the backend-supplied error message, falling back to a
// generic one per status code.
func remoteMessage(body []byte, statusCode int) string {
	var decoded errorResponse

	if err := json.Unmarshal(body, &decoded); err == nil {
		if decoded.Error != "" {
			return decoded.Error
		}

		if decoded.Message != "" {
			return decoded.Message
		}
	}

	return fmt.Sprintf("task execution failed with status %d", statusCode)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }

	return errors.As(err, &netErr) && netErr.Timeout()
}

func failure(message string) *Result {
	if message == "" {
		message = "task execution failed"
	}

	return &Result{
		Status: models.TaskStatusFailed,
		Error:  message,
	}
}
