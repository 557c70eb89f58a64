package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/testutil"
)

func TestExecute_Success(t *testing.T) {
	var received Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tasks/execute", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output":            []any{map[string]any{"row": 1}},
			"records_processed": 42,
			"errors_found":      []string{"minor glitch"},
		})
	}))
	defer server.Close()

	client := NewClient(slog.Default(), server.URL)
	task := testutil.CreateTestTask(
		testutil.WithTaskType(models.TaskTypeClean),
		testutil.WithAgent("cleaner"),
	)

	result := client.Execute(context.Background(), task, []any{map[string]any{"ref": "file-1"}}, "wf-1")

	assert.Equal(t, models.TaskStatusCompleted, result.Status)
	assert.Empty(t, result.Error)
	assert.Equal(t, []any{map[string]any{"row": float64(1)}}, result.Output)
	assert.Equal(t, 42, result.Metrics.RecordsProcessed)
	assert.Equal(t, []string{"minor glitch"}, result.Metrics.ErrorsFound)
	assert.GreaterOrEqual(t, result.Metrics.ProcessingTimeMS, int64(0))

	assert.Equal(t, models.TaskTypeClean, received.TaskType)
	assert.Equal(t, "cleaner", received.Config.Agent)
}

func TestExecute_RemoteErrorMessagePreference(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"error field wins", `{"error": "bad input", "message": "ignored"}`, "bad input"},
		{"message as fallback", `{"message": "something broke"}`, "something broke"},
		{"generic when body is opaque", `not json at all`, "task execution failed with status 500"},
		{"generic when body is empty object", `{}`, "task execution failed with status 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(slog.Default(), server.URL)
			task := testutil.CreateTestTask()

			result := client.Execute(context.Background(), task, nil, "wf-1")

			assert.Equal(t, models.TaskStatusFailed, result.Status)
			assert.Equal(t, tt.expected, result.Error)
			assert.Nil(t, result.Output)
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	timeout := 50 * time.Millisecond
	client := NewClient(slog.Default(), server.URL, WithTimeout(timeout))
	task := testutil.CreateTestTask()

	result := client.Execute(context.Background(), task, nil, "wf-1")

	assert.Equal(t, models.TaskStatusFailed, result.Status)
	assert.Contains(t, result.Error, "timed out after "+timeout.String())
	assert.Contains(t, result.Error, task.ID)
	assert.GreaterOrEqual(t, result.Metrics.ProcessingTimeMS, timeout.Milliseconds())
}

func TestExecute_TransportFailure(t *testing.T) {
	// Connecting to a closed server fails at the transport level.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client := NewClient(slog.Default(), server.URL)
	task := testutil.CreateTestTask()

	result := client.Execute(context.Background(), task, nil, "wf-1")

	assert.Equal(t, models.TaskStatusFailed, result.Status)
	assert.Contains(t, result.Error, "failed to reach processing backend")
}

func TestExecute_MalformedSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"output": `))
	}))
	defer server.Close()

	client := NewClient(slog.Default(), server.URL)
	task := testutil.CreateTestTask()

	result := client.Execute(context.Background(), task, nil, "wf-1")

	assert.Equal(t, models.TaskStatusFailed, result.Status)
	assert.Contains(t, result.Error, "failed to decode backend response")
}
