package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/persistence"
)

// ResultRepository handles workflow-result database operations.
type ResultRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewResultRepository creates a new result repository.
func NewResultRepository(db *sql.DB, logger *slog.Logger) *ResultRepository {
	return &ResultRepository{db: db, logger: logger}
}

// GetByWorkflow returns every recorded attempt for the workflow, oldest first.
func (r *ResultRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowResult, error) {
	query := `
		SELECT
			id
		  , workflow_id
		  , task_id
		  , status
		  , output
		  , error
		  , metrics
		  , started_at
		  , completed_at
		  , created_at
		FROM workflow_results
		WHERE workflow_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow results: %w", err)
	}

	defer func(ctx context.Context, r *ResultRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	results := make([]*models.WorkflowResult, 0)

	for rows.Next() {
		result, err := r.scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// Save upserts one result attempt.
func (r *ResultRepository) Save(ctx context.Context, result *models.WorkflowResult) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	output, err := json.Marshal(result.Output)
	if err != nil {
		return &persistence.ResultError{Op: "Save", WorkflowID: result.WorkflowID, ResultID: result.ID, Err: err}
	}

	metrics, err := json.Marshal(result.Metrics)
	if err != nil {
		return &persistence.ResultError{Op: "Save", WorkflowID: result.WorkflowID, ResultID: result.ID, Err: err}
	}

	var errorText sql.NullString
	if result.Error != "" {
		errorText = sql.NullString{String: result.Error, Valid: true}
	}

	upsert := `
		INSERT INTO workflow_results (id, workflow_id, task_id, status, output, error, metrics, started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , output = EXCLUDED.output
		  , error = EXCLUDED.error
		  , metrics = EXCLUDED.metrics
		  , started_at = EXCLUDED.started_at
		  , completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, upsert,
		result.ID, result.WorkflowID, result.TaskID, result.Status,
		output, errorText, metrics, result.StartedAt, result.CompletedAt, result.CreatedAt)
	if err != nil {
		return &persistence.ResultError{Op: "Save", WorkflowID: result.WorkflowID, ResultID: result.ID, Err: err}
	}

	return nil
}

func (r *ResultRepository) scanResult(rows *sql.Rows) (*models.WorkflowResult, error) {
	var (
		result    models.WorkflowResult
		output    []byte
		errorText sql.NullString
		metrics   []byte
	)

	err := rows.Scan(
		&result.ID,
		&result.WorkflowID,
		&result.TaskID,
		&result.Status,
		&output,
		&errorText,
		&metrics,
		&result.StartedAt,
		&result.CompletedAt,
		&result.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	result.Error = errorText.String

	if len(output) > 0 {
		if err := json.Unmarshal(output, &result.Output); err != nil {
			return nil, fmt.Errorf("failed to decode output: %w", err)
		}
	}

	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &result.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}
	}

	return &result, nil
}
