package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// GetAll returns all workflows from the database, newest first.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , file_ids
		  , status
		  , created_at
		  , updated_at
		FROM workflows
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func(ctx context.Context, r *WorkflowRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflowBase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		err = r.loadWorkflowTasks(ctx, workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow tasks: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// GetByID returns a workflow with its tasks.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , file_ids
		  , status
		  , created_at
		  , updated_at
		FROM workflows
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := r.scanWorkflowBase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadWorkflowTasks(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to load workflow tasks: %w", err)
	}

	return workflow, nil
}

// Save upserts the workflow row and replaces its task rows in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	fileIDs, err := json.Marshal(workflow.FileIDs)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	upsert := `
		INSERT INTO workflows (id, name, description, file_ids, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , file_ids = EXCLUDED.file_ids
		  , status = EXCLUDED.status
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = transaction.ExecContext(ctx, upsert,
		workflow.ID, workflow.Name, workflow.Description, fileIDs,
		workflow.Status, workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		_ = transaction.Rollback()

		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	err = r.replaceTasks(ctx, transaction, workflow)
	if err != nil {
		_ = transaction.Rollback()

		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	err = transaction.Commit()
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Update applies a partial update and returns the stored workflow.
func (r *WorkflowRepository) Update(ctx context.Context, id string, update persistence.WorkflowUpdate) (*models.Workflow, error) {
	workflow, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		workflow.Name = *update.Name
	}

	if update.Description != nil {
		workflow.Description = *update.Description
	}

	if update.Status != nil {
		workflow.Status = *update.Status
	}

	if update.Tasks != nil {
		workflow.Tasks = update.Tasks
	}

	if update.FileIDs != nil {
		workflow.FileIDs = update.FileIDs
	}

	if err := r.Save(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

// Delete removes the workflow row; task and result rows cascade.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

func (r *WorkflowRepository) scanWorkflowBase(row rowScanner) (*models.Workflow, error) {
	var (
		workflow models.Workflow
		fileIDs  []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&fileIDs,
		&workflow.Status,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(fileIDs) > 0 {
		if err := json.Unmarshal(fileIDs, &workflow.FileIDs); err != nil {
			return nil, fmt.Errorf("failed to decode file_ids: %w", err)
		}
	}

	return &workflow, nil
}

func (r *WorkflowRepository) loadWorkflowTasks(ctx context.Context, workflow *models.Workflow) error {
	query := `
		SELECT
			id
		  , name
		  , description
		  , task_type
		  , status
		  , progress
		  , agent
		FROM workflow_tasks
		WHERE workflow_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow tasks: %w", err)
	}

	defer func(ctx context.Context, r *WorkflowRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		var (
			task  models.Task
			agent sql.NullString
		)

		err := rows.Scan(&task.ID, &task.Name, &task.Description, &task.Type, &task.Status, &task.Progress, &agent)
		if err != nil {
			return fmt.Errorf("failed to scan task: %w", err)
		}

		task.Agent = agent.String
		tasks = append(tasks, &task)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating tasks: %w", err)
	}

	workflow.Tasks = tasks

	return nil
}

func (r *WorkflowRepository) replaceTasks(ctx context.Context, transaction *sql.Tx, workflow *models.Workflow) error {
	_, err := transaction.ExecContext(ctx, "DELETE FROM workflow_tasks WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to clear workflow tasks: %w", err)
	}

	insert := `
		INSERT INTO workflow_tasks (workflow_id, id, name, description, task_type, status, progress, agent, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for position, task := range workflow.Tasks {
		var agent sql.NullString
		if task.Agent != "" {
			agent = sql.NullString{String: task.Agent, Valid: true}
		}

		_, err := transaction.ExecContext(ctx, insert,
			workflow.ID, task.ID, task.Name, task.Description,
			task.Type, task.Status, task.Progress, agent, position)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
		}
	}

	return nil
}
