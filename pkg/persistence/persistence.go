// Package persistence provides the data storage abstraction for workflows and their results.
package persistence

import (
	"context"

	"github.com/pipevine/pipevine/pkg/models"
)

// WorkflowUpdate carries a partial update of a workflow. Nil fields are left untouched.
type WorkflowUpdate struct {
	Name        *string
	Description *string
	Status      *models.WorkflowStatus
	Tasks       []*models.Task
	FileIDs     []string
}

// Persistence is the single source of truth for workflow and result records.
// The engine and the poller both read and write through it; status writes are
// last-writer-wins, which is tolerated because the final status transition is
// idempotent.
type Persistence interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) (*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	WorkflowResults(ctx context.Context, workflowID string) ([]*models.WorkflowResult, error)
	SaveResult(ctx context.Context, result *models.WorkflowResult) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
