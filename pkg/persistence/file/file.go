// Package file provides file-based persistence for workflows and results.
// It suits local development and tests; production deployments use postgresql.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root         string
	workflowRepo *WorkflowRepository
	resultRepo   *ResultRepository
}

// NewPersistence creates a new file persistence layer rooted at the given directory.
// The root may be given as a plain path or a file:// URL.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		workflowRepo: NewWorkflowRepository(cleanRoot),
		resultRepo:   NewResultRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return fp.workflowRepo.GetAll(ctx)
}

func (fp *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	return fp.workflowRepo.GetByID(ctx, id)
}

func (fp *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return fp.workflowRepo.Save(ctx, workflow)
}

func (fp *Persistence) UpdateWorkflow(ctx context.Context, id string, update persistence.WorkflowUpdate) (*models.Workflow, error) {
	return fp.workflowRepo.Update(ctx, id, update)
}

// DeleteWorkflow removes the workflow and every result it owns.
func (fp *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	if err := fp.workflowRepo.Delete(ctx, id); err != nil {
		return err
	}

	return fp.resultRepo.DeleteByWorkflow(ctx, id)
}

func (fp *Persistence) WorkflowResults(ctx context.Context, workflowID string) ([]*models.WorkflowResult, error) {
	return fp.resultRepo.GetByWorkflow(ctx, workflowID)
}

func (fp *Persistence) SaveResult(ctx context.Context, result *models.WorkflowResult) error {
	return fp.resultRepo.Save(ctx, result)
}
