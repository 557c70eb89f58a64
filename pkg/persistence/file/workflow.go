package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/persistence"
)

const workflowDirPerm = 0o750

// WorkflowRepository handles workflow-related file operations. Writes are
// serialized with a mutex because the engine and the poller may update the same
// workflow concurrently.
type WorkflowRepository struct {
	root string
	mu   sync.Mutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (wr *WorkflowRepository) dir() string {
	return filepath.Join(wr.root, "workflows")
}

func (wr *WorkflowRepository) path(id string) string {
	return filepath.Join(wr.dir(), id+".json")
}

// GetAll returns every stored workflow, newest first.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	root := os.DirFS(wr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflowID := file[:len(file)-len(".json")]

		workflow, err := wr.GetByID(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID loads a single workflow from disk.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	data, err := os.ReadFile(wr.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	var workflow models.Workflow

	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return &workflow, nil
}

// Save writes the workflow to disk, stamping UpdatedAt (and CreatedAt on first save).
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if err := os.MkdirAll(wr.dir(), workflowDirPerm); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return wr.write(workflow)
}

// Update applies a partial update and returns the stored workflow.
func (wr *WorkflowRepository) Update(ctx context.Context, id string, update persistence.WorkflowUpdate) (*models.Workflow, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	workflow, err := wr.GetByID(ctx, id)
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

	workflow.UpdatedAt = time.Now().UTC()

	if err := wr.write(workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

// Delete removes the workflow file. Deleting a missing workflow is not an error.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	err := os.Remove(wr.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

// write persists the workflow atomically: readers never take wr.mu, so the
// live file must switch from old content to new in a single rename. Writing
// in place would let a concurrent GetByID observe a truncated file.
func (wr *WorkflowRepository) write(workflow *models.Workflow) error {
	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	tmpPath := wr.path(workflow.ID) + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if err := os.Rename(tmpPath, wr.path(workflow.ID)); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}
