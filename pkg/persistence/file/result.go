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

// ResultRepository stores workflow results as one JSON file per attempt under
// results/<workflow-id>/.
type ResultRepository struct {
	root string
	mu   sync.Mutex
}

// NewResultRepository creates a new result repository.
func NewResultRepository(root string) *ResultRepository {
	return &ResultRepository{root: root}
}

func (rr *ResultRepository) dir(workflowID string) string {
	return filepath.Join(rr.root, "results", workflowID)
}

// GetByWorkflow returns every recorded attempt for the workflow, oldest first.
func (rr *ResultRepository) GetByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowResult, error) {
	root := os.DirFS(rr.dir(workflowID))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list result files for workflow %s: %w", workflowID, err)
	}

	results := make([]*models.WorkflowResult, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		data, err := os.ReadFile(filepath.Join(rr.dir(workflowID), file))
		if err != nil {
			return nil, fmt.Errorf("failed to read result file %s: %w", file, err)
		}

		var result models.WorkflowResult

		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("failed to decode result file %s: %w", file, err)
		}

		results = append(results, &result)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})

	return results, nil
}

// Save writes one result attempt. Results are append-only: saving under an
// existing id overwrites only that attempt's own record.
func (rr *ResultRepository) Save(_ context.Context, result *models.WorkflowResult) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if err := os.MkdirAll(rr.dir(result.WorkflowID), workflowDirPerm); err != nil {
		return &persistence.ResultError{Op: "Save", WorkflowID: result.WorkflowID, ResultID: result.ID, Err: err}
	}

	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &persistence.ResultError{Op: "Save", WorkflowID: result.WorkflowID, ResultID: result.ID, Err: err}
	}

	path := filepath.Join(rr.dir(result.WorkflowID), result.ID+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return &persistence.ResultError{Op: "Save", WorkflowID: result.WorkflowID, ResultID: result.ID, Err: err}
	}

	return nil
}

// DeleteByWorkflow removes every result owned by the workflow.
func (rr *ResultRepository) DeleteByWorkflow(_ context.Context, workflowID string) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	err := os.RemoveAll(rr.dir(workflowID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &persistence.ResultError{Op: "DeleteByWorkflow", WorkflowID: workflowID, Err: err}
	}

	return nil
}
