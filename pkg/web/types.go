// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/pipevine/pipevine/pkg/services"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string                    `json:"name"        validate:"required,min=3"`
	Description string                    `json:"description"`
	Tasks       []services.TaskDefinition `json:"tasks"       validate:"required,min=1,dive"`
	FileIDs     []string                  `json:"file_ids"`
}

// AddFilesRequest represents the request body for attaching files to a workflow.
type AddFilesRequest struct {
	FileIDs []string `json:"file_ids" validate:"required,min=1"`
}
