package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/storage"
)

// WorkflowService handles workflow submission and retrieval.
type WorkflowService struct {
	workflows storage.WorkflowRepository
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(workflows storage.WorkflowRepository) *WorkflowService {
	if workflows == nil {
		panic("NewWorkflowService: workflows must not be nil")
	}
	return &WorkflowService{workflows: workflows}
}

// Submit validates and stores a workflow definition, reporting whether it
// was newly created. Invalid definitions are rejected before any write.
func (s *WorkflowService) Submit(ctx context.Context, tenantID string, wf *model.Workflow) (bool, error) {
	if wf == nil {
		return false, NewValidationError("workflow", "workflow definition is required")
	}
	if err := wf.Validate(); err != nil {
		return false, NewValidationError("workflow", err.Error())
	}
	created, err := s.workflows.Upsert(ctx, tenantID, wf)
	if err != nil {
		return false, fmt.Errorf("failed to store workflow %s: %w", wf.ID, err)
	}
	return created, nil
}

// Get returns a stored workflow definition.
func (s *WorkflowService) Get(ctx context.Context, tenantID, id string) (*model.Workflow, error) {
	wf, err := s.workflows.Get(ctx, tenantID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return wf, err
}

// List returns summaries of every workflow for the tenant.
func (s *WorkflowService) List(ctx context.Context, tenantID string) ([]model.Summary, error) {
	return s.workflows.List(ctx, tenantID)
}

// Delete removes a workflow definition.
func (s *WorkflowService) Delete(ctx context.Context, tenantID, id string) error {
	err := s.workflows.Delete(ctx, tenantID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return err
}
