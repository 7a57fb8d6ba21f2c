package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/strand-ai/strand/pkg/model"
)

// MemoryWorkflowRepository is the in-memory WorkflowRepository used by
// tests and dev mode.
type MemoryWorkflowRepository struct {
	mu        sync.RWMutex
	workflows map[string]map[string]*model.Workflow // tenant → id → workflow
}

// NewMemoryWorkflowRepository creates an empty in-memory workflow store.
func NewMemoryWorkflowRepository() *MemoryWorkflowRepository {
	return &MemoryWorkflowRepository{workflows: make(map[string]map[string]*model.Workflow)}
}

// Upsert implements WorkflowRepository.
func (r *MemoryWorkflowRepository) Upsert(_ context.Context, tenantID string, wf *model.Workflow) (bool, error) {
	copied, err := cloneWorkflow(wf)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.workflows[tenantID]
	if !ok {
		byID = make(map[string]*model.Workflow)
		r.workflows[tenantID] = byID
	}
	_, existed := byID[wf.ID]
	byID[wf.ID] = copied
	return !existed, nil
}

// Get implements WorkflowRepository.
func (r *MemoryWorkflowRepository) Get(_ context.Context, tenantID, id string) (*model.Workflow, error) {
	r.mu.RLock()
	wf, ok := r.workflows[tenantID][id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return cloneWorkflow(wf)
}

// List implements WorkflowRepository.
func (r *MemoryWorkflowRepository) List(_ context.Context, tenantID string) ([]model.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	summaries := make([]model.Summary, 0, len(r.workflows[tenantID]))
	for _, wf := range r.workflows[tenantID] {
		summaries = append(summaries, model.Summary{ID: wf.ID, Version: wf.Version})
	}
	return summaries, nil
}

// Delete implements WorkflowRepository.
func (r *MemoryWorkflowRepository) Delete(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[tenantID][id]; !ok {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	delete(r.workflows[tenantID], id)
	return nil
}

// MemoryExecutionRepository is the in-memory ExecutionRepository.
type MemoryExecutionRepository struct {
	mu         sync.RWMutex
	executions map[string]map[string]*ExecutionRecord // tenant → id → record
}

// NewMemoryExecutionRepository creates an empty in-memory execution store.
func NewMemoryExecutionRepository() *MemoryExecutionRepository {
	return &MemoryExecutionRepository{executions: make(map[string]map[string]*ExecutionRecord)}
}

// Save implements ExecutionRepository. The record is deep-copied so the
// live engine state keeps mutating without aliasing the stored snapshot.
func (r *MemoryExecutionRepository) Save(_ context.Context, tenantID string, rec *ExecutionRecord) error {
	copied, err := cloneRecord(rec)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.executions[tenantID]
	if !ok {
		byID = make(map[string]*ExecutionRecord)
		r.executions[tenantID] = byID
	}
	if existing, ok := byID[rec.ID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	copied.UpdatedAt = time.Now()
	byID[rec.ID] = copied
	return nil
}

// Get implements ExecutionRepository.
func (r *MemoryExecutionRepository) Get(_ context.Context, tenantID, id string) (*ExecutionRecord, error) {
	r.mu.RLock()
	rec, ok := r.executions[tenantID][id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return cloneRecord(rec)
}

// ListByStatus implements ExecutionRepository.
func (r *MemoryExecutionRepository) ListByStatus(_ context.Context, tenantID string, status ExecutionStatus) ([]*ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ExecutionRecord
	for _, rec := range r.executions[tenantID] {
		if rec.Status == status {
			copied, err := cloneRecord(rec)
			if err != nil {
				return nil, err
			}
			out = append(out, copied)
		}
	}
	return out, nil
}

// PruneTerminal implements ExecutionRepository.
func (r *MemoryExecutionRepository) PruneTerminal(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for tenantID, byID := range r.executions {
		for id, rec := range byID {
			if rec.Status.Terminal() && rec.UpdatedAt.Before(olderThan) {
				delete(byID, id)
				pruned++
			}
		}
		if len(byID) == 0 {
			delete(r.executions, tenantID)
		}
	}
	return pruned, nil
}

// cloneWorkflow deep-copies via the JSON contract, which doubles as a
// guard that everything we store survives serialization.
func cloneWorkflow(wf *model.Workflow) (*model.Workflow, error) {
	data, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workflow: %w", err)
	}
	var out model.Workflow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to deserialize workflow: %w", err)
	}
	return &out, nil
}

func cloneRecord(rec *ExecutionRecord) (*ExecutionRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize execution record: %w", err)
	}
	var out ExecutionRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to deserialize execution record: %w", err)
	}
	return &out, nil
}
