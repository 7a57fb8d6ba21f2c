// Package storage defines the tenant-scoped repository boundary for
// workflow definitions and execution snapshots, with in-memory and
// PostgreSQL implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/strand-ai/strand/pkg/model"
)

// ErrNotFound is returned when an entity does not exist for the tenant.
var ErrNotFound = errors.New("not found")

// ExecutionStatus is the persisted lifecycle status of an execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionRejected  ExecutionStatus = "rejected"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionRejected, ExecutionCancelled:
		return true
	}
	return false
}

// ExecutionRecord is one execution snapshot: identity, status and the
// serialized engine state. Saved at every checkpoint, so a crashed pod can
// resume from the about-to-execute node.
type ExecutionRecord struct {
	ID         string          `json:"executionId"`
	WorkflowID string          `json:"workflowId"`
	Status     ExecutionStatus `json:"status"`
	State      *model.State    `json:"state"`
	ExitStatus string          `json:"exitStatus,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// WorkflowRepository stores workflow definitions per tenant.
type WorkflowRepository interface {
	// Upsert stores the workflow, reporting whether it was newly created.
	Upsert(ctx context.Context, tenantID string, wf *model.Workflow) (created bool, err error)
	Get(ctx context.Context, tenantID, id string) (*model.Workflow, error)
	List(ctx context.Context, tenantID string) ([]model.Summary, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// ExecutionRepository stores execution snapshots per tenant. Save is an
// upsert keyed by (tenant, execution id); implementations must serialize
// writes for the same pair.
type ExecutionRepository interface {
	Save(ctx context.Context, tenantID string, rec *ExecutionRecord) error
	Get(ctx context.Context, tenantID, id string) (*ExecutionRecord, error)
	ListByStatus(ctx context.Context, tenantID string, status ExecutionStatus) ([]*ExecutionRecord, error)
	// PruneTerminal removes terminal executions, across all tenants, whose
	// last update is older than the cutoff. Returns the number removed.
	PruneTerminal(ctx context.Context, olderThan time.Time) (int, error)
}
