package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/strand-ai/strand/pkg/model"
)

// PostgresWorkflowRepository stores workflow definitions as JSONB rows
// keyed by (tenant_id, id).
type PostgresWorkflowRepository struct {
	db *sql.DB
}

// NewPostgresWorkflowRepository creates a repository over the given pool.
func NewPostgresWorkflowRepository(db *sql.DB) *PostgresWorkflowRepository {
	return &PostgresWorkflowRepository{db: db}
}

// Upsert implements WorkflowRepository. The INSERT ... ON CONFLICT form
// keeps create-vs-update detection atomic under concurrent submits.
func (r *PostgresWorkflowRepository) Upsert(ctx context.Context, tenantID string, wf *model.Workflow) (bool, error) {
	definition, err := json.Marshal(wf)
	if err != nil {
		return false, fmt.Errorf("failed to serialize workflow: %w", err)
	}

	var inserted bool
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO workflows (tenant_id, id, version, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET version = EXCLUDED.version, definition = EXCLUDED.definition, updated_at = now()
		RETURNING (xmax = 0)`,
		tenantID, wf.ID, wf.Version, definition,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert workflow %s: %w", wf.ID, err)
	}
	return inserted, nil
}

// Get implements WorkflowRepository.
func (r *PostgresWorkflowRepository) Get(ctx context.Context, tenantID, id string) (*model.Workflow, error) {
	var definition []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}

	var wf model.Workflow
	if err := json.Unmarshal(definition, &wf); err != nil {
		return nil, fmt.Errorf("failed to deserialize workflow %s: %w", id, err)
	}
	return &wf, nil
}

// List implements WorkflowRepository.
func (r *PostgresWorkflowRepository) List(ctx context.Context, tenantID string) ([]model.Summary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, version FROM workflows WHERE tenant_id = $1 ORDER BY id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var summaries []model.Summary
	for rows.Next() {
		var s model.Summary
		if err := rows.Scan(&s.ID, &s.Version); err != nil {
			return nil, fmt.Errorf("failed to scan workflow summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Delete implements WorkflowRepository.
func (r *PostgresWorkflowRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM workflows WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return nil
}

// PostgresExecutionRepository stores execution snapshots as JSONB rows.
type PostgresExecutionRepository struct {
	db *sql.DB
}

// NewPostgresExecutionRepository creates a repository over the given pool.
func NewPostgresExecutionRepository(db *sql.DB) *PostgresExecutionRepository {
	return &PostgresExecutionRepository{db: db}
}

// Save implements ExecutionRepository.
func (r *PostgresExecutionRepository) Save(ctx context.Context, tenantID string, rec *ExecutionRecord) error {
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("failed to serialize execution state: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (tenant_id, id, workflow_id, status, state, exit_status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET status = EXCLUDED.status, state = EXCLUDED.state,
		    exit_status = EXCLUDED.exit_status, error = EXCLUDED.error, updated_at = now()`,
		tenantID, rec.ID, rec.WorkflowID, rec.Status, state, rec.ExitStatus, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements ExecutionRepository.
func (r *PostgresExecutionRepository) Get(ctx context.Context, tenantID, id string) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{ID: id}
	var state []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT workflow_id, status, state, exit_status, error, created_at, updated_at
		FROM executions WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&rec.WorkflowID, &rec.Status, &state, &rec.ExitStatus, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
	}

	if err := json.Unmarshal(state, &rec.State); err != nil {
		return nil, fmt.Errorf("failed to deserialize execution state %s: %w", id, err)
	}
	return rec, nil
}

// ListByStatus implements ExecutionRepository.
func (r *PostgresExecutionRepository) ListByStatus(ctx context.Context, tenantID string, status ExecutionStatus) ([]*ExecutionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, status, state, exit_status, error, created_at, updated_at
		FROM executions WHERE tenant_id = $1 AND status = $2 ORDER BY created_at`,
		tenantID, status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec := &ExecutionRecord{}
		var state []byte
		if err := rows.Scan(&rec.ID, &rec.WorkflowID, &rec.Status, &state,
			&rec.ExitStatus, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if err := json.Unmarshal(state, &rec.State); err != nil {
			return nil, fmt.Errorf("failed to deserialize execution state %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneTerminal implements ExecutionRepository.
func (r *PostgresExecutionRepository) PruneTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM executions
		WHERE status IN ('completed', 'failed', 'rejected', 'cancelled')
		  AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check prune result: %w", err)
	}
	return int(affected), nil
}
