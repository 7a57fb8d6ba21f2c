// Package queue provides the in-process execution queue and its worker
// pool. The API layer enqueues accepted executions; workers drain the
// queue and drive them through the engine.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/strand-ai/strand/pkg/storage"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueFull indicates the pending-job buffer is at capacity.
	ErrQueueFull = errors.New("execution queue is full")

	// ErrPoolStopped indicates the pool is no longer accepting jobs.
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Job is one queued execution.
type Job struct {
	TenantID    string
	ExecutionID string
	WorkflowID  string
	EnqueuedAt  time.Time
}

// Executor runs one execution end to end. The executor owns the entire
// lifecycle internally: it loads the snapshot, drives the engine and
// writes checkpoints progressively. The worker only handles dispatch,
// the per-execution timeout and the cancel registry.
type Executor interface {
	Execute(ctx context.Context, job *Job) *Result
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *Job) *Result

func (f ExecutorFunc) Execute(ctx context.Context, job *Job) *Result {
	return f(ctx, job)
}

// Result is lightweight, just the terminal state. Intermediate state was
// already checkpointed by the executor during processing.
type Result struct {
	Status storage.ExecutionStatus
	Error  error
}

// Config holds the worker pool settings.
type Config struct {
	WorkerCount      int
	Capacity         int
	ExecutionTimeout time.Duration
}

// Defaulted fills unset fields with working defaults.
func (c Config) Defaulted() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.Capacity <= 0 {
		c.Capacity = 256
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 30 * time.Minute
	}
	return c
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveExecutions int            `json:"active_executions"`
	QueueDepth       int            `json:"queue_depth"`
	QueueCapacity    int            `json:"queue_capacity"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                 string    `json:"id"`
	Status             string    `json:"status"` // "idle" or "working"
	CurrentExecutionID string    `json:"current_execution_id,omitempty"`
	JobsProcessed      int       `json:"jobs_processed"`
	LastActivity       time.Time `json:"last_activity"`
}
