package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/strand-ai/strand/pkg/storage"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// ExecutionRegistry is the subset of WorkerPool used by Worker for
// cancel registration.
type ExecutionRegistry interface {
	RegisterExecution(executionID string, cancel context.CancelFunc)
	UnregisterExecution(executionID string)
}

// Worker is a single queue worker that drains the job buffer.
type Worker struct {
	id       string
	podID    string
	config   Config
	jobs     <-chan *Job
	executor Executor
	pool     ExecutionRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu                 sync.RWMutex
	status             WorkerStatus
	currentExecutionID string
	jobsProcessed      int
	lastActivity       time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, cfg Config, jobs <-chan *Job, executor Executor, pool ExecutionRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		config:       cfg,
		jobs:         jobs,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                 w.id,
		Status:             string(w.status),
		CurrentExecutionID: w.currentExecutionID,
		JobsProcessed:      w.jobsProcessed,
		LastActivity:       w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		case job := <-w.jobs:
			w.process(ctx, job)
		}
	}
}

// process runs a single job under the per-execution timeout.
func (w *Worker) process(ctx context.Context, job *Job) {
	log := slog.With("execution_id", job.ExecutionID, "worker_id", w.id)
	log.Info("Execution claimed",
		"workflow_id", job.WorkflowID,
		"tenant_id", job.TenantID,
		"queue_wait", time.Since(job.EnqueuedAt).Round(time.Millisecond))

	w.setStatus(WorkerStatusWorking, job.ExecutionID)
	defer w.setStatus(WorkerStatusIdle, "")

	execCtx, cancel := context.WithTimeout(ctx, w.config.ExecutionTimeout)
	defer cancel()

	// Register cancel function for API-triggered cancellation.
	w.pool.RegisterExecution(job.ExecutionID, cancel)
	defer w.pool.UnregisterExecution(job.ExecutionID)

	result := w.executor.Execute(execCtx, job)

	// Nil-guard: synthesize a safe result if the executor returned nil.
	if result == nil {
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			result = &Result{
				Status: storage.ExecutionFailed,
				Error:  fmt.Errorf("execution timed out after %v", w.config.ExecutionTimeout),
			}
		case errors.Is(execCtx.Err(), context.Canceled):
			result = &Result{
				Status: storage.ExecutionCancelled,
				Error:  context.Canceled,
			}
		default:
			result = &Result{
				Status: storage.ExecutionFailed,
				Error:  fmt.Errorf("executor returned nil result"),
			}
		}
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	if result.Error != nil {
		log.Warn("Execution finished with error", "status", result.Status, "error", result.Error)
	} else {
		log.Info("Execution processing complete", "status", result.Status)
	}
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, executionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentExecutionID = executionID
	w.lastActivity = time.Now()
}
