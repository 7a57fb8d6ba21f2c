package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerPool manages the job buffer and a pool of queue workers.
type WorkerPool struct {
	podID    string
	config   Config
	executor Executor
	jobs     chan *Job
	workers  []*Worker
	stopOnce sync.Once

	// Execution cancel registry: execution_id → cancel function
	active  map[string]context.CancelFunc
	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(podID string, cfg Config, executor Executor) *WorkerPool {
	cfg = cfg.Defaulted()
	return &WorkerPool{
		podID:    podID,
		config:   cfg,
		executor: executor,
		jobs:     make(chan *Job, cfg.Capacity),
		workers:  make([]*Worker, 0, cfg.WorkerCount),
		active:   make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines. It is safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.config, p.jobs, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	slog.Info("Worker pool started")
	return nil
}

// Enqueue adds a job to the buffer without blocking.
func (p *WorkerPool) Enqueue(job *Job) error {
	p.mu.RLock()
	stopped := p.stopped
	p.mu.RUnlock()
	if stopped {
		return ErrPoolStopped
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return fmt.Errorf("execution %s: %w", job.ExecutionID, ErrQueueFull)
	}
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current executions before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	active := p.activeExecutionIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active executions to complete",
			"count", len(active),
			"execution_ids", active)
	}

	p.stopOnce.Do(func() {
		for _, worker := range p.workers {
			worker.Stop()
		}
	})

	slog.Info("Worker pool stopped gracefully")
}

// RegisterExecution stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterExecution(executionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[executionID] = cancel
}

// UnregisterExecution removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterExecution(executionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, executionID)
}

// CancelExecution triggers context cancellation for an execution running
// on this pod. Returns true if the execution was found and cancelled.
func (p *WorkerPool) CancelExecution(executionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.active[executionID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	p.mu.RLock()
	activeExecutions := len(p.active)
	p.mu.RUnlock()

	return &PoolHealth{
		IsHealthy:        len(p.workers) > 0,
		PodID:            p.podID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		ActiveExecutions: activeExecutions,
		QueueDepth:       len(p.jobs),
		QueueCapacity:    p.config.Capacity,
		WorkerStats:      workerStats,
	}
}

// activeExecutionIDs returns IDs of currently processing executions.
func (p *WorkerPool) activeExecutionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}
