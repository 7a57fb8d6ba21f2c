package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/engine"
	"github.com/strand-ai/strand/pkg/events"
	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/queue"
	"github.com/strand-ai/strand/pkg/rubric"
	"github.com/strand-ai/strand/pkg/storage"
)

// Queue is the subset of the worker pool the service drives.
type Queue interface {
	Enqueue(job *queue.Job) error
	CancelExecution(executionID string) bool
}

// Notifier receives execution lifecycle transitions for out-of-band
// channels such as Slack. Calls are made on background goroutines;
// implementations own their timeouts and never fail the execution.
type Notifier interface {
	ExecutionStarted(ctx context.Context, rec *storage.ExecutionRecord)
	ExecutionFinished(ctx context.Context, rec *storage.ExecutionRecord)
}

// EngineDeps bundles the registries and handlers every execution context
// inherits. Registries are shared across executions.
type EngineDeps struct {
	Agents   *agent.Registry
	Tools    *agent.ToolRegistry
	Invoker  agent.ToolInvoker
	Rubrics  *rubric.Engine
	Actions  *engine.HandlerRegistry
	Generic  *engine.GenericRegistry
	Commands *engine.CommandRegistry
	Review   engine.ReviewHandler
	Planner  engine.Planner
}

// StartInput contains the domain-level data needed to start an execution.
type StartInput struct {
	WorkflowID string
	Input      map[string]any
}

// ResumeInput carries a review decision for a paused execution.
type ResumeInput struct {
	Approved      bool
	Modifications map[string]any
}

// ExecutionView is the status projection returned to API consumers.
type ExecutionView struct {
	Record         *storage.ExecutionRecord
	HasPendingPlan bool
}

func newExecutionView(rec *storage.ExecutionRecord) *ExecutionView {
	view := &ExecutionView{Record: rec}
	if rec.State != nil {
		_, view.HasPendingPlan = rec.State.Get(model.KeyPendingPlan)
	}
	return view
}

// PlanStatusView reports progress of an execution's plan: the plan
// awaiting review, or the one currently executing.
type PlanStatusView struct {
	PlanID      string `json:"planId"`
	TotalSteps  int    `json:"totalSteps"`
	CurrentStep int    `json:"currentStep"`
}

// ResultView is the final result surface of a terminal execution.
type ResultView struct {
	ExecutionID string                 `json:"executionId"`
	Status      string                 `json:"status"`
	ExitStatus  string                 `json:"exitStatus,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Context     map[string]any         `json:"context"`
	Steps       int                    `json:"steps"`
	Backtracks  []model.BacktrackEvent `json:"backtracks,omitempty"`
}

// ExecutionService owns the execution lifecycle: accepting runs,
// executing them on the worker pool, pausing for review, resuming and
// cancelling. It implements queue.Executor.
type ExecutionService struct {
	workflows  storage.WorkflowRepository
	executions storage.ExecutionRepository
	events     *events.Broadcaster
	driver     *engine.Driver
	deps       EngineDeps
	queue      Queue
	notifier   Notifier
}

// NewExecutionService creates the service. The queue is attached after
// construction because the worker pool needs the service as its executor.
func NewExecutionService(
	workflows storage.WorkflowRepository,
	executions storage.ExecutionRepository,
	broadcaster *events.Broadcaster,
	driver *engine.Driver,
	deps EngineDeps,
) *ExecutionService {
	if workflows == nil {
		panic("NewExecutionService: workflows must not be nil")
	}
	if executions == nil {
		panic("NewExecutionService: executions must not be nil")
	}
	if broadcaster == nil {
		broadcaster = events.NewBroadcaster()
	}
	if driver == nil {
		driver = engine.NewDriver()
	}
	return &ExecutionService{
		workflows:  workflows,
		executions: executions,
		events:     broadcaster,
		driver:     driver,
		deps:       deps,
	}
}

// AttachQueue wires the worker pool once both sides exist.
func (s *ExecutionService) AttachQueue(q Queue) {
	s.queue = q
}

// SetNotifier attaches an optional lifecycle notifier.
func (s *ExecutionService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *ExecutionService) notifyStarted(rec *storage.ExecutionRecord) {
	if s.notifier != nil {
		go s.notifier.ExecutionStarted(context.Background(), rec)
	}
}

func (s *ExecutionService) notifyFinished(rec *storage.ExecutionRecord) {
	if s.notifier != nil {
		go s.notifier.ExecutionFinished(context.Background(), rec)
	}
}

// Events exposes the broadcaster for the streaming endpoint.
func (s *ExecutionService) Events() *events.Broadcaster {
	return s.events
}

// Start accepts an execution: the snapshot is persisted in pending status
// and the job queued for a worker. The caller gets the record back before
// any node runs.
func (s *ExecutionService) Start(ctx context.Context, tenantID string, input StartInput) (*storage.ExecutionRecord, error) {
	wf, err := s.workflows.Get(ctx, tenantID, input.WorkflowID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("workflow %s: %w", input.WorkflowID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rec := &storage.ExecutionRecord{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Status:     storage.ExecutionPending,
		State:      model.NewState(wf.ID, wf.StartNode, input.Input),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := s.executions.Save(ctx, tenantID, rec); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	if err := s.enqueue(rec.ID, tenantID, wf.ID); err != nil {
		return nil, err
	}

	s.events.PublishExecutionStarted(events.ExecutionStartedPayload{
		ExecutionID: rec.ID,
		WorkflowID:  wf.ID,
		StartNode:   wf.StartNode,
	})
	s.notifyStarted(rec)
	return rec, nil
}

// Execute implements queue.Executor: it drives one claimed execution
// through the engine, checkpointing progressively.
func (s *ExecutionService) Execute(ctx context.Context, job *queue.Job) *queue.Result {
	rec, err := s.executions.Get(ctx, job.TenantID, job.ExecutionID)
	if err != nil {
		return &queue.Result{Status: storage.ExecutionFailed, Error: err}
	}
	wf, err := s.workflows.Get(ctx, job.TenantID, rec.WorkflowID)
	if err != nil {
		return s.finish(job.TenantID, rec, storage.ExecutionFailed, "", err)
	}

	rec.Status = storage.ExecutionRunning
	rec.Error = ""
	if err := s.executions.Save(ctx, job.TenantID, rec); err != nil {
		return &queue.Result{Status: storage.ExecutionFailed, Error: err}
	}

	checkpointEveryNode := true
	if wf.Config != nil && wf.Config.CheckpointPolicy == model.CheckpointOnPause {
		checkpointEveryNode = false
	}

	ec := &engine.ExecutionContext{
		ExecutionID: rec.ID,
		TenantID:    job.TenantID,
		Workflow:    wf,
		State:       rec.State,
		Agents:      s.deps.Agents,
		Tools:       s.deps.Tools,
		Invoker:     s.deps.Invoker,
		Rubrics:     s.deps.Rubrics,
		Actions:     s.deps.Actions,
		Generic:     s.deps.Generic,
		Commands:    s.deps.Commands,
		Review:      s.deps.Review,
		Planner:     s.deps.Planner,
		Workflows:   s.workflows,
		Events:      s.events,
	}
	if checkpointEveryNode {
		ec.OnCheckpoint = func(state *model.State) {
			rec.State = state
			// Checkpoints survive execution-context cancellation.
			if err := s.executions.Save(context.Background(), job.TenantID, rec); err != nil {
				slog.Warn("Checkpoint save failed",
					"execution_id", rec.ID, "node_id", state.CurrentNode, "error", err)
			}
		}
	}

	result := s.driver.Run(ctx, ec)

	rec.State = ec.State
	return s.finish(job.TenantID, rec, statusForOutcome(result.Outcome), string(result.ExitStatus), result.Err)
}

// finish writes the terminal (or paused) snapshot and maps it into a
// queue result. Uses a background context: the execution context may
// already be cancelled.
func (s *ExecutionService) finish(tenantID string, rec *storage.ExecutionRecord, status storage.ExecutionStatus, exitStatus string, runErr error) *queue.Result {
	rec.Status = status
	rec.ExitStatus = exitStatus
	rec.UpdatedAt = time.Now()
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := s.executions.Save(context.Background(), tenantID, rec); err != nil {
		slog.Error("Failed to save terminal execution status",
			"execution_id", rec.ID, "status", status, "error", err)
		return &queue.Result{Status: storage.ExecutionFailed, Error: err}
	}
	s.notifyFinished(rec)
	return &queue.Result{Status: status, Error: runErr}
}

// Get returns the execution status projection.
func (s *ExecutionService) Get(ctx context.Context, tenantID, executionID string) (*ExecutionView, error) {
	rec, err := s.executions.Get(ctx, tenantID, executionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return newExecutionView(rec), nil
}

// PlanStatus returns progress of the execution's plan: a plan awaiting
// review reports step zero, a running plan reports the step in flight.
func (s *ExecutionService) PlanStatus(ctx context.Context, tenantID, executionID string) (*PlanStatusView, error) {
	view, err := s.Get(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	if state := view.Record.State; state != nil {
		if progress, ok := state.Get(model.KeyPlanProgress); ok {
			if v := planStatusFromProgress(progress); v != nil {
				return v, nil
			}
		}
		if raw, ok := state.Get(model.KeyPendingPlan); ok {
			if v := planStatusFromPending(raw); v != nil {
				return v, nil
			}
		}
	}
	return nil, fmt.Errorf("execution %s has no plan: %w", executionID, ErrNotFound)
}

// planStatusFromProgress decodes the progress map written by the plan
// executor. Numbers arrive as float64 after a snapshot round-trip.
func planStatusFromProgress(v any) *PlanStatusView {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	view := &PlanStatusView{
		TotalSteps:  intValue(m["totalSteps"]),
		CurrentStep: intValue(m["currentStep"]),
	}
	view.PlanID, _ = m["planId"].(string)
	return view
}

// planStatusFromPending projects a plan still awaiting review. The plan
// survives a snapshot round-trip as a JSON map, so both representations
// are accepted.
func planStatusFromPending(raw any) *PlanStatusView {
	switch plan := raw.(type) {
	case *model.Plan:
		return &PlanStatusView{PlanID: plan.ID, TotalSteps: len(plan.Steps)}
	case map[string]any:
		view := &PlanStatusView{}
		view.PlanID, _ = plan["id"].(string)
		if steps, ok := plan["steps"].([]any); ok {
			view.TotalSteps = len(steps)
		}
		return view
	default:
		return nil
	}
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// ListPaused returns every execution awaiting review for the tenant.
func (s *ExecutionService) ListPaused(ctx context.Context, tenantID string) ([]*ExecutionView, error) {
	records, err := s.executions.ListByStatus(ctx, tenantID, storage.ExecutionPaused)
	if err != nil {
		return nil, err
	}
	views := make([]*ExecutionView, 0, len(records))
	for _, rec := range records {
		views = append(views, newExecutionView(rec))
	}
	return views, nil
}

// Resume applies a review decision to a paused execution. Approval
// re-queues the execution from its snapshot; rejection finishes it in
// rejected status. Modifications may replace the pending plan under the
// "plan" key; remaining keys merge into the execution context.
func (s *ExecutionService) Resume(ctx context.Context, tenantID, executionID string, input ResumeInput) (*storage.ExecutionRecord, error) {
	rec, err := s.executions.Get(ctx, tenantID, executionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if rec.Status != storage.ExecutionPaused {
		return nil, fmt.Errorf("execution %s is %s: %w", executionID, rec.Status, ErrNotPaused)
	}

	if !input.Approved {
		rec.State.Delete(model.KeyPendingPlan)
		rec.State.Delete(model.KeyPlanReviewRequired)
		rec.Status = storage.ExecutionRejected
		rec.UpdatedAt = time.Now()
		if err := s.executions.Save(ctx, tenantID, rec); err != nil {
			return nil, fmt.Errorf("failed to persist rejection: %w", err)
		}
		s.events.PublishExecutionCompleted(events.ExecutionCompletedPayload{
			ExecutionID: rec.ID,
			Status:      string(storage.ExecutionRejected),
		})
		s.notifyFinished(rec)
		return rec, nil
	}

	for key, value := range input.Modifications {
		if key == "plan" {
			rec.State.Set(model.KeyPendingPlan, value)
			continue
		}
		rec.State.Set(key, value)
	}
	rec.State.Set(model.KeyPlanApproved, true)
	rec.Status = storage.ExecutionPending
	rec.UpdatedAt = time.Now()
	if err := s.executions.Save(ctx, tenantID, rec); err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}

	if err := s.enqueue(rec.ID, tenantID, rec.WorkflowID); err != nil {
		return nil, err
	}
	return rec, nil
}

// Result returns the final result surface of a terminal execution.
// Engine-internal context keys are stripped.
func (s *ExecutionService) Result(ctx context.Context, tenantID, executionID string) (*ResultView, error) {
	rec, err := s.executions.Get(ctx, tenantID, executionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !rec.Status.Terminal() {
		return nil, fmt.Errorf("execution %s is %s: %w", executionID, rec.Status, ErrNotTerminal)
	}

	view := &ResultView{
		ExecutionID: rec.ID,
		Status:      string(rec.Status),
		ExitStatus:  rec.ExitStatus,
		Error:       rec.Error,
		Context:     map[string]any{},
	}
	if rec.State != nil {
		view.Context = rec.State.ResultContext()
		view.Steps = len(rec.State.History.Steps)
		view.Backtracks = rec.State.History.Backtracks
	}
	return view, nil
}

// Cancel stops a running execution, or marks a queued or paused one
// cancelled directly.
func (s *ExecutionService) Cancel(ctx context.Context, tenantID, executionID string) error {
	if s.queue != nil && s.queue.CancelExecution(executionID) {
		slog.Info("Execution cancellation requested", "execution_id", executionID)
		return nil
	}

	rec, err := s.executions.Get(ctx, tenantID, executionID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("execution %s is %s: %w", executionID, rec.Status, ErrAlreadyTerminal)
	}

	rec.Status = storage.ExecutionCancelled
	rec.UpdatedAt = time.Now()
	if err := s.executions.Save(ctx, tenantID, rec); err != nil {
		return fmt.Errorf("failed to persist cancellation: %w", err)
	}
	s.events.PublishExecutionCompleted(events.ExecutionCompletedPayload{
		ExecutionID: rec.ID,
		Status:      string(storage.ExecutionCancelled),
	})
	s.notifyFinished(rec)
	return nil
}

func (s *ExecutionService) enqueue(executionID, tenantID, workflowID string) error {
	if s.queue == nil {
		return fmt.Errorf("execution %s: no worker queue attached", executionID)
	}
	if err := s.queue.Enqueue(&queue.Job{
		TenantID:    tenantID,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
	}); err != nil {
		return fmt.Errorf("failed to queue execution: %w", err)
	}
	return nil
}

func statusForOutcome(outcome engine.Outcome) storage.ExecutionStatus {
	switch outcome {
	case engine.OutcomeCompleted:
		return storage.ExecutionCompleted
	case engine.OutcomeRejected:
		return storage.ExecutionRejected
	case engine.OutcomePaused:
		return storage.ExecutionPaused
	case engine.OutcomeCancelled:
		return storage.ExecutionCancelled
	default:
		return storage.ExecutionFailed
	}
}
