package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/strand-ai/strand/pkg/events"
	"github.com/strand-ai/strand/pkg/model"
)

const (
	// perNodeVisitAllowance scales the step budget: every node may be
	// visited this many times per Failure-rule retry it declares, plus one.
	perNodeVisitAllowance = 25
	// minStepBudget is the floor of the step budget for tiny workflows.
	minStepBudget = 500
)

// Driver runs one execution to a terminal result. A Driver value is
// stateless and safe to share; all per-execution state lives on the
// ExecutionContext.
type Driver struct {
	// AllowLocalCommands permits Execute actions to spawn subprocesses.
	// Server deployments keep this false; the CLI companion enables it.
	AllowLocalCommands bool
}

// NewDriver creates a server-safe driver (no local command execution).
func NewDriver() *Driver {
	return &Driver{}
}

// Run drives the execution loop until a terminal result. Each iteration
// checkpoints, dispatches the current node's executor, then runs the
// post-execution pipeline which decides the next cursor position.
func (d *Driver) Run(ctx context.Context, ec *ExecutionContext) *ExecutionResult {
	wf, state := ec.Workflow, ec.State

	if wf.Config != nil && wf.Config.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(wf.Config.MaxExecutionTime))
		defer cancel()
	}
	budget := stepBudget(wf)

	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return d.interrupted(ec, err)
		}
		if steps >= budget {
			return d.terminal(ec, failureResult(state, fmt.Errorf("workflow %s exceeded the step budget of %d", wf.ID, budget)))
		}

		node, ok := wf.Nodes[state.CurrentNode]
		if !ok {
			return d.terminal(ec, failureResult(state, fmt.Errorf("unknown node %q at cursor", state.CurrentNode)))
		}

		if ec.OnCheckpoint != nil {
			ec.OnCheckpoint(state)
		}
		if ec.Events != nil {
			ec.Events.PublishStepStarted(events.StepStartedPayload{
				ExecutionID: ec.ExecutionID,
				NodeID:      node.ID,
				NodeType:    string(node.Type),
			})
		}

		started := time.Now()
		result := d.dispatch(ctx, ec, node)

		if result.Status == model.StatusEnd {
			return d.terminal(ec, &ExecutionResult{
				Outcome:    OutcomeCompleted,
				ExitStatus: node.ExitStatus,
				State:      state,
			})
		}
		if result.Status == model.StatusPending && result.Meta(model.KeyPlanReviewRequired) == true {
			return d.terminal(ec, &ExecutionResult{Outcome: OutcomePaused, State: state})
		}

		if ec.Events != nil {
			ec.Events.PublishStepCompleted(events.StepCompletedPayload{
				ExecutionID: ec.ExecutionID,
				NodeID:      node.ID,
				Status:      string(result.Status),
				DurationMs:  time.Since(started).Milliseconds(),
			})
		}

		if term := d.runPipeline(ctx, ec, node, result); term != nil {
			return d.terminal(ec, term)
		}
		state.RecordEntry(state.CurrentNode, node.ID)
	}
}

// dispatch routes a node to the executor for its variant.
func (d *Driver) dispatch(ctx context.Context, ec *ExecutionContext, node *model.Node) *model.NodeResult {
	switch node.Type {
	case model.NodeTypeStandard:
		return d.executeStandard(ctx, ec, node)
	case model.NodeTypeAction:
		return d.executeAction(ctx, ec, node)
	case model.NodeTypeGeneric:
		return d.executeGeneric(ctx, ec, node)
	case model.NodeTypeParallel:
		return d.executeParallel(ctx, ec, node)
	case model.NodeTypeFork:
		return d.executeFork(ctx, ec, node)
	case model.NodeTypeJoin:
		return d.executeJoin(ctx, ec, node)
	case model.NodeTypeSubWorkflow:
		return d.executeSubWorkflow(ctx, ec, node)
	case model.NodeTypeLoop:
		// Pass-through: loop routing happens in transition resolution.
		return model.NewSuccessResult(nil)
	case model.NodeTypeEnd:
		return &model.NodeResult{Status: model.StatusEnd, Timestamp: time.Now()}
	default:
		return model.NewFailureResult(fmt.Errorf("no executor for node type %q", node.Type))
	}
}

// interrupted maps a context error to the matching terminal result: a
// deadline means the workflow ran past maxExecutionTime, a cancel means
// the execution was cancelled externally.
func (d *Driver) interrupted(ec *ExecutionContext, err error) *ExecutionResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return d.terminal(ec, failureResult(ec.State,
			fmt.Errorf("workflow %s exceeded its maximum execution time", ec.Workflow.ID)))
	}
	return d.terminal(ec, &ExecutionResult{Outcome: OutcomeCancelled, State: ec.State})
}

// terminal fires the terminal-side observers and events exactly once, at
// driver exit.
func (d *Driver) terminal(ec *ExecutionContext, result *ExecutionResult) *ExecutionResult {
	switch result.Outcome {
	case OutcomePaused:
		if ec.OnPaused != nil {
			ec.OnPaused(ec.State)
		}
		if ec.Events != nil {
			ec.Events.PublishExecutionPaused(events.ExecutionPausedPayload{
				ExecutionID: ec.ExecutionID,
				NodeID:      ec.State.CurrentNode,
				Reason:      "awaiting review",
			})
		}
	case OutcomeFailure:
		slog.Error("Execution failed",
			"execution_id", ec.ExecutionID,
			"workflow_id", ec.Workflow.ID,
			"node_id", ec.State.CurrentNode,
			"error", result.Err)
		if ec.Events != nil {
			ec.Events.PublishExecutionError(events.ExecutionErrorPayload{
				ExecutionID: ec.ExecutionID,
				NodeID:      ec.State.CurrentNode,
				Error:       result.Err.Error(),
			})
		}
	default:
		if ec.Events != nil {
			ec.Events.PublishExecutionCompleted(events.ExecutionCompletedPayload{
				ExecutionID: ec.ExecutionID,
				Status:      string(result.Outcome),
				ExitStatus:  string(result.ExitStatus),
			})
		}
	}
	return result
}

// stepBudget derives the driver's safety floor against unbounded runs from
// the workflow's shape and declared retry caps.
func stepBudget(wf *model.Workflow) int {
	budget := 0
	for _, node := range wf.Nodes {
		retries := 0
		for _, rule := range node.TransitionRules {
			if rule.Type == model.TransitionFailure {
				retries += rule.MaxRetries
			}
		}
		budget += (1 + retries) * perNodeVisitAllowance
	}
	if budget < minStepBudget {
		budget = minStepBudget
	}
	return budget
}
