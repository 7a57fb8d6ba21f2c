package engine

import (
	"context"
	"fmt"

	"github.com/strand-ai/strand/pkg/model"
)

// executeSubWorkflow runs a child workflow in-line. The child state starts
// from the input mapping (childKey ← parentKey); on success the output
// mapping (parentKey ← childKey) is applied back to the parent context.
// Child Failure and Rejected propagate as the sub-node's result.
func (d *Driver) executeSubWorkflow(ctx context.Context, ec *ExecutionContext, node *model.Node) *model.NodeResult {
	if ec.Workflows == nil {
		return model.NewFailureResult(fmt.Errorf("node %s: no workflow repository configured", node.ID))
	}
	child, err := ec.Workflows.Get(ctx, ec.TenantID, node.WorkflowID)
	if err != nil {
		return model.NewFailureResult(fmt.Errorf("node %s: sub-workflow %s: %w", node.ID, node.WorkflowID, err))
	}

	childContext := make(map[string]any, len(node.InputMapping))
	for childKey, parentKey := range node.InputMapping {
		if v, ok := ec.State.Get(parentKey); ok {
			childContext[childKey] = v
		}
	}
	childState := model.NewState(child.ID, child.StartNode, childContext)
	childEC := ec.branch(child, childState)

	result := d.Run(ctx, childEC)
	switch result.Outcome {
	case OutcomeCompleted:
		if result.ExitStatus == model.ExitFailure {
			return model.NewFailureResult(fmt.Errorf("node %s: sub-workflow %s ended with failure", node.ID, child.ID))
		}
		for parentKey, childKey := range node.OutputMapping {
			if v, ok := childState.Get(childKey); ok {
				ec.State.Set(parentKey, v)
			}
		}
		return model.NewSuccessResult(childState.ResultContext())
	case OutcomeRejected:
		return model.NewFailureResult(fmt.Errorf("node %s: sub-workflow %s rejected: %s", node.ID, child.ID, result.Reason))
	case OutcomePaused:
		// Nested pause is not resumable through the API; surface it as a failure.
		return model.NewFailureResult(fmt.Errorf("node %s: sub-workflow %s paused, nested pauses are not supported", node.ID, child.ID))
	case OutcomeCancelled:
		return model.NewFailureResult(fmt.Errorf("node %s: sub-workflow %s cancelled", node.ID, child.ID))
	default:
		return model.NewFailureResult(fmt.Errorf("node %s: sub-workflow %s failed: %v", node.ID, child.ID, result.Err))
	}
}
