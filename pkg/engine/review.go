package engine

import (
	"context"

	"github.com/strand-ai/strand/pkg/model"
)

// ReviewAction is what a review handler decided to do with a node result.
type ReviewAction string

const (
	// ReviewApprove continues the pipeline, optionally merging a context patch.
	ReviewApprove ReviewAction = "approve"
	// ReviewReject terminates the execution with a Rejected result.
	ReviewReject ReviewAction = "reject"
	// ReviewBacktrack moves the cursor to an earlier node. History is kept;
	// the move is recorded as a manual BacktrackEvent.
	ReviewBacktrack ReviewAction = "backtrack"
	// ReviewPause suspends the execution for an out-of-band decision; the
	// driver exits with Paused and the execution resumes via the API.
	ReviewPause ReviewAction = "pause"
)

// ReviewRequest is what a review handler sees when a node completes.
type ReviewRequest struct {
	Node     *model.Node
	Result   *model.NodeResult
	State    *model.State
	Config   *model.ReviewConfig
	Workflow *model.Workflow
}

// ReviewDecision is the handler's verdict. Target and EditedPrompt apply
// to Backtrack only; Patch applies to Approve; Reason to Reject/Backtrack.
type ReviewDecision struct {
	Action       ReviewAction
	Reason       string
	Target       string
	EditedPrompt string
	Patch        map[string]any
}

// ReviewHandler decides what happens to a node result when the node carries
// a review config. Synchronous implementations block the driver; server
// deployments return Pause and resume through the executions API.
type ReviewHandler interface {
	Review(ctx context.Context, req ReviewRequest) (ReviewDecision, error)
}

// AutoApprover approves every review request. The default handler for
// non-interactive runs, making the review processor a no-op.
type AutoApprover struct{}

func (AutoApprover) Review(context.Context, ReviewRequest) (ReviewDecision, error) {
	return ReviewDecision{Action: ReviewApprove}, nil
}

// PauseReviewer suspends review requests so the decision arrives out of
// band through the executions API. The server default. An approval staged
// into the state by the resume path is consumed on the next visit to the
// node, so an approved execution runs on instead of pausing again.
type PauseReviewer struct{}

func (PauseReviewer) Review(_ context.Context, req ReviewRequest) (ReviewDecision, error) {
	if approved, _ := req.State.Context[model.KeyPlanApproved].(bool); approved {
		req.State.Delete(model.KeyPlanApproved)
		return ReviewDecision{Action: ReviewApprove}, nil
	}
	return ReviewDecision{Action: ReviewPause}, nil
}
