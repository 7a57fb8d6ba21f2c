package engine

import "github.com/strand-ai/strand/pkg/model"

// Outcome classifies how a driver run terminated.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailure   Outcome = "failure"
	OutcomePaused    Outcome = "paused"
	OutcomeCancelled Outcome = "cancelled"
)

// ExecutionResult is the terminal result of a driver run. Exactly one of
// the outcome-specific fields is meaningful: ExitStatus for Completed,
// Reason for Rejected, Err for Failure. State is always the final state.
type ExecutionResult struct {
	Outcome    Outcome
	ExitStatus model.ExitStatus
	Reason     string
	Err        error
	State      *model.State
}

func failureResult(state *model.State, err error) *ExecutionResult {
	return &ExecutionResult{Outcome: OutcomeFailure, Err: err, State: state}
}
