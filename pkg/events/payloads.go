package events

// Typed payload structs, one per event name. Every payload is keyed by
// executionId so subscribers can multiplex streams client-side.

// ExecutionStartedPayload accompanies execution.started.
type ExecutionStartedPayload struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId"`
	StartNode   string `json:"startNode"`
}

// StepStartedPayload accompanies step.started, fired before a node body.
type StepStartedPayload struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId"`
	NodeType    string `json:"nodeType"`
}

// StepCompletedPayload accompanies step.completed.
type StepCompletedPayload struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId"`
	Status      string `json:"status"`
	DurationMs  int64  `json:"durationMs"`
}

// PlanCreatedPayload accompanies plan.created.
type PlanCreatedPayload struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId"`
	PlanID      string `json:"planId"`
	TotalSteps  int    `json:"totalSteps"`
}

// PlanRevisedPayload accompanies plan.revised after a resume with
// modifications.
type PlanRevisedPayload struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId"`
	PlanID      string `json:"planId"`
}

// PlanCompletedPayload accompanies plan.completed.
type PlanCompletedPayload struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId"`
	PlanID      string `json:"planId"`
	Succeeded   bool   `json:"succeeded"`
}

// ExecutionPausedPayload accompanies execution.paused.
type ExecutionPausedPayload struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId"`
	Reason      string `json:"reason,omitempty"`
}

// ExecutionCompletedPayload accompanies execution.completed.
type ExecutionCompletedPayload struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
	ExitStatus  string `json:"exitStatus,omitempty"`
}

// ExecutionErrorPayload accompanies execution.error.
type ExecutionErrorPayload struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId,omitempty"`
	Error       string `json:"error"`
}
