// Package events publishes execution lifecycle events to SSE subscribers.
package events

import "encoding/json"

// Event names on the execution stream. Each event's payload carries the
// execution id it belongs to.
const (
	ExecutionStarted   = "execution.started"
	PlanCreated        = "plan.created"
	StepStarted        = "step.started"
	StepCompleted      = "step.completed"
	PlanRevised        = "plan.revised"
	PlanCompleted      = "plan.completed"
	ExecutionPaused    = "execution.paused"
	ExecutionCompleted = "execution.completed"
	ExecutionError     = "execution.error"
)

// Event is one broadcast frame: the SSE event name plus its JSON payload.
type Event struct {
	Name        string
	ExecutionID string
	Payload     json.RawMessage
}
