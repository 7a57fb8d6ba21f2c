package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts losing events; SSE clients are
// expected to reconcile through the REST API after a gap.
const subscriberBuffer = 64

// Broadcaster fans execution events out to in-process subscribers
// (the SSE handlers). Publish never blocks on a slow subscriber.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // executionID → subID → channel
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]map[string]chan Event)}
}

// Subscribe registers a listener for one execution's events. The returned
// cancel function must be called when the subscriber goes away.
func (b *Broadcaster) Subscribe(executionID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	subID := uuid.New().String()

	b.mu.Lock()
	byID, ok := b.subscribers[executionID]
	if !ok {
		byID = make(map[string]chan Event)
		b.subscribers[executionID] = byID
	}
	byID[subID] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.subscribers[executionID]; ok {
			if _, ok := subs[subID]; ok {
				delete(subs, subID)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.subscribers, executionID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of listeners for an execution.
// Used by tests to poll instead of sleeping.
func (b *Broadcaster) SubscriberCount(executionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[executionID])
}

// publish marshals the payload and delivers it to every subscriber of the
// execution. Delivery is best-effort: full subscriber buffers drop.
func (b *Broadcaster) publish(name, executionID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal event payload",
			"event", name, "execution_id", executionID, "error", err)
		return
	}
	event := Event{Name: name, ExecutionID: executionID, Payload: data}

	b.mu.RLock()
	subs := make([]chan Event, 0, len(b.subscribers[executionID]))
	for _, ch := range b.subscribers[executionID] {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			slog.Warn("Dropping event for slow subscriber",
				"event", name, "execution_id", executionID)
		}
	}
}

// --- Typed publish methods ---

// PublishExecutionStarted broadcasts execution.started.
func (b *Broadcaster) PublishExecutionStarted(p ExecutionStartedPayload) {
	b.publish(ExecutionStarted, p.ExecutionID, p)
}

// PublishStepStarted broadcasts step.started.
func (b *Broadcaster) PublishStepStarted(p StepStartedPayload) {
	b.publish(StepStarted, p.ExecutionID, p)
}

// PublishStepCompleted broadcasts step.completed.
func (b *Broadcaster) PublishStepCompleted(p StepCompletedPayload) {
	b.publish(StepCompleted, p.ExecutionID, p)
}

// PublishPlanCreated broadcasts plan.created.
func (b *Broadcaster) PublishPlanCreated(p PlanCreatedPayload) {
	b.publish(PlanCreated, p.ExecutionID, p)
}

// PublishPlanRevised broadcasts plan.revised.
func (b *Broadcaster) PublishPlanRevised(p PlanRevisedPayload) {
	b.publish(PlanRevised, p.ExecutionID, p)
}

// PublishPlanCompleted broadcasts plan.completed.
func (b *Broadcaster) PublishPlanCompleted(p PlanCompletedPayload) {
	b.publish(PlanCompleted, p.ExecutionID, p)
}

// PublishExecutionPaused broadcasts execution.paused.
func (b *Broadcaster) PublishExecutionPaused(p ExecutionPausedPayload) {
	b.publish(ExecutionPaused, p.ExecutionID, p)
}

// PublishExecutionCompleted broadcasts execution.completed.
func (b *Broadcaster) PublishExecutionCompleted(p ExecutionCompletedPayload) {
	b.publish(ExecutionCompleted, p.ExecutionID, p)
}

// PublishExecutionError broadcasts execution.error.
func (b *Broadcaster) PublishExecutionError(p ExecutionErrorPayload) {
	b.publish(ExecutionError, p.ExecutionID, p)
}

// String implements fmt.Stringer for logging.
func (e Event) String() string {
	return fmt.Sprintf("%s(%s)", e.Name, e.ExecutionID)
}
