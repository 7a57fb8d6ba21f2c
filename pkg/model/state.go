package model

import "time"

// Reserved context keys. Keys beginning with "_" are engine-internal
// metadata and are stripped from the final result surface.
const (
	// KeyPlanReviewRequired marks a Pending result that must pause for
	// plan review before execution continues.
	KeyPlanReviewRequired = "_plan_review_required"
	// KeyPlanFailureTarget routes transition resolution after a failed plan.
	KeyPlanFailureTarget = "_plan_failure_target"
	// KeyPendingPlan holds the serialized plan awaiting review.
	KeyPendingPlan = "_pending_plan"
	// KeyPlanApproved is set by the resume path once a reviewer approves.
	KeyPlanApproved = "_plan_approved"
	// KeyEditedPrompt stages a reviewer-edited prompt for the next visit
	// to the backtrack target node.
	KeyEditedPrompt = "_edited_prompt"
	// KeyPlanProgress tracks the running plan for the plan status endpoint.
	KeyPlanProgress = "_plan_progress"

	// KeyLoopExitTarget is consumed by loop transition handling.
	KeyLoopExitTarget = "loop_exit_target"
	// KeyRetryAttempt counts rubric-driven retries of the current node.
	KeyRetryAttempt = "retry_attempt"
	// KeyBacktrackReason records why the engine moved the cursor backwards.
	KeyBacktrackReason = "backtrack_reason"
	// KeyFailedCriteria lists rubric criteria that failed the last evaluation.
	KeyFailedCriteria = "failed_criteria"
	// KeyImprovementSuggestions carries rubric suggestions to the retried node.
	KeyImprovementSuggestions = "improvement_suggestions"
	// KeyRecommendations carries rubric recommendations on moderate failures.
	KeyRecommendations = "recommendations"
)

// BacktrackType classifies how a backtrack was decided.
type BacktrackType string

const (
	BacktrackManual    BacktrackType = "manual"
	BacktrackAutomatic BacktrackType = "automatic"
	BacktrackJump      BacktrackType = "jump"
)

// ExecutionStep records one completed node body in execution order.
type ExecutionStep struct {
	NodeID    string      `json:"nodeId"`
	Result    *NodeResult `json:"result"`
	Timestamp time.Time   `json:"timestamp"`
}

// BacktrackEvent records a cursor move to an earlier node. History is never
// unwound; the event is the only trace of the redirection.
type BacktrackEvent struct {
	From        string        `json:"from"`
	To          string        `json:"to"`
	Reason      string        `json:"reason,omitempty"`
	Type        BacktrackType `json:"type"`
	RubricScore *float64      `json:"rubricScore,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// History is the append-only record of an execution attempt.
type History struct {
	Steps      []ExecutionStep  `json:"steps"`
	Backtracks []BacktrackEvent `json:"backtracks"`
}

// AppendStep appends a completed step. Steps reflect completion order of
// node bodies within one execution.
func (h *History) AppendStep(nodeID string, result *NodeResult) {
	h.Steps = append(h.Steps, ExecutionStep{NodeID: nodeID, Result: result, Timestamp: time.Now()})
}

// AppendBacktrack appends a backtrack event in decision order.
func (h *History) AppendBacktrack(event BacktrackEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.Backtracks = append(h.Backtracks, event)
}

// RetryEntry tracks Failure-rule retries for one node. From records the
// predecessor that last entered the node: counters reset when the node is
// entered from a different predecessor and persist across self-loops.
type RetryEntry struct {
	Count int    `json:"count"`
	From  string `json:"from,omitempty"`
}

// State is the mutable per-execution state. A State value is owned by a
// single execution; branch tasks operate on derived snapshots and merge
// back through their executor.
type State struct {
	WorkflowID  string         `json:"workflowId"`
	CurrentNode string         `json:"currentNode"`
	Context     map[string]any `json:"context"`
	History     History        `json:"history"`

	// Retries tracks Failure-rule counters keyed by node id.
	Retries map[string]*RetryEntry `json:"retries,omitempty"`

	// RubricEvaluation is the evaluation of the most recent rubric-bearing
	// node, consumed by score transitions. Transient across nodes.
	RubricEvaluation *RubricEvaluation `json:"rubricEvaluation,omitempty"`

	// LoopBreakTarget overrides the next transition once, then clears.
	LoopBreakTarget string `json:"loopBreakTarget,omitempty"`
}

// NewState creates execution state positioned at the workflow start node.
func NewState(workflowID, startNode string, initial map[string]any) *State {
	ctx := make(map[string]any, len(initial))
	for k, v := range initial {
		ctx[k] = v
	}
	return &State{
		WorkflowID:  workflowID,
		CurrentNode: startNode,
		Context:     ctx,
	}
}

// Get returns the context value for key.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.Context[key]
	return v, ok
}

// Set stores a context value, allocating the map on first use.
func (s *State) Set(key string, value any) {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.Context[key] = value
}

// Delete removes a context key.
func (s *State) Delete(key string) {
	delete(s.Context, key)
}

// Merge copies every entry of patch into the context, overwriting
// existing keys.
func (s *State) Merge(patch map[string]any) {
	for k, v := range patch {
		s.Set(k, v)
	}
}

// RetryCount returns the Failure-rule retry counter for a node.
func (s *State) RetryCount(nodeID string) int {
	if entry, ok := s.Retries[nodeID]; ok {
		return entry.Count
	}
	return 0
}

// IncrementRetry bumps the Failure-rule counter for a node and returns the
// new count.
func (s *State) IncrementRetry(nodeID string) int {
	if s.Retries == nil {
		s.Retries = make(map[string]*RetryEntry)
	}
	entry, ok := s.Retries[nodeID]
	if !ok {
		entry = &RetryEntry{}
		s.Retries[nodeID] = entry
	}
	entry.Count++
	return entry.Count
}

// RecordEntry notes that the cursor entered nodeID from predecessor from.
// Entering from a different predecessor resets the node's retry counter;
// self-loops keep it.
func (s *State) RecordEntry(nodeID, from string) {
	if nodeID == from {
		return
	}
	entry, ok := s.Retries[nodeID]
	if !ok {
		return
	}
	if entry.From != from {
		entry.Count = 0
		entry.From = from
	}
}

// Snapshot returns a deep-enough copy for a branch task: context and retry
// maps are copied, history starts empty. Branch results merge back through
// the fork/join coordinator, never by writing the parent state directly.
func (s *State) Snapshot() *State {
	ctx := make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		ctx[k] = v
	}
	retries := make(map[string]*RetryEntry, len(s.Retries))
	for k, v := range s.Retries {
		copied := *v
		retries[k] = &copied
	}
	return &State{
		WorkflowID:  s.WorkflowID,
		CurrentNode: s.CurrentNode,
		Context:     ctx,
		Retries:     retries,
	}
}

// ResultContext returns the externally visible final context: every key
// beginning with "_" is stripped.
func (s *State) ResultContext() map[string]any {
	out := make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		out[k] = v
	}
	return out
}
