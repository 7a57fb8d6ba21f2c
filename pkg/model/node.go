package model

// NodeType discriminates the node variants of the workflow graph.
type NodeType string

const (
	NodeTypeStandard    NodeType = "standard"
	NodeTypeAction      NodeType = "action"
	NodeTypeGeneric     NodeType = "generic"
	NodeTypeParallel    NodeType = "parallel"
	NodeTypeFork        NodeType = "fork"
	NodeTypeJoin        NodeType = "join"
	NodeTypeSubWorkflow NodeType = "subworkflow"
	NodeTypeLoop        NodeType = "loop"
	NodeTypeEnd         NodeType = "end"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeStandard, NodeTypeAction, NodeTypeGeneric, NodeTypeParallel,
		NodeTypeFork, NodeTypeJoin, NodeTypeSubWorkflow, NodeTypeLoop, NodeTypeEnd:
		return true
	}
	return false
}

// Node is a tagged variant over the node shapes. Type selects the variant;
// only the fields belonging to that variant are populated. All variants
// share ID, TransitionRules and the optional RubricID.
type Node struct {
	ID              string           `json:"id"`
	Type            NodeType         `json:"type"`
	TransitionRules []TransitionRule `json:"transitionRules,omitempty"`
	RubricID        string           `json:"rubricId,omitempty"`

	// Standard
	AgentID      string          `json:"agentId,omitempty"`
	Prompt       string          `json:"prompt,omitempty"`
	OutputParams []string        `json:"outputParams,omitempty"`
	Review       *ReviewConfig   `json:"reviewConfig,omitempty"`
	Planning     *PlanningConfig `json:"planningConfig,omitempty"`
	StaticPlan   *Plan           `json:"staticPlan,omitempty"`

	// Action
	Actions []Action `json:"actions,omitempty"`

	// Generic
	ExecutorType string         `json:"executorType,omitempty"`
	Config       map[string]any `json:"config,omitempty"`

	// Parallel
	Branches  []Branch         `json:"branches,omitempty"`
	Consensus *ConsensusConfig `json:"consensusConfig,omitempty"`

	// Fork
	Targets    []string `json:"targets,omitempty"`
	WaitForAll bool     `json:"waitForAll,omitempty"`

	// Join
	AwaitTargets   []string      `json:"awaitTargets,omitempty"`
	MergeStrategy  MergeStrategy `json:"mergeStrategy,omitempty"`
	OutputField    string        `json:"outputField,omitempty"`
	TimeoutMs      int64         `json:"timeoutMs,omitempty"`
	FailOnAnyError bool          `json:"failOnAnyError,omitempty"`

	// SubWorkflow
	WorkflowID    string            `json:"workflowId,omitempty"`
	InputMapping  map[string]string `json:"inputMapping,omitempty"`
	OutputMapping map[string]string `json:"outputMapping,omitempty"`

	// End
	ExitStatus ExitStatus `json:"exitStatus,omitempty"`
}

// ReviewMode controls when a node invokes the human review handler.
type ReviewMode string

const (
	ReviewModeOff      ReviewMode = "off"
	ReviewModeRequired ReviewMode = "required"
	ReviewModeOptional ReviewMode = "optional"
)

// ReviewConfig attaches human review to a node. Required always invokes the
// handler after the node body; Optional invokes it only on non-success.
type ReviewConfig struct {
	Mode         ReviewMode `json:"mode"`
	Instructions string     `json:"instructions,omitempty"`
}

// PlanningMode selects how a Standard node obtains its plan.
type PlanningMode string

const (
	PlanningModeStatic  PlanningMode = "static"
	PlanningModeDynamic PlanningMode = "dynamic"
)

// PlanningConfig turns a Standard node into a planned tool run.
type PlanningConfig struct {
	Mode                PlanningMode `json:"mode"`
	ReviewBeforeExecute bool         `json:"reviewBeforeExecute,omitempty"`
	PlanFailureTarget   string       `json:"planFailureTarget,omitempty"`
	MaxSteps            int          `json:"maxSteps,omitempty"`
	AllowedTools        []string     `json:"allowedTools,omitempty"`
	PlannerInstructions string       `json:"plannerInstructions,omitempty"`
}

// Plan is an ordered list of tool invocations produced by a planner or
// declared statically on the node.
type Plan struct {
	ID    string     `json:"id,omitempty"`
	Goal  string     `json:"goal,omitempty"`
	Steps []PlanStep `json:"steps"`
}

// PlanStep is a single tool invocation within a plan.
type PlanStep struct {
	ID          string         `json:"id,omitempty"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args,omitempty"`
	Description string         `json:"description,omitempty"`
}

// ActionType discriminates the two action shapes of an Action node.
type ActionType string

const (
	// ActionTypeSend dispatches a payload to a registered action handler.
	ActionTypeSend ActionType = "send"
	// ActionTypeExecute runs a command from the workflow-adjacent commands file.
	ActionTypeExecute ActionType = "execute"
)

// Action is one entry of an Action node's ordered action list.
type Action struct {
	Type      ActionType     `json:"type"`
	HandlerID string         `json:"handlerId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CommandID string         `json:"commandId,omitempty"`
}

// Branch is one arm of a Parallel node: an independent agent invocation
// feeding into consensus evaluation.
type Branch struct {
	ID       string  `json:"id"`
	AgentID  string  `json:"agentId"`
	Prompt   string  `json:"prompt"`
	RubricID string  `json:"rubricId,omitempty"`
	Weight   float64 `json:"weight,omitempty"`
}

// ConsensusStrategy selects how branch results are combined.
type ConsensusStrategy string

const (
	ConsensusMajorityVote ConsensusStrategy = "majority_vote"
	ConsensusWeightedVote ConsensusStrategy = "weighted_vote"
	ConsensusUnanimous    ConsensusStrategy = "unanimous"
	ConsensusJudgeDecides ConsensusStrategy = "judge_decides"
)

// ConsensusConfig controls consensus evaluation for a Parallel node.
type ConsensusConfig struct {
	Strategy   ConsensusStrategy `json:"strategy"`
	JudgeAgent string            `json:"judgeAgent,omitempty"`
	Threshold  float64           `json:"threshold,omitempty"`
}

// MergeStrategy selects how a Join node combines fork branch outputs.
type MergeStrategy string

const (
	MergeCollectAll   MergeStrategy = "collect_all"
	MergeFirstSuccess MergeStrategy = "first_success"
	MergeMajority     MergeStrategy = "majority"
)

// ExitStatus is the terminal status an End node assigns to the execution.
type ExitStatus string

const (
	ExitSuccess ExitStatus = "success"
	ExitFailure ExitStatus = "failure"
	ExitCancel  ExitStatus = "cancel"
)
