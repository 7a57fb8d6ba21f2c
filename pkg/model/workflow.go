// Package model defines the immutable workflow definition types and the
// mutable per-execution state. The JSON shapes in this package are a
// compatibility contract: workflow definitions and execution snapshots are
// stored and exchanged in exactly this form.
package model

import (
	"fmt"
	"time"
)

// Workflow is a declarative workflow definition: a directed graph of nodes
// with transition rules. Workflow values are immutable once built.
type Workflow struct {
	ID        string                 `json:"id"`
	Version   string                 `json:"version"`
	Metadata  Metadata               `json:"metadata"`
	Agents    map[string]AgentConfig `json:"agents,omitempty"`
	Rubrics   map[string]string      `json:"rubrics,omitempty"`
	Nodes     map[string]*Node       `json:"nodes"`
	StartNode string                 `json:"startNode"`
	Config    *ExecutionConfig       `json:"config,omitempty"`
}

// Metadata carries display information about a workflow.
type Metadata struct {
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// AgentConfig describes an LLM agent referenced by workflow nodes.
// Provider wiring (endpoints, credentials) lives in server configuration;
// the workflow only names the agent and its generation parameters.
type AgentConfig struct {
	ID             string  `json:"id"`
	Provider       string  `json:"provider,omitempty"`
	Model          string  `json:"model,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"maxTokens,omitempty"`
	TimeoutSeconds int     `json:"timeout,omitempty"`
	SystemPrompt   string  `json:"systemPrompt,omitempty"`
}

// ExecutionConfig bounds a single execution of the workflow.
type ExecutionConfig struct {
	// MaxExecutionTime is the wall-clock budget for one execution.
	// Zero means the server default applies.
	MaxExecutionTime Duration `json:"maxExecutionTime,omitempty"`
	// CheckpointPolicy selects when state snapshots are persisted.
	CheckpointPolicy CheckpointPolicy `json:"checkpointPolicy,omitempty"`
	// Observability toggles per-step event emission.
	Observability bool `json:"observability,omitempty"`
}

// CheckpointPolicy selects when execution state is snapshotted.
type CheckpointPolicy string

const (
	// CheckpointEveryNode snapshots before every node body (the default).
	CheckpointEveryNode CheckpointPolicy = "every_node"
	// CheckpointOnPause snapshots only on pause and terminal states.
	CheckpointOnPause CheckpointPolicy = "on_pause"
)

// Validate checks the structural invariants of a workflow definition:
// the start node exists, every transition target references a known node,
// and every node-level rubric reference has a registered source.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(w.Nodes) == 0 {
		return fmt.Errorf("workflow %q has no nodes", w.ID)
	}
	if w.StartNode == "" {
		return fmt.Errorf("workflow %q has no start node", w.ID)
	}
	if _, ok := w.Nodes[w.StartNode]; !ok {
		return fmt.Errorf("workflow %q: start node %q not found", w.ID, w.StartNode)
	}
	for id, node := range w.Nodes {
		if node.ID == "" {
			node.ID = id
		} else if node.ID != id {
			return fmt.Errorf("workflow %q: node key %q does not match node id %q", w.ID, id, node.ID)
		}
		if err := w.validateNode(node); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) validateNode(node *Node) error {
	if !node.Type.Valid() {
		return fmt.Errorf("workflow %q: node %q has unknown type %q", w.ID, node.ID, node.Type)
	}
	for _, rule := range node.TransitionRules {
		for _, target := range rule.Targets() {
			if _, ok := w.Nodes[target]; !ok {
				return fmt.Errorf("workflow %q: node %q transition references unknown node %q",
					w.ID, node.ID, target)
			}
		}
	}
	if node.RubricID != "" {
		if _, ok := w.Rubrics[node.RubricID]; !ok {
			return fmt.Errorf("workflow %q: node %q references unknown rubric %q",
				w.ID, node.ID, node.RubricID)
		}
	}
	switch node.Type {
	case NodeTypeFork:
		for _, target := range node.Targets {
			if _, ok := w.Nodes[target]; !ok {
				return fmt.Errorf("workflow %q: fork %q targets unknown node %q", w.ID, node.ID, target)
			}
		}
	case NodeTypeJoin:
		for _, target := range node.AwaitTargets {
			if _, ok := w.Nodes[target]; !ok {
				return fmt.Errorf("workflow %q: join %q awaits unknown fork %q", w.ID, node.ID, target)
			}
		}
	}
	return nil
}

// Node returns the node with the given id, or nil if absent.
func (w *Workflow) Node(id string) *Node {
	return w.Nodes[id]
}

// Summary is the list-view projection of a workflow.
type Summary struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}
