// Package agent defines the executor boundary between the engine and LLM
// providers, plus the lookup registries for agents and tools.
package agent

import (
	"context"
	"errors"
)

// ErrAgentNotFound is returned when a node references an unregistered agent.
var ErrAgentNotFound = errors.New("agent not found")

// Agent is a remote LLM-backed responder. Execute returns the agent's text
// response given a resolved prompt and the execution context map. Blocking
// calls honor ctx cancellation and the per-agent timeout.
type Agent interface {
	ID() string
	Execute(ctx context.Context, prompt string, execContext map[string]any) (string, error)
}

// ToolDescriptor describes a tool available to planners and plan executors.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolInvoker executes a named tool. Implemented by the MCP action handler
// and by in-process tool registries in tests.
type ToolInvoker interface {
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}
