package mcp

import (
	"context"
	"fmt"

	"github.com/strand-ai/strand/pkg/agent"
)

// ToolHandler bridges workflow tool calls to an MCP endpoint. It serves
// plan steps as an agent.ToolInvoker and Send actions as an engine
// action handler under the "mcp" handler id.
type ToolHandler struct {
	pool     *ConnectionPool
	endpoint string
}

// NewToolHandler binds a handler to its default endpoint. Send payloads
// may override the endpoint per call.
func NewToolHandler(pool *ConnectionPool, endpoint string) *ToolHandler {
	return &ToolHandler{pool: pool, endpoint: endpoint}
}

// CallTool invokes a named tool on the default endpoint.
func (h *ToolHandler) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	return h.pool.CallTool(ctx, h.endpoint, name, args)
}

// ListTools returns the default endpoint's tool inventory.
func (h *ToolHandler) ListTools(ctx context.Context) ([]agent.ToolDescriptor, error) {
	return h.pool.ListTools(ctx, h.endpoint)
}

// SyncRegistry refreshes a tool registry from the endpoint's inventory
// so planners see the current tool set.
func (h *ToolHandler) SyncRegistry(ctx context.Context, registry *agent.ToolRegistry) error {
	tools, err := h.ListTools(ctx)
	if err != nil {
		return err
	}
	for _, tool := range tools {
		registry.Register(tool)
	}
	return nil
}

// Execute handles a Send action. The payload names the tool and its
// arguments; an optional endpoint entry targets a different client or
// server than the handler default.
func (h *ToolHandler) Execute(ctx context.Context, payload map[string]any, _ map[string]any) (any, error) {
	tool, _ := payload["tool"].(string)
	if tool == "" {
		return nil, fmt.Errorf("mcp action payload requires a tool name")
	}
	endpoint := h.endpoint
	if e, ok := payload["endpoint"].(string); ok && e != "" {
		endpoint = e
	}
	args, _ := payload["arguments"].(map[string]any)
	return h.pool.CallTool(ctx, endpoint, tool, args)
}
