package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/version"
)

// connectTimeout bounds the MCP initialize handshake for outbound
// HTTP servers.
const connectTimeout = 30 * time.Second

// Connection is one live MCP endpoint, split-pipe or outbound HTTP.
type Connection interface {
	ListTools(ctx context.Context) ([]agent.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
	Close() error
}

// ConnectionPool resolves endpoint URLs to live connections and caches
// both the connections and their tool inventories.
//
// Endpoint schemes:
//
//	sse://<clientId>  — split-pipe session owned by the SessionManager
//	http://, https:// — outbound MCP server via the official SDK
type ConnectionPool struct {
	sessions *SessionManager
	cache    *toolCache
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[string]Connection
}

func NewConnectionPool(sessions *SessionManager, logger *slog.Logger) *ConnectionPool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &ConnectionPool{
		sessions: sessions,
		cache:    newToolCache(DefaultToolCacheTTL),
		logger:   logger,
		conns:    make(map[string]Connection),
	}
	if sessions != nil {
		sessions.OnDisconnect(func(clientID string) {
			p.InvalidateCache("sse://" + clientID)
		})
	}
	return p
}

// IsSplitPipeEndpoint reports whether the endpoint addresses a split-pipe
// client session rather than an outbound HTTP server.
func IsSplitPipeEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, "sse://")
}

// SetToolCacheTTL overrides the tool inventory cache TTL.
func (p *ConnectionPool) SetToolCacheTTL(ttl time.Duration) {
	p.cache.setTTL(ttl)
}

// Acquire returns the pooled connection for an endpoint, dialing it on
// first use.
func (p *ConnectionPool) Acquire(ctx context.Context, endpoint string) (Connection, error) {
	p.mu.Lock()
	if conn, ok := p.conns[endpoint]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[endpoint]; ok {
		_ = conn.Close()
		return existing, nil
	}
	p.conns[endpoint] = conn
	return conn, nil
}

func (p *ConnectionPool) dial(ctx context.Context, endpoint string) (Connection, error) {
	switch {
	case strings.HasPrefix(endpoint, "sse://"):
		if p.sessions == nil {
			return nil, fmt.Errorf("endpoint %s: no session manager configured", endpoint)
		}
		clientID := strings.TrimPrefix(endpoint, "sse://")
		if clientID == "" {
			return nil, fmt.Errorf("endpoint %s: missing client id", endpoint)
		}
		return &sessionConnection{clientID: clientID, sessions: p.sessions}, nil
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return dialStreamable(ctx, endpoint)
	default:
		return nil, fmt.Errorf("endpoint %s: unsupported scheme", endpoint)
	}
}

// ListTools returns the endpoint's tool inventory, served from the TTL
// cache when fresh.
func (p *ConnectionPool) ListTools(ctx context.Context, endpoint string) ([]agent.ToolDescriptor, error) {
	if tools, ok := p.cache.get(endpoint); ok {
		return tools, nil
	}
	conn, err := p.Acquire(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	tools, err := conn.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	p.cache.put(endpoint, tools)
	return tools, nil
}

// CallTool invokes a tool on the endpoint.
func (p *ConnectionPool) CallTool(ctx context.Context, endpoint, name string, args map[string]any) (any, error) {
	conn, err := p.Acquire(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return conn.CallTool(ctx, name, args)
}

// InvalidateCache drops the cached tool inventory for an endpoint.
func (p *ConnectionPool) InvalidateCache(endpoint string) {
	p.cache.invalidate(endpoint)
}

// Close tears down every pooled connection.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]Connection)
	p.mu.Unlock()

	var firstErr error
	for endpoint, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing connection to %s: %w", endpoint, err)
		}
	}
	p.cache.invalidateAll()
	return firstErr
}

// sessionConnection speaks JSON-RPC over a split-pipe client session.
type sessionConnection struct {
	clientID string
	sessions *SessionManager
}

// listToolsResult mirrors the MCP tools/list result shape.
type listToolsResult struct {
	Tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		InputSchema map[string]any `json:"inputSchema,omitempty"`
	} `json:"tools"`
}

// callToolResult mirrors the MCP tools/call result shape.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

func (c *sessionConnection) ListTools(ctx context.Context) ([]agent.ToolDescriptor, error) {
	raw, err := c.sessions.SendRequest(ctx, c.clientID, MethodListTools, map[string]any{})
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("client %s returned malformed tools/list result: %w", c.clientID, err)
	}
	tools := make([]agent.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, agent.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

func (c *sessionConnection) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	raw, err := c.sessions.SendRequest(ctx, c.clientID, MethodCallTool, map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err == nil && len(result.Content) > 0 {
		var parts []string
		for _, item := range result.Content {
			if item.Type == "text" {
				parts = append(parts, item.Text)
			}
		}
		text := strings.Join(parts, "\n")
		if result.IsError {
			return nil, fmt.Errorf("tool %s failed: %s", name, text)
		}
		return text, nil
	}

	// Plain results without the content envelope pass through decoded.
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("client %s returned malformed tools/call result: %w", c.clientID, err)
	}
	return value, nil
}

func (c *sessionConnection) Close() error {
	c.sessions.Disconnect(c.clientID)
	return nil
}

// sdkConnection wraps an SDK session to an outbound MCP server.
type sdkConnection struct {
	endpoint string
	session  *mcpsdk.ClientSession
}

func dialStreamable(ctx context.Context, endpoint string) (Connection, error) {
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint: endpoint,
	}

	initCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := any(transport).(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return &sdkConnection{endpoint: endpoint, session: session}, nil
}

func (c *sdkConnection) ListTools(ctx context.Context) ([]agent.ToolDescriptor, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools from %s: %w", c.endpoint, err)
	}
	tools := make([]agent.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, agent.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}
	return tools, nil
}

func (c *sdkConnection) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("tool %s on %s: %w", name, c.endpoint, err)
	}
	text := extractTextContent(result)
	if result.IsError {
		return nil, fmt.Errorf("tool %s failed: %s", name, text)
	}
	return text, nil
}

func (c *sdkConnection) Close() error {
	return c.session.Close()
}

// extractTextContent concatenates the TextContent items of a tool result.
// Non-text content (images, embedded resources) is skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", content))
		}
	}
	return strings.Join(parts, "\n")
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
