package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/pkg/agent"
)

func toolClient(t *testing.T, mgr *SessionManager, clientID string) *fakeClient {
	t.Helper()
	return runFakeClient(t, mgr, clientID, func(req Request) *Response {
		switch req.Method {
		case MethodListTools:
			result, err := json.Marshal(map[string]any{
				"tools": []map[string]any{
					{"name": "read_file", "description": "read a workspace file"},
					{"name": "grep", "description": "search the workspace"},
				},
			})
			require.NoError(t, err)
			return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
		case MethodCallTool:
			return &Response{JSONRPC: "2.0", ID: req.ID, Result: textResult(t, "file contents")}
		default:
			return &Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
		}
	})
}

func TestPoolListToolsOverSplitPipe(t *testing.T) {
	mgr := NewSessionManager(nil)
	toolClient(t, mgr, "browser-1")
	pool := NewConnectionPool(mgr, nil)

	tools, err := pool.ListTools(context.Background(), "sse://browser-1")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "read_file", tools[0].Name)
	assert.Equal(t, "read a workspace file", tools[0].Description)
}

func TestPoolListToolsIsCached(t *testing.T) {
	mgr := NewSessionManager(nil)
	fc := toolClient(t, mgr, "browser-1")
	pool := NewConnectionPool(mgr, nil)

	_, err := pool.ListTools(context.Background(), "sse://browser-1")
	require.NoError(t, err)
	_, err = pool.ListTools(context.Background(), "sse://browser-1")
	require.NoError(t, err)

	listCalls := 0
	for _, req := range fc.requests() {
		if req.Method == MethodListTools {
			listCalls++
		}
	}
	assert.Equal(t, 1, listCalls)
}

func TestPoolCacheInvalidatedOnDisconnect(t *testing.T) {
	mgr := NewSessionManager(nil)
	toolClient(t, mgr, "browser-1")
	pool := NewConnectionPool(mgr, nil)

	_, err := pool.ListTools(context.Background(), "sse://browser-1")
	require.NoError(t, err)

	mgr.Disconnect("browser-1")
	_, ok := pool.cache.get("sse://browser-1")
	assert.False(t, ok)
}

func TestPoolCallToolExtractsText(t *testing.T) {
	mgr := NewSessionManager(nil)
	toolClient(t, mgr, "browser-1")
	pool := NewConnectionPool(mgr, nil)

	result, err := pool.CallTool(context.Background(), "sse://browser-1", "read_file", map[string]any{"path": "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "file contents", result)
}

func TestPoolCallToolErrorResult(t *testing.T) {
	mgr := NewSessionManager(nil)
	runFakeClient(t, mgr, "browser-1", func(req Request) *Response {
		result, err := json.Marshal(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "permission denied"}},
			"isError": true,
		})
		require.NoError(t, err)
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
	})
	pool := NewConnectionPool(mgr, nil)

	_, err := pool.CallTool(context.Background(), "sse://browser-1", "rm_rf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestPoolRejectsUnknownScheme(t *testing.T) {
	pool := NewConnectionPool(NewSessionManager(nil), nil)
	_, err := pool.Acquire(context.Background(), "ftp://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestPoolRejectsEmptyClientID(t *testing.T) {
	pool := NewConnectionPool(NewSessionManager(nil), nil)
	_, err := pool.Acquire(context.Background(), "sse://")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing client id")
}

func TestToolCacheTTLExpiry(t *testing.T) {
	cache := newToolCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.put("sse://c1", []agent.ToolDescriptor{{Name: "grep"}})
	tools, ok := cache.get("sse://c1")
	require.True(t, ok)
	assert.Equal(t, "grep", tools[0].Name)

	now = now.Add(2 * time.Minute)
	_, ok = cache.get("sse://c1")
	assert.False(t, ok)
}

func TestToolCacheInvalidate(t *testing.T) {
	cache := newToolCache(time.Minute)
	cache.put("sse://c1", []agent.ToolDescriptor{{Name: "grep"}})
	cache.invalidate("sse://c1")
	_, ok := cache.get("sse://c1")
	assert.False(t, ok)
}

func TestToolHandlerSendAction(t *testing.T) {
	mgr := NewSessionManager(nil)
	toolClient(t, mgr, "browser-1")
	pool := NewConnectionPool(mgr, nil)
	handler := NewToolHandler(pool, "sse://browser-1")

	result, err := handler.Execute(context.Background(), map[string]any{
		"tool":      "read_file",
		"arguments": map[string]any{"path": "a.txt"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "file contents", result)
}

func TestToolHandlerRequiresToolName(t *testing.T) {
	handler := NewToolHandler(NewConnectionPool(NewSessionManager(nil), nil), "sse://browser-1")
	_, err := handler.Execute(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a tool name")
}

func TestToolHandlerSyncRegistry(t *testing.T) {
	mgr := NewSessionManager(nil)
	toolClient(t, mgr, "browser-1")
	pool := NewConnectionPool(mgr, nil)
	handler := NewToolHandler(pool, "sse://browser-1")

	registry := agent.NewToolRegistry()
	require.NoError(t, handler.SyncRegistry(context.Background(), registry))
	_, ok := registry.Get("read_file")
	assert.True(t, ok)
	_, ok = registry.Get("grep")
	assert.True(t, ok)
}
