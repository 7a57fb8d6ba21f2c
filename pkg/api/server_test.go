package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/config"
	"github.com/strand-ai/strand/pkg/engine"
	"github.com/strand-ai/strand/pkg/events"
	"github.com/strand-ai/strand/pkg/mcp"
	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/queue"
	"github.com/strand-ai/strand/pkg/rubric"
	"github.com/strand-ai/strand/pkg/services"
	"github.com/strand-ai/strand/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

// streamRecorder is a ResponseRecorder safe to inspect while a streaming
// handler is still writing to it.
type streamRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (r *streamRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *streamRecorder) WriteString(s string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.WriteString(s)
}

func (r *streamRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

// inlineQueue runs every enqueued job synchronously so handler tests see
// terminal statuses immediately.
type inlineQueue struct {
	executor queue.Executor
	fail     error
}

func (q *inlineQueue) Enqueue(job *queue.Job) error {
	if q.fail != nil {
		return q.fail
	}
	q.executor.Execute(context.Background(), job)
	return nil
}

func (q *inlineQueue) CancelExecution(string) bool { return false }

// captureInvoker records tool calls and returns canned outputs.
type captureInvoker struct {
	mu    sync.Mutex
	calls []string
}

func (i *captureInvoker) CallTool(_ context.Context, name string, _ map[string]any) (any, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, name)
	return "done:" + name, nil
}

type apiHarness struct {
	cfg        *config.Config
	router     *gin.Engine
	server     *Server
	executions *services.ExecutionService
	records    *storage.MemoryExecutionRepository
	queue      *inlineQueue
	sessions   *mcp.SessionManager
}

func newAPIHarness(t *testing.T, devMode bool) *apiHarness {
	t.Helper()

	cfg := config.Default()
	cfg.Server.DevMode = devMode
	cfg.Auth.JWTSecret = testSecret

	workflows := storage.NewMemoryWorkflowRepository()
	records := storage.NewMemoryExecutionRepository()

	agents := agent.NewRegistry()
	agents.Register(agent.NewScriptedAgent("echo"))

	execSvc := services.NewExecutionService(workflows, records, events.NewBroadcaster(), engine.NewDriver(), services.EngineDeps{
		Agents:   agents,
		Tools:    agent.NewToolRegistry(),
		Invoker:  &captureInvoker{},
		Rubrics:  rubric.NewEngine(nil),
		Actions:  engine.NewHandlerRegistry(),
		Generic:  engine.NewGenericRegistry(),
		Commands: engine.NewCommandRegistry(),
		Review:   engine.AutoApprover{},
	})
	q := &inlineQueue{executor: execSvc}
	execSvc.AttachQueue(q)

	sessions := mcp.NewSessionManager(nil)
	server := NewServer(cfg, services.NewWorkflowService(workflows), execSvc, sessions, nil)

	return &apiHarness{
		cfg:        cfg,
		router:     server.Router(),
		server:     server,
		executions: execSvc,
		records:    records,
		queue:      q,
		sessions:   sessions,
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func bearerFor(t *testing.T, claims jwt.MapClaims) map[string]string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + signed}
}

func linearWorkflowBody() map[string]any {
	return map[string]any{
		"id":        "wf",
		"startNode": "n0",
		"nodes": map[string]any{
			"n0": map[string]any{
				"id": "n0", "type": "standard", "agentId": "echo", "prompt": "handle {ticket}",
				"transitionRules": []any{map[string]any{"type": "success", "target": "done"}},
			},
			"done": map[string]any{"id": "done", "type": "end", "exitStatus": "success"},
		},
	}
}

func reviewedWorkflowBody() map[string]any {
	return map[string]any{
		"id":        "wf-review",
		"startNode": "plan",
		"nodes": map[string]any{
			"plan": map[string]any{
				"id": "plan", "type": "standard", "agentId": "echo",
				"planningConfig": map[string]any{"mode": "static", "reviewBeforeExecute": true},
				"staticPlan":     map[string]any{"id": "p1", "steps": []any{map[string]any{"tool": "grep", "args": map[string]any{"q": "x"}}}},
				"transitionRules": []any{
					map[string]any{"type": "success", "target": "done"},
				},
			},
			"done": map[string]any{"id": "done", "type": "end", "exitStatus": "success"},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newAPIHarness(t, true)
	rec := h.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestAuthRequiredOutsideDevMode(t *testing.T) {
	h := newAPIHarness(t, false)

	rec := h.do(t, http.MethodGet, "/api/v1/workflows", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/workflows", nil, map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/workflows", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAcceptsSignedToken(t *testing.T) {
	h := newAPIHarness(t, false)
	headers := bearerFor(t, jwt.MapClaims{"tenant_id": "acme"})

	rec := h.do(t, http.MethodGet, "/api/v1/workflows", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejectsMissingTenantClaim(t *testing.T) {
	h := newAPIHarness(t, false)
	headers := bearerFor(t, jwt.MapClaims{"sub": "someone"})

	rec := h.do(t, http.MethodGet, "/api/v1/workflows", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsWrongSignature(t *testing.T) {
	h := newAPIHarness(t, false)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"tenant_id": "acme"})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/api/v1/workflows", nil, map[string]string{"Authorization": "Bearer " + signed})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthTenantIsolation(t *testing.T) {
	h := newAPIHarness(t, false)
	acme := bearerFor(t, jwt.MapClaims{"tenant_id": "acme"})
	globex := bearerFor(t, jwt.MapClaims{"tenant_id": "globex"})

	rec := h.do(t, http.MethodPost, "/api/v1/workflows", linearWorkflowBody(), acme)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/workflows/wf", nil, acme)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/workflows/wf", nil, globex)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDevModeFallsBackToDevTenant(t *testing.T) {
	h := newAPIHarness(t, true)

	rec := h.do(t, http.MethodPost, "/api/v1/workflows", linearWorkflowBody(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/workflows/wf", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitWorkflowCreateThenUpdate(t *testing.T) {
	h := newAPIHarness(t, true)

	rec := h.do(t, http.MethodPost, "/api/v1/workflows", linearWorkflowBody(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/workflows", linearWorkflowBody(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitWorkflowRejectsBadTransition(t *testing.T) {
	h := newAPIHarness(t, true)
	body := linearWorkflowBody()
	body["nodes"].(map[string]any)["n0"].(map[string]any)["transitionRules"] = []any{
		map[string]any{"type": "success", "target": "nowhere"},
	}

	rec := h.do(t, http.MethodPost, "/api/v1/workflows", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/workflows/wf", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitWorkflowRejectsBadIdentifier(t *testing.T) {
	h := newAPIHarness(t, true)
	body := linearWorkflowBody()
	body["id"] = "wf with spaces"

	rec := h.do(t, http.MethodPost, "/api/v1/workflows", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteWorkflow(t *testing.T) {
	h := newAPIHarness(t, true)
	h.do(t, http.MethodPost, "/api/v1/workflows", linearWorkflowBody(), nil)

	rec := h.do(t, http.MethodDelete, "/api/v1/workflows/wf", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/v1/workflows/wf", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecutionLifecycle(t *testing.T) {
	h := newAPIHarness(t, true)
	h.do(t, http.MethodPost, "/api/v1/workflows", linearWorkflowBody(), nil)

	rec := h.do(t, http.MethodPost, "/api/v1/executions", map[string]any{
		"workflowId": "wf",
		"input":      map[string]any{"ticket": "T-1"},
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started struct {
		ExecutionID string `json:"executionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.ExecutionID)

	rec = h.do(t, http.MethodGet, "/api/v1/executions/"+started.ExecutionID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view executionStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "completed", view.Status)
	assert.Equal(t, "success", view.ExitStatus)

	rec = h.do(t, http.MethodGet, "/api/v1/executions/"+started.ExecutionID+"/result", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result services.ResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "handle T-1", result.Context["n0"])

	// A terminal execution cannot be cancelled.
	rec = h.do(t, http.MethodDelete, "/api/v1/executions/"+started.ExecutionID, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartUnknownWorkflow(t *testing.T) {
	h := newAPIHarness(t, true)
	rec := h.do(t, http.MethodPost, "/api/v1/executions", map[string]any{"workflowId": "ghost"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartQueueFull(t *testing.T) {
	h := newAPIHarness(t, true)
	h.do(t, http.MethodPost, "/api/v1/workflows", linearWorkflowBody(), nil)
	h.queue.fail = queue.ErrQueueFull

	rec := h.do(t, http.MethodPost, "/api/v1/executions", map[string]any{"workflowId": "wf"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPlanReviewOverAPI(t *testing.T) {
	h := newAPIHarness(t, true)
	h.do(t, http.MethodPost, "/api/v1/workflows", reviewedWorkflowBody(), nil)

	rec := h.do(t, http.MethodPost, "/api/v1/executions", map[string]any{"workflowId": "wf-review"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started struct {
		ExecutionID string `json:"executionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	rec = h.do(t, http.MethodGet, "/api/v1/executions/paused", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), started.ExecutionID)
	assert.Contains(t, rec.Body.String(), `"currentNodeId":"plan"`)
	assert.Contains(t, rec.Body.String(), `"hasPendingPlan":true`)

	rec = h.do(t, http.MethodGet, "/api/v1/executions/"+started.ExecutionID+"/plan", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"planId":"p1"`)
	assert.Contains(t, rec.Body.String(), `"totalSteps":1`)
	assert.Contains(t, rec.Body.String(), `"currentStep":0`)

	rec = h.do(t, http.MethodPost, "/api/v1/executions/"+started.ExecutionID+"/resume",
		map[string]any{"approved": true}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"resumed"}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/v1/executions/"+started.ExecutionID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
}

func TestResumeNotPausedConflicts(t *testing.T) {
	h := newAPIHarness(t, true)
	h.do(t, http.MethodPost, "/api/v1/workflows", linearWorkflowBody(), nil)

	rec := h.do(t, http.MethodPost, "/api/v1/executions", map[string]any{"workflowId": "wf"}, nil)
	var started struct {
		ExecutionID string `json:"executionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	rec = h.do(t, http.MethodPost, "/api/v1/executions/"+started.ExecutionID+"/resume",
		map[string]any{"approved": true}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInvalidPathIdentifier(t *testing.T) {
	h := newAPIHarness(t, true)
	rec := h.do(t, http.MethodGet, "/api/v1/workflows/.hidden", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMCPMessageMalformed(t *testing.T) {
	h := newAPIHarness(t, true)

	rec := h.do(t, http.MethodPost, "/mcp/message", map[string]any{"jsonrpc": "1.0", "id": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMCPMessageAccepted(t *testing.T) {
	h := newAPIHarness(t, true)

	// Unknown ids are dropped by the session manager but the frame itself
	// is well-formed.
	rec := h.do(t, http.MethodPost, "/mcp/message",
		map[string]any{"jsonrpc": "2.0", "id": "req-1", "result": map[string]any{}}, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMCPStatusEmpty(t *testing.T) {
	h := newAPIHarness(t, true)
	rec := h.do(t, http.MethodGet, "/mcp/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"connectedClients":0,"pendingRequests":0}`, rec.Body.String())
}

func TestMCPEndpointsSkipTenantAuth(t *testing.T) {
	// Split-pipe clients carry no tenant JWT; the endpoints sit outside
	// the authenticated group.
	h := newAPIHarness(t, false)
	rec := h.do(t, http.MethodGet, "/mcp/status", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMCPClientStatusDisconnected(t *testing.T) {
	h := newAPIHarness(t, true)
	rec := h.do(t, http.MethodGet, "/mcp/clients/ghost/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"clientId":"ghost"`)
	assert.Contains(t, rec.Body.String(), `"connected":false`)
}

func TestMCPConnectRequiresClientID(t *testing.T) {
	h := newAPIHarness(t, true)
	rec := h.do(t, http.MethodGet, "/mcp/connect", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMCPInvalidateCache(t *testing.T) {
	h := newAPIHarness(t, true)
	rec := h.do(t, http.MethodPost, "/mcp/clients/c1/invalidate-cache", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodPost, "/mcp/clients/.hidden/invalidate-cache", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMCPConnectStreamsAndDisconnects(t *testing.T) {
	h := newAPIHarness(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/mcp/connect?clientId=agent-1", nil).WithContext(ctx)
	rec := newStreamRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.router.ServeHTTP(rec, req)
	}()

	// The first frame on every stream is the ping notification.
	require.Eventually(t, func() bool {
		return strings.Contains(rec.body(), mcp.MethodPing)
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not return after context cancel")
	}

	// The dropped connection tears the session down.
	assert.False(t, h.sessions.IsConnected("agent-1"))
}

func TestExecutionEventStream(t *testing.T) {
	h := newAPIHarness(t, true)

	state := model.NewState("wf", "n0", nil)
	require.NoError(t, h.records.Save(context.Background(), "default", &storage.ExecutionRecord{
		ID: "e1", WorkflowID: "wf", Status: storage.ExecutionRunning, State: state,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/e1/events", nil).WithContext(ctx)
	rec := newStreamRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.router.ServeHTTP(rec, req)
	}()

	broadcaster := h.executions.Events()
	require.Eventually(t, func() bool {
		return broadcaster.SubscriberCount("e1") == 1
	}, time.Second, 5*time.Millisecond)

	broadcaster.PublishExecutionCompleted(events.ExecutionCompletedPayload{
		ExecutionID: "e1",
		Status:      "completed",
	})

	require.Eventually(t, func() bool {
		return strings.Contains(rec.body(), "event: "+events.ExecutionCompleted)
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not return after context cancel")
	}
	assert.Contains(t, rec.body(), `"executionId":"e1"`)
}

func TestEventStreamUnknownExecution(t *testing.T) {
	h := newAPIHarness(t, true)
	rec := h.do(t, http.MethodGet, "/api/v1/executions/ghost/events", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
