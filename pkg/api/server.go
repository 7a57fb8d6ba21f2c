// Package api exposes the REST and streaming surface: workflow
// management, the execution lifecycle, live event streams and the MCP
// split-pipe endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/strand-ai/strand/pkg/config"
	"github.com/strand-ai/strand/pkg/mcp"
	"github.com/strand-ai/strand/pkg/queue"
	"github.com/strand-ai/strand/pkg/services"
)

// Server bundles the services behind the HTTP surface.
type Server struct {
	cfg        *config.Config
	workflows  *services.WorkflowService
	executions *services.ExecutionService
	sessions   *mcp.SessionManager
	pool       *queue.WorkerPool
	mcpPool    *mcp.ConnectionPool

	// dbPing reports storage reachability for the health endpoint. Nil
	// when running on in-memory repositories.
	dbPing func(ctx context.Context) error
}

// NewServer creates the API server.
func NewServer(
	cfg *config.Config,
	workflows *services.WorkflowService,
	executions *services.ExecutionService,
	sessions *mcp.SessionManager,
	pool *queue.WorkerPool,
) *Server {
	return &Server{
		cfg:        cfg,
		workflows:  workflows,
		executions: executions,
		sessions:   sessions,
		pool:       pool,
	}
}

// WithMCPPool attaches the outbound connection pool so the cache
// invalidation endpoint can reach it.
func (s *Server) WithMCPPool(pool *mcp.ConnectionPool) *Server {
	s.mcpPool = pool
	return s
}

// WithDBPing attaches a storage health probe.
func (s *Server) WithDBPing(ping func(ctx context.Context) error) *Server {
	s.dbPing = ping
	return s
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.GET("/health", s.Health)

	v1 := router.Group("/api/v1")
	v1.Use(s.authenticate())
	{
		v1.POST("/workflows", s.SubmitWorkflow)
		v1.GET("/workflows", s.ListWorkflows)
		v1.GET("/workflows/:id", s.GetWorkflow)
		v1.DELETE("/workflows/:id", s.DeleteWorkflow)

		v1.POST("/executions", s.StartExecution)
		v1.GET("/executions/paused", s.ListPausedExecutions)
		v1.GET("/executions/:id", s.GetExecution)
		v1.GET("/executions/:id/plan", s.GetPendingPlan)
		v1.GET("/executions/:id/result", s.GetExecutionResult)
		v1.GET("/executions/:id/events", s.StreamExecutionEvents)
		v1.POST("/executions/:id/resume", s.ResumeExecution)
		v1.DELETE("/executions/:id", s.CancelExecution)
	}

	// The split-pipe endpoints face agent-side clients, not tenant API
	// consumers; they live outside the tenant-authenticated surface.
	mcpRoutes := router.Group("/mcp")
	{
		mcpRoutes.GET("/connect", s.MCPConnect)
		mcpRoutes.POST("/message", s.MCPMessage)
		mcpRoutes.GET("/status", s.MCPStatus)
		mcpRoutes.GET("/clients/:id/status", s.MCPClientStatus)
		mcpRoutes.POST("/clients/:id/invalidate-cache", s.MCPInvalidateCache)
	}
	return router
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "healthy"}

	if s.pool != nil {
		health := s.pool.Health()
		body["queue"] = health
		if !health.IsHealthy {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
	}
	if s.dbPing != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.dbPing(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}
	c.JSON(status, body)
}
