// Strand workflow server — exposes the REST/SSE API, runs queue workers
// and drives workflow executions against LLM providers and MCP tools.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/api"
	"github.com/strand-ai/strand/pkg/cleanup"
	"github.com/strand-ai/strand/pkg/config"
	"github.com/strand-ai/strand/pkg/database"
	"github.com/strand-ai/strand/pkg/engine"
	"github.com/strand-ai/strand/pkg/events"
	"github.com/strand-ai/strand/pkg/masking"
	"github.com/strand-ai/strand/pkg/mcp"
	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/queue"
	"github.com/strand-ai/strand/pkg/rubric"
	"github.com/strand-ai/strand/pkg/services"
	"github.com/strand-ai/strand/pkg/slack"
	"github.com/strand-ai/strand/pkg/storage"
	"github.com/strand-ai/strand/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier used in worker ids.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

// nodePlanner plans each dynamic node with the node's own agent.
type nodePlanner struct {
	agents *agent.Registry
}

func (p nodePlanner) CreatePlan(ctx context.Context, node *model.Node, tools []agent.ToolDescriptor, execContext map[string]any) (*model.Plan, error) {
	return engine.NewAgentPlanner(p.agents, node.AgentID).CreatePlan(ctx, node, tools, execContext)
}

// slackNotifier adapts the Slack service to the execution lifecycle hook.
type slackNotifier struct {
	svc *slack.Service
}

func (n slackNotifier) ExecutionStarted(ctx context.Context, rec *storage.ExecutionRecord) {
	n.svc.NotifyExecutionStarted(ctx, slack.ExecutionStartedInput{
		ExecutionID: rec.ID,
		WorkflowID:  rec.WorkflowID,
	})
}

func (n slackNotifier) ExecutionFinished(ctx context.Context, rec *storage.ExecutionRecord) {
	n.svc.NotifyExecutionCompleted(ctx, slack.ExecutionCompletedInput{
		ExecutionID: rec.ID,
		WorkflowID:  rec.WorkflowID,
		Status:      string(rec.Status),
		ExitStatus:  rec.ExitStatus,
		Error:       rec.Error,
	})
}

func main() {
	configPath := flag.String("config",
		getEnv("STRAND_CONFIG", "./strand.yaml"),
		"Path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	podID := resolvePodID()
	slog.Info("Starting strand",
		"version", version.Full(),
		"pod_id", podID,
		"config_file", *configPath)

	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		slog.Warn("Config file not found, using built-in defaults", "path", *configPath)
		*configPath = ""
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Repositories: PostgreSQL when configured, in-memory otherwise.
	var (
		workflowRepo  storage.WorkflowRepository
		executionRepo storage.ExecutionRepository
		dbClient      *database.Client
	)
	if cfg.Database.Host != "" {
		dbClient, err = database.NewClient(ctx, database.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		})
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		workflowRepo = storage.NewPostgresWorkflowRepository(dbClient.DB())
		executionRepo = storage.NewPostgresExecutionRepository(dbClient.DB())
		slog.Info("Connected to PostgreSQL database", "host", cfg.Database.Host)
	} else {
		workflowRepo = storage.NewMemoryWorkflowRepository()
		executionRepo = storage.NewMemoryExecutionRepository()
		slog.Warn("No database configured, executions will not survive restarts")
	}

	// Agents from configuration.
	agents := agent.NewRegistry()
	for id, spec := range cfg.Agents {
		provider := cfg.Providers[spec.Provider]
		agents.Register(agent.NewOpenAIAgent(model.AgentConfig{
			ID:             id,
			Provider:       spec.Provider,
			Model:          spec.Model,
			Temperature:    spec.Temperature,
			MaxTokens:      spec.MaxTokens,
			TimeoutSeconds: spec.TimeoutSeconds,
			SystemPrompt:   spec.SystemPrompt,
		}, provider.APIKey, provider.BaseURL))
	}
	slog.Info("Agents registered", "count", len(cfg.Agents))

	// MCP split-pipe sessions and the outbound connection pool.
	sessions := mcp.NewSessionManager(slog.Default())
	sessions.SetRequestTimeout(cfg.MCP.RequestTimeout)
	connPool := mcp.NewConnectionPool(sessions, slog.Default())
	connPool.SetToolCacheTTL(cfg.MCP.ToolCacheTTL)
	defer func() {
		if err := connPool.Close(); err != nil {
			slog.Error("Error closing MCP connections", "error", err)
		}
	}()

	toolHandler := mcp.NewToolHandler(connPool, cfg.MCP.DefaultEndpoint)
	tools := agent.NewToolRegistry()
	if ep := cfg.MCP.DefaultEndpoint; ep != "" && !mcp.IsSplitPipeEndpoint(ep) {
		syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := toolHandler.SyncRegistry(syncCtx, tools); err != nil {
			slog.Warn("Could not sync tool registry from default MCP endpoint",
				"endpoint", ep, "error", err)
		} else {
			slog.Info("Tool registry synced", "endpoint", ep, "tools", len(tools.List()))
		}
		cancel()
	}

	// Tool results pass through secret masking before reaching agents.
	maskSvc := masking.NewService(cfg.Masking)
	invoker := masking.NewInvoker(toolHandler, maskSvc)

	// Action handlers and commands for Action nodes.
	actions := engine.NewHandlerRegistry()
	actions.Register("mcp", toolHandler)

	slackSvc := slack.NewService(slack.ServiceConfig{
		Token:        cfg.Slack.Token,
		Channel:      cfg.Slack.Channel,
		DashboardURL: cfg.Slack.DashboardURL,
	})
	if slackSvc != nil {
		actions.Register("slack", slackSvc)
		slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
	}

	commands := engine.NewCommandRegistry()
	if cfg.Engine.AllowLocalCommands && cfg.Engine.CommandsFile != "" {
		commands, err = engine.LoadCommandsFile(cfg.Engine.CommandsFile)
		if err != nil {
			slog.Error("Failed to load commands file", "path", cfg.Engine.CommandsFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Commands loaded", "path", cfg.Engine.CommandsFile)
	}

	var rubricLoader rubric.Loader
	if cfg.Engine.RubricDir != "" {
		rubricLoader = &rubric.FileLoader{BaseDir: cfg.Engine.RubricDir}
	}

	broadcaster := events.NewBroadcaster()
	execService := services.NewExecutionService(workflowRepo, executionRepo, broadcaster, engine.NewDriver(), services.EngineDeps{
		Agents:   agents,
		Tools:    tools,
		Invoker:  invoker,
		Rubrics:  rubric.NewEngine(rubricLoader),
		Actions:  actions,
		Generic:  engine.NewGenericRegistry(),
		Commands: commands,
		Review:   engine.PauseReviewer{},
		Planner:  nodePlanner{agents: agents},
	})

	if slackSvc != nil {
		execService.SetNotifier(slackNotifier{svc: slackSvc})
	}

	retention := cleanup.NewService(cfg.Retention, executionRepo)
	retention.Start(ctx)
	defer retention.Stop()

	workerPool := queue.NewWorkerPool(podID, queue.Config{
		WorkerCount:      cfg.Queue.WorkerCount,
		Capacity:         cfg.Queue.Capacity,
		ExecutionTimeout: cfg.Queue.ExecutionTimeout,
	}, execService)
	execService.AttachQueue(workerPool)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg, services.NewWorkflowService(workflowRepo), execService, sessions, workerPool)
	server.WithMCPPool(connPool)
	if dbClient != nil {
		server.WithDBPing(func(ctx context.Context) error {
			return dbClient.DB().PingContext(ctx)
		})
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("Strand started",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount,
		"dev_mode", cfg.Server.DevMode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop accepting requests, then let in-flight executions finish.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(shutdownTimeout):
		slog.Warn("Shutdown timeout exceeded, executions resume from their last checkpoint on restart")
	}

	slog.Info("Shutdown complete")
}
