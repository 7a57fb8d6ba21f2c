package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// ExecutionStartedInput contains data for an execution start notification.
type ExecutionStartedInput struct {
	ExecutionID string
	WorkflowID  string
}

// ExecutionCompletedInput contains data for a terminal execution
// notification.
type ExecutionCompletedInput struct {
	ExecutionID string
	WorkflowID  string
	Status      string // completed, failed, rejected, cancelled, paused
	ExitStatus  string
	Error       string
	Summary     string
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyExecutionStarted sends a "workflow started" notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyExecutionStarted(ctx context.Context, input ExecutionStartedInput) {
	if s == nil {
		return
	}
	blocks := BuildStartedMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, "", 5*time.Second); err != nil {
		s.logger.Error("Failed to send Slack start notification",
			"execution_id", input.ExecutionID,
			"error", err)
	}
}

// NotifyExecutionCompleted sends a terminal status notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyExecutionCompleted(ctx context.Context, input ExecutionCompletedInput) {
	if s == nil {
		return
	}
	blocks := BuildTerminalMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, "", 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack notification",
			"execution_id", input.ExecutionID,
			"status", input.Status,
			"error", err)
	}
}

// Execute implements the engine's action handler contract so workflows can
// post to Slack through a Send action. The payload requires "text";
// "thread_ts" threads the message.
func (s *Service) Execute(ctx context.Context, payload map[string]any, _ map[string]any) (any, error) {
	if s == nil {
		return nil, fmt.Errorf("slack notifications are not configured")
	}
	text, _ := payload["text"].(string)
	if text == "" {
		return nil, fmt.Errorf("slack action payload requires a text field")
	}
	threadTS, _ := payload["thread_ts"].(string)
	if err := s.client.PostText(ctx, text, threadTS, 10*time.Second); err != nil {
		return nil, err
	}
	return map[string]any{"posted": true}, nil
}
