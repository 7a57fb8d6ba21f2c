// Package cleanup enforces execution retention: terminal executions
// older than the configured age are pruned on a fixed interval.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/strand-ai/strand/pkg/config"
	"github.com/strand-ai/strand/pkg/storage"
)

// Service periodically prunes terminal executions past their retention
// age. Pruning is idempotent and safe to run from multiple pods.
type Service struct {
	config     config.RetentionConfig
	executions storage.ExecutionRepository

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service. Returns nil when retention is
// disabled, so callers can hold and Stop it unconditionally.
func NewService(cfg config.RetentionConfig, executions storage.ExecutionRepository) *Service {
	if !cfg.Enabled {
		return nil
	}
	if executions == nil {
		panic("cleanup.NewService: executions repository is nil")
	}
	return &Service{
		config:     cfg,
		executions: executions,
	}
}

// Start launches the background pruning loop.
func (s *Service) Start(ctx context.Context) {
	if s == nil || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"max_age", s.config.MaxAge,
		"interval", s.config.Interval)
}

// Stop signals the pruning loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.prune(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *Service) prune(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.MaxAge)
	count, err := s.executions.PruneTerminal(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: pruning terminal executions failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned terminal executions",
			"count", count, "cutoff", cutoff)
	}
}
