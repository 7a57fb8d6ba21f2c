package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the named configuration file does
// not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// Load reads, expands, merges and validates the configuration file.
// An empty path returns the validated defaults, so the server runs with
// no configuration file at all.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		data = ExpandEnv(data)

		var loaded Config
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		// User values override defaults; unset fields keep them.
		if err := mergo.Merge(cfg, &loaded, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("Configuration loaded",
		"config_file", path,
		"providers", len(cfg.Providers),
		"agents", len(cfg.Agents),
		"workers", cfg.Queue.WorkerCount,
		"dev_mode", cfg.Server.DevMode)
	return cfg, nil
}

// Validate checks the structural invariants of the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Queue.WorkerCount <= 0 {
		return fmt.Errorf("queue.worker_count must be positive")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if !c.Server.DevMode && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required outside dev mode")
	}
	if c.Auth.TenantClaim == "" {
		return fmt.Errorf("auth.tenant_claim must not be empty")
	}
	for id, agent := range c.Agents {
		if agent.Provider == "" {
			return fmt.Errorf("agent %q has no provider", id)
		}
		if _, ok := c.Providers[agent.Provider]; !ok {
			return fmt.Errorf("agent %q references unknown provider %q", id, agent.Provider)
		}
	}
	for name, provider := range c.Providers {
		if provider.Type != "" && provider.Type != "openai" {
			return fmt.Errorf("provider %q has unsupported type %q", name, provider.Type)
		}
	}
	for i, p := range c.Masking.CustomPatterns {
		if p.Pattern == "" {
			return fmt.Errorf("masking.custom_patterns[%d] has no pattern", i)
		}
	}
	if c.Retention.Enabled {
		if c.Retention.MaxAge <= 0 {
			return fmt.Errorf("retention.max_age must be positive")
		}
		if c.Retention.Interval <= 0 {
			return fmt.Errorf("retention.interval must be positive")
		}
	}
	return nil
}
