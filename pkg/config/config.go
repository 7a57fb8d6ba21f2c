// Package config loads and validates the server configuration from
// strand.yaml, with environment variable expansion and built-in
// defaults for every unset value.
package config

import "time"

// Config is the fully resolved server configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
	Auth      AuthConfig                `yaml:"auth"`
	Queue     QueueConfig               `yaml:"queue"`
	Engine    EngineConfig              `yaml:"engine"`
	MCP       MCPConfig                 `yaml:"mcp"`
	Masking   MaskingConfig             `yaml:"masking"`
	Retention RetentionConfig           `yaml:"retention"`
	Slack     SlackConfig               `yaml:"slack"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Agents    map[string]AgentSpec      `yaml:"agents"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DevMode relaxes authentication: requests without a bearer token
	// fall back to the default tenant. Never enable in production.
	DevMode bool `yaml:"dev_mode"`
}

// DatabaseConfig holds PostgreSQL connection settings. When Host is
// empty the server runs on in-memory repositories.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// AuthConfig holds the bearer token settings for tenant resolution.
type AuthConfig struct {
	// JWTSecret signs and verifies API tokens. Required unless DevMode.
	JWTSecret string `yaml:"jwt_secret"`
	// TenantClaim names the JWT claim carrying the tenant id.
	TenantClaim string `yaml:"tenant_claim"`
	// DevTenant is the tenant assigned to unauthenticated requests in
	// DevMode.
	DevTenant string `yaml:"dev_tenant"`
}

// QueueConfig contains worker pool configuration.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines.
	WorkerCount int `yaml:"worker_count"`
	// Capacity bounds the pending-job buffer; enqueue past it is a 429.
	Capacity int `yaml:"capacity"`
	// ExecutionTimeout is the maximum wall-clock time of one execution
	// when the workflow does not set a tighter budget.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
}

// EngineConfig bounds engine behavior across all workflows.
type EngineConfig struct {
	// AllowLocalCommands enables Execute actions on this server.
	AllowLocalCommands bool `yaml:"allow_local_commands"`
	// CommandsFile points at the commands registry consumed by Execute
	// actions. Ignored when AllowLocalCommands is false.
	CommandsFile string `yaml:"commands_file"`
	// RubricDir is the base directory for file-sourced rubrics.
	RubricDir string `yaml:"rubric_dir"`
}

// MCPConfig holds split-pipe and outbound MCP settings.
type MCPConfig struct {
	// RequestTimeout bounds one server-to-client request round trip.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// ToolCacheTTL bounds how long tool inventories are cached.
	ToolCacheTTL time.Duration `yaml:"tool_cache_ttl"`
	// DefaultEndpoint is the endpoint plan steps call when the workflow
	// does not name one (sse://<clientId> or an http(s) URL).
	DefaultEndpoint string `yaml:"default_endpoint"`
}

// MaskingConfig controls secret masking of tool results before they
// reach agents, checkpoints, or event streams.
type MaskingConfig struct {
	Enabled bool `yaml:"enabled"`
	// PatternGroups names built-in groups ("basic", "secrets", "security",
	// "cloud", "all") to apply.
	PatternGroups []string `yaml:"pattern_groups"`
	// Patterns names individual built-in patterns to apply.
	Patterns []string `yaml:"patterns"`
	// CustomPatterns are operator-supplied regexes applied after the
	// built-in ones.
	CustomPatterns []CustomMaskingPattern `yaml:"custom_patterns"`
}

// CustomMaskingPattern is one operator-defined masking regex.
type CustomMaskingPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// RetentionConfig bounds how long terminal execution records are kept.
type RetentionConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxAge is how long a terminal execution survives after its last
	// update before the pruner removes it.
	MaxAge time.Duration `yaml:"max_age"`
	// Interval is how often the pruner runs.
	Interval time.Duration `yaml:"interval"`
}

// SlackConfig enables execution lifecycle notifications and the "slack"
// action handler. Notifications are off unless Token and Channel are set.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
	// DashboardURL, when set, adds "view execution" links to messages.
	DashboardURL string `yaml:"dashboard_url"`
}

// ProviderConfig describes one LLM provider backend.
type ProviderConfig struct {
	// Type selects the client implementation. Only "openai" is built in;
	// it also covers OpenAI-compatible gateways via BaseURL.
	Type    string `yaml:"type"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AgentSpec declares a server-level agent available to every workflow.
type AgentSpec struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	SystemPrompt   string  `yaml:"system_prompt"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Port:         5432,
			User:         "strand",
			Database:     "strand",
			SSLMode:      "disable",
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Auth: AuthConfig{
			TenantClaim: "tenant_id",
			DevTenant:   "default",
		},
		Queue: QueueConfig{
			WorkerCount:      4,
			Capacity:         256,
			ExecutionTimeout: 30 * time.Minute,
		},
		MCP: MCPConfig{
			RequestTimeout: 30 * time.Second,
			ToolCacheTTL:   5 * time.Minute,
		},
		Masking: MaskingConfig{
			PatternGroups: []string{"secrets"},
		},
		Retention: RetentionConfig{
			MaxAge:   7 * 24 * time.Hour,
			Interval: time.Hour,
		},
	}
}
