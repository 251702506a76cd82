package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main hived configuration
type Config struct {
	// Data directory (default: ~/.hive)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Agent graph definition
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Provider profiles
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Model defaults
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Provider retry and connectivity backoff
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Execution engine tuning
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Session state persistence
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Trigger HTTP server
	Webhook WebhookConfig `json:"webhook" mapstructure:"webhook"`

	// Scheduled triggers
	Schedule ScheduleConfig `json:"schedule" mapstructure:"schedule"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// AgentConfig defines the workflow graph the daemon executes.
type AgentConfig struct {
	Nodes            []NodeConfig       `json:"nodes" mapstructure:"nodes"`
	Edges            []EdgeConfig       `json:"edges" mapstructure:"edges"`
	PrimaryEntry     string             `json:"primary_entry" mapstructure:"primary_entry"`
	AsyncEntries     []AsyncEntryConfig `json:"async_entries" mapstructure:"async_entries"`
	ConversationMode string             `json:"conversation_mode" mapstructure:"conversation_mode"`
	IdentityPrompt   string             `json:"identity_prompt" mapstructure:"identity_prompt"`
}

// NodeConfig defines one graph node.
type NodeConfig struct {
	ID              string   `json:"id" mapstructure:"id"`
	Prompt          string   `json:"prompt" mapstructure:"prompt"`
	RequiredOutputs []string `json:"required_outputs" mapstructure:"required_outputs"`
	MaxIterations   int      `json:"max_iterations" mapstructure:"max_iterations"`
}

// EdgeConfig defines one directed edge.
type EdgeConfig struct {
	From string `json:"from" mapstructure:"from"`
	To   string `json:"to" mapstructure:"to"`
}

// AsyncEntryConfig defines an async entry point and the memory keys it may
// consume.
type AsyncEntryConfig struct {
	ID        string   `json:"id" mapstructure:"id"`
	InputKeys []string `json:"input_keys" mapstructure:"input_keys"`
}

// AIConfig holds provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents a provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ModelConfig holds model defaults
type ModelConfig struct {
	Default     string  `json:"default" mapstructure:"default"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// RetryConfig tunes the provider retry wrapper and the connectivity
// backoff around node runs
type RetryConfig struct {
	MaxAttempts      int     `json:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int64   `json:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int64   `json:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BackoffFactor    float64 `json:"backoff_factor" mapstructure:"backoff_factor"`
	Jitter           float64 `json:"jitter" mapstructure:"jitter"`
}

// EngineConfig tunes execution
type EngineConfig struct {
	MaxNodeIterations int `json:"max_node_iterations" mapstructure:"max_node_iterations"`
	DispatchQueueSize int `json:"dispatch_queue_size" mapstructure:"dispatch_queue_size"`
}

// SessionConfig selects the state store backend
type SessionConfig struct {
	Store string `json:"store" mapstructure:"store"` // file or sqlite
	Path  string `json:"path" mapstructure:"path"`
}

// WebhookConfig holds trigger server configuration
type WebhookConfig struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	Port               int    `json:"port" mapstructure:"port"`
	Host               string `json:"host" mapstructure:"host"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	Timeout            int    `json:"timeout" mapstructure:"timeout"` // seconds
	RegistryPath       string `json:"registry_path" mapstructure:"registry_path"`
	WatchRegistry      bool   `json:"watch_registry" mapstructure:"watch_registry"`
}

// ScheduleConfig holds scheduler configuration
type ScheduleConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	StorePath string `json:"store_path" mapstructure:"store_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Model: ModelConfig{
			Default:     "claude-sonnet-4",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
			BackoffFactor:    2.0,
			Jitter:           0.1,
		},
		Engine: EngineConfig{
			MaxNodeIterations: 50,
			DispatchQueueSize: 16,
		},
		Session: SessionConfig{
			Store: "file",
		},
		Webhook: WebhookConfig{
			Enabled:            true,
			Port:               3001,
			Host:               "0.0.0.0",
			RateLimitPerMinute: 100,
			Timeout:            30,
			WatchRegistry:      true,
		},
		Schedule: ScheduleConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if len(c.Agent.Nodes) == 0 {
		return fmt.Errorf("agent graph must define at least one node")
	}
	if c.Agent.PrimaryEntry == "" {
		return fmt.Errorf("agent graph must name a primary entry point")
	}

	nodeIDs := make(map[string]bool, len(c.Agent.Nodes))
	for i, node := range c.Agent.Nodes {
		if node.ID == "" {
			return fmt.Errorf("agent node %d: ID is required", i)
		}
		if nodeIDs[node.ID] {
			return fmt.Errorf("agent node %s: duplicate ID", node.ID)
		}
		nodeIDs[node.ID] = true
	}
	if !nodeIDs[c.Agent.PrimaryEntry] {
		return fmt.Errorf("primary entry %s is not a defined node", c.Agent.PrimaryEntry)
	}
	for _, entry := range c.Agent.AsyncEntries {
		if !nodeIDs[entry.ID] {
			return fmt.Errorf("async entry %s is not a defined node", entry.ID)
		}
	}
	for _, edge := range c.Agent.Edges {
		if !nodeIDs[edge.From] || !nodeIDs[edge.To] {
			return fmt.Errorf("edge %s -> %s references an unknown node", edge.From, edge.To)
		}
	}

	if c.Session.Store != "" && c.Session.Store != "file" && c.Session.Store != "sqlite" {
		return fmt.Errorf("invalid session store: %s (must be: file, sqlite)", c.Session.Store)
	}

	return nil
}
