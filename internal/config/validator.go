package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	// Check if it's a known model
	knownModels := []string{
		"claude-opus-4",
		"claude-sonnet-4",
		"claude-haiku-4",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	}

	for _, known := range knownModels {
		if model == known {
			return nil
		}
	}

	// Allow custom models (just warn)
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.AI.Profiles {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	if err := v.ValidateModel(cfg.Model.Default); err != nil {
		errors = append(errors, err)
	}
	if cfg.Model.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Model.Temperature); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Model.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Model.MaxTokens); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		errors = append(errors, fmt.Errorf("retry.max_attempts must be >= 0"))
	}
	if cfg.Retry.InitialBackoffMs < 0 {
		errors = append(errors, fmt.Errorf("retry.initial_backoff_ms must be >= 0"))
	}
	if cfg.Retry.MaxBackoffMs < 0 {
		errors = append(errors, fmt.Errorf("retry.max_backoff_ms must be >= 0"))
	}

	if cfg.Engine.MaxNodeIterations < 0 {
		errors = append(errors, fmt.Errorf("engine.max_node_iterations must be >= 0"))
	}
	if cfg.Engine.DispatchQueueSize < 0 {
		errors = append(errors, fmt.Errorf("engine.dispatch_queue_size must be >= 0"))
	}

	if cfg.Webhook.Enabled {
		if cfg.Webhook.Port <= 0 || cfg.Webhook.Port > 65535 {
			errors = append(errors, fmt.Errorf("webhook.port must be between 1 and 65535, got %d", cfg.Webhook.Port))
		}
		if cfg.Webhook.RateLimitPerMinute < 0 {
			errors = append(errors, fmt.Errorf("webhook.rate_limit_per_minute must be >= 0"))
		}
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
