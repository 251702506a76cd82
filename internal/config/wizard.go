package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Hive Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// API Keys
	fmt.Println("API Keys (at least one is required):")
	fmt.Println()

	// Anthropic API Key
	for {
		fmt.Print("Anthropic API Key (press Enter to skip): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if key == "" {
			break
		}

		if err := validator.ValidateAPIKey(key, "anthropic"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
			ID:       "anthropic-default",
			Provider: "anthropic",
			APIKey:   key,
			Priority: 1,
		})
		break
	}

	// OpenAI API Key
	for {
		fmt.Print("OpenAI API Key (press Enter to skip): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if key == "" {
			break
		}

		if err := validator.ValidateAPIKey(key, "openai"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
			ID:       "openai-default",
			Provider: "openai",
			APIKey:   key,
			Priority: 2,
		})
		break
	}

	if len(cfg.AI.Profiles) == 0 {
		return nil, fmt.Errorf("at least one API key is required")
	}

	fmt.Println()

	// Default Model
	fmt.Println("Default Model:")
	fmt.Print("Model name [claude-sonnet-4]: ")
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if model != "" {
		cfg.Model.Default = model
	}

	fmt.Println()

	// Trigger server
	fmt.Println("Trigger Server:")
	fmt.Print("Enable the HTTP trigger server? (y/n) [y]: ")
	enable, err := w.readLine()
	if err != nil {
		return nil, err
	}
	cfg.Webhook.Enabled = enable == "" || strings.ToLower(enable) == "y"

	if cfg.Webhook.Enabled {
		fmt.Print("Trigger server port [3001]: ")
		port, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if port != "" {
			var p int
			if _, err := fmt.Sscanf(port, "%d", &p); err != nil || p <= 0 || p > 65535 {
				fmt.Println("Warning: invalid port, using default (3001)")
			} else {
				cfg.Webhook.Port = p
			}
		}
	}

	fmt.Println()

	// Log Level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
