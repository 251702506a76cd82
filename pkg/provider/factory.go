package provider

import "fmt"

// Profile holds the credentials for one provider backend.
type Profile struct {
	Provider string `json:"provider" mapstructure:"provider"` // "anthropic" or "openai"
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// New creates a raw client for the given profile.
func New(profile Profile) (Client, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicClient(profile.APIKey), nil
	case "openai":
		return NewOpenAIClient(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
