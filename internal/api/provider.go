package api

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/jasonewillis/specialists/internal/registry"
)

// Provider names a worker backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
	ProviderOpenAI    Provider = "openai"
	ProviderOffline   Provider = "offline"
)

// ParseProvider parses a provider name. The empty string means anthropic.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProviderAnthropic, nil
	case ProviderAnthropic, ProviderBedrock, ProviderOpenAI, ProviderOffline:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q (want anthropic, bedrock, openai or offline)", s)
	}
}

// HandleConfig selects and configures the handle shared by all workers.
type HandleConfig struct {
	Provider     Provider
	Model        string
	BaseURL      string
	MaxTokens    int
	AnthropicKey string
	OpenAIKey    string
	AWSRegion    string
	AWSProfile   string
}

// NewHandle builds the registry handle for cfg.Provider.
func NewHandle(cfg HandleConfig) (registry.Handle, error) {
	switch cfg.Provider {
	case ProviderAnthropic, ProviderBedrock, "":
		client, err := NewClient(ClientConfig{
			Model:         anthropic.Model(cfg.Model),
			APIKey:        cfg.AnthropicKey,
			BaseURL:       cfg.BaseURL,
			MaxTokens:     int64(cfg.MaxTokens),
			UseAWSBedrock: cfg.Provider == ProviderBedrock,
			AWSRegion:     cfg.AWSRegion,
			AWSProfile:    cfg.AWSProfile,
		})
		if err != nil {
			return nil, err
		}
		return NewAnthropicWorker(client), nil
	case ProviderOpenAI:
		return NewOpenAIWorker(OpenAIConfig{
			APIKey:    cfg.OpenAIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		})
	case ProviderOffline:
		return OfflineWorker{}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
