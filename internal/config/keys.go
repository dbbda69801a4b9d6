package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when the selected provider has no API key.
var ErrNoAPIKey = errors.New("no API key configured")

// envKeys maps providers that need a key to their environment variable.
var envKeys = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// GetAPIKey returns the API key for provider. It checks the provider's
// environment variable first, then the config file. Providers without a
// key (bedrock, offline) return "" and no error.
func GetAPIKey(cfg *Config, provider string) (string, error) {
	envName, ok := envKeys[provider]
	if !ok {
		return "", nil
	}
	if key := os.Getenv(envName); key != "" {
		return key, nil
	}
	if key := configKey(cfg, provider); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%s: %w (set %s)", provider, ErrNoAPIKey, envName)
}

func configKey(cfg *Config, provider string) string {
	if cfg == nil {
		return ""
	}
	var raw string
	switch provider {
	case "anthropic":
		raw = cfg.Anthropic.APIKey
	case "openai":
		raw = cfg.OpenAI.APIKey
	}
	key := os.ExpandEnv(raw)
	if key == "" || strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// ValidateAPIKey performs basic format validation on an Anthropic key.
// It does not verify the key with the API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the provider's API key was sourced from.
func GetAPIKeySource(cfg *Config, provider string) KeySource {
	envName, ok := envKeys[provider]
	if !ok {
		return KeySourceNone
	}
	if os.Getenv(envName) != "" {
		return KeySourceEnv
	}
	if configKey(cfg, provider) != "" {
		return KeySourceConfig
	}
	return KeySourceNone
}
