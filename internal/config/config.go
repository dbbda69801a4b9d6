// Package config handles configuration loading for specialists.
// It supports XDG config paths, project-level overrides, a .env file, and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	appName           = "specialists"
	projectConfigName = ".specialists.yaml"
	envPrefix         = "SPECIALISTS"
)

// Config holds all configuration for specialists.
type Config struct {
	Worker     WorkerConfig     `mapstructure:"worker"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	TUI        TUIConfig        `mapstructure:"tui"`
}

// WorkerConfig selects the model backend every worker uses.
type WorkerConfig struct {
	// Provider is one of anthropic, bedrock, openai or offline.
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTokens int           `mapstructure:"max_tokens"`
	BaseURL   string        `mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// OpenAIConfig holds settings for OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// AWSConfig holds Bedrock settings.
type AWSConfig struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// StorageConfig selects where checkpoints and events are kept.
type StorageConfig struct {
	// Backend is one of sqlite, file or memory.
	Backend string `mapstructure:"backend"`
	// Driver is the database/sql driver name for sqlite: "sqlite" or "sqlite3".
	Driver string        `mapstructure:"driver"`
	Path   string        `mapstructure:"path"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// EngineConfig holds orchestration settings.
type EngineConfig struct {
	CheckpointEveryPhase bool `mapstructure:"checkpoint_every_phase"`
}

// ClassifierConfig holds classifier settings.
type ClassifierConfig struct {
	// ReferenceFile overrides the built-in keyword and routing tables.
	ReferenceFile string `mapstructure:"reference_file"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TUIConfig holds watch view settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (SPECIALISTS_*, ANTHROPIC_API_KEY, OPENAI_API_KEY), including .env
// 2. Project config (.specialists.yaml in current directory or parent)
// 3. User config (~/.config/specialists/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	loadDotEnv(".env")

	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file plus the environment.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	return SaveTo(cfg, GetUserConfigPath())
}

// SaveTo writes cfg to path. API keys are written as given, so callers
// usually keep them as ${VAR} references.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("worker.provider", cfg.Worker.Provider)
	v.Set("worker.model", cfg.Worker.Model)
	v.Set("worker.timeout", cfg.Worker.Timeout.String())
	v.Set("worker.max_tokens", cfg.Worker.MaxTokens)
	v.Set("worker.base_url", cfg.Worker.BaseURL)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("openai.api_key", cfg.OpenAI.APIKey)
	v.Set("aws.region", cfg.AWS.Region)
	v.Set("aws.profile", cfg.AWS.Profile)
	v.Set("storage.backend", cfg.Storage.Backend)
	v.Set("storage.driver", cfg.Storage.Driver)
	v.Set("storage.path", cfg.Storage.Path)
	v.Set("storage.ttl", cfg.Storage.TTL.String())
	v.Set("engine.checkpoint_every_phase", cfg.Engine.CheckpointEveryPhase)
	v.Set("classifier.reference_file", cfg.Classifier.ReferenceFile)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.format", cfg.Logging.Format)
	v.Set("logging.file", cfg.Logging.File)
	v.Set("nats.url", cfg.NATS.URL)
	v.Set("nats.subject_prefix", cfg.NATS.SubjectPrefix)
	v.Set("metrics.addr", cfg.Metrics.Addr)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	switch c.Worker.Provider {
	case "anthropic", "bedrock", "openai", "offline":
	default:
		return fmt.Errorf("worker.provider: unknown provider %q", c.Worker.Provider)
	}
	switch c.Storage.Backend {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Driver != "sqlite" && c.Storage.Driver != "sqlite3" {
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Worker.Timeout <= 0 {
		return fmt.Errorf("worker.timeout must be positive, got %s", c.Worker.Timeout)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", envPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai.api_key", envPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("aws.region", envPrefix+"_AWS_REGION", "AWS_REGION")
	_ = v.BindEnv("aws.profile", envPrefix+"_AWS_PROFILE", "AWS_PROFILE")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)
	cfg.Storage.Path = expandEnv(cfg.Storage.Path)
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("worker.provider", d.Worker.Provider)
	v.SetDefault("worker.model", d.Worker.Model)
	v.SetDefault("worker.timeout", d.Worker.Timeout.String())
	v.SetDefault("worker.max_tokens", d.Worker.MaxTokens)
	v.SetDefault("worker.base_url", "")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.ttl", d.Storage.TTL.String())

	v.SetDefault("engine.checkpoint_every_phase", d.Engine.CheckpointEveryPhase)
	v.SetDefault("classifier.reference_file", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Provider:  "anthropic",
			Timeout:   2 * time.Minute,
			MaxTokens: 4096,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Driver:  "sqlite",
			TTL:     168 * time.Hour,
		},
		Engine: EngineConfig{
			CheckpointEveryPhase: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		NATS: NATSConfig{
			SubjectPrefix: "specialists.events",
		},
		TUI: TUIConfig{
			RefreshRate: 250 * time.Millisecond,
		},
	}
}

// loadDotEnv loads path into the environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) {
	_ = godotenv.Load(path)
}

// getUserConfigDir returns the XDG config directory.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// findProjectConfig searches for .specialists.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
