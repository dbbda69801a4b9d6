package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jasonewillis/specialists/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify specialists configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/specialists/config.yaml
Project-specific overrides can be placed in .specialists.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			return setConfigKey(cfg, args[0], args[1])
		}
	},
}

// configKeys lists the keys config prints, in order.
var configKeys = []string{
	"worker.provider",
	"worker.model",
	"worker.timeout",
	"worker.max_tokens",
	"worker.base_url",
	"anthropic.api_key",
	"openai.api_key",
	"aws.region",
	"aws.profile",
	"storage.backend",
	"storage.driver",
	"storage.path",
	"storage.ttl",
	"engine.checkpoint_every_phase",
	"classifier.reference_file",
	"logging.level",
	"logging.format",
	"logging.file",
	"nats.url",
	"nats.subject_prefix",
	"metrics.addr",
	"tui.refresh_rate",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Printf("%s: %s\n", key, value)
	}
	for _, provider := range []string{"anthropic", "openai"} {
		fmt.Printf("# %s key source: %s\n", provider, config.GetAPIKeySource(cfg, provider))
	}
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) error {
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	if strings.HasSuffix(key, "api_key") {
		value = config.MaskAPIKey(value)
	}
	fmt.Fprintf(os.Stdout, "Set %s = %s\n", key, value)
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "worker.provider":
		return cfg.Worker.Provider, nil
	case "worker.model":
		return cfg.Worker.Model, nil
	case "worker.timeout":
		return cfg.Worker.Timeout.String(), nil
	case "worker.max_tokens":
		return strconv.Itoa(cfg.Worker.MaxTokens), nil
	case "worker.base_url":
		return cfg.Worker.BaseURL, nil
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "openai.api_key":
		return config.MaskAPIKey(cfg.OpenAI.APIKey), nil
	case "aws.region":
		return cfg.AWS.Region, nil
	case "aws.profile":
		return cfg.AWS.Profile, nil
	case "storage.backend":
		return cfg.Storage.Backend, nil
	case "storage.driver":
		return cfg.Storage.Driver, nil
	case "storage.path":
		return cfg.Storage.Path, nil
	case "storage.ttl":
		return cfg.Storage.TTL.String(), nil
	case "engine.checkpoint_every_phase":
		return strconv.FormatBool(cfg.Engine.CheckpointEveryPhase), nil
	case "classifier.reference_file":
		return cfg.Classifier.ReferenceFile, nil
	case "logging.level":
		return cfg.Logging.Level, nil
	case "logging.format":
		return cfg.Logging.Format, nil
	case "logging.file":
		return cfg.Logging.File, nil
	case "nats.url":
		return cfg.NATS.URL, nil
	case "nats.subject_prefix":
		return cfg.NATS.SubjectPrefix, nil
	case "metrics.addr":
		return cfg.Metrics.Addr, nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "worker.provider":
		cfg.Worker.Provider = value
	case "worker.model":
		cfg.Worker.Model = value
	case "worker.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		cfg.Worker.Timeout = d
	case "worker.max_tokens":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		cfg.Worker.MaxTokens = n
	case "worker.base_url":
		cfg.Worker.BaseURL = value
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "openai.api_key":
		cfg.OpenAI.APIKey = value
	case "aws.region":
		cfg.AWS.Region = value
	case "aws.profile":
		cfg.AWS.Profile = value
	case "storage.backend":
		cfg.Storage.Backend = value
	case "storage.driver":
		cfg.Storage.Driver = value
	case "storage.path":
		cfg.Storage.Path = value
	case "storage.ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		cfg.Storage.TTL = d
	case "engine.checkpoint_every_phase":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		cfg.Engine.CheckpointEveryPhase = b
	case "classifier.reference_file":
		cfg.Classifier.ReferenceFile = value
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.format":
		cfg.Logging.Format = value
	case "logging.file":
		cfg.Logging.File = value
	case "nats.url":
		cfg.NATS.URL = value
	case "nats.subject_prefix":
		cfg.NATS.SubjectPrefix = value
	case "metrics.addr":
		cfg.Metrics.Addr = value
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		cfg.TUI.RefreshRate = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
