package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Worker.Provider != "anthropic" {
		t.Errorf("expected default provider 'anthropic', got %q", cfg.Worker.Provider)
	}
	if cfg.Worker.Timeout != 2*time.Minute {
		t.Errorf("expected worker timeout 2m, got %v", cfg.Worker.Timeout)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected sqlite/sqlite storage, got %s/%s", cfg.Storage.Backend, cfg.Storage.Driver)
	}
	if cfg.Storage.TTL != 168*time.Hour {
		t.Errorf("expected storage ttl 168h, got %v", cfg.Storage.TTL)
	}
	if !cfg.Engine.CheckpointEveryPhase {
		t.Error("expected engine.checkpoint_every_phase to be true")
	}
	if cfg.NATS.SubjectPrefix != "specialists.events" {
		t.Errorf("expected subject prefix 'specialists.events', got %q", cfg.NATS.SubjectPrefix)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
worker:
  provider: openai
  model: gpt-4o
  timeout: 30s
openai:
  api_key: ${SPECIALISTS_TEST_OPENAI}
storage:
  backend: file
  path: /tmp/runs
  ttl: 24h
engine:
  checkpoint_every_phase: false
logging:
  level: debug
  format: json
nats:
  url: nats://localhost:4222
metrics:
  addr: ":9090"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("SPECIALISTS_TEST_OPENAI", "sk-expanded")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Worker.Provider != "openai" || cfg.Worker.Model != "gpt-4o" {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if cfg.Worker.Timeout != 30*time.Second {
		t.Errorf("expected worker timeout 30s, got %v", cfg.Worker.Timeout)
	}
	if cfg.Worker.MaxTokens != 4096 {
		t.Errorf("expected default max tokens 4096, got %d", cfg.Worker.MaxTokens)
	}
	if cfg.OpenAI.APIKey != "sk-expanded" {
		t.Errorf("expected expanded api key, got %q", cfg.OpenAI.APIKey)
	}
	if cfg.Storage.Backend != "file" || cfg.Storage.Path != "/tmp/runs" || cfg.Storage.TTL != 24*time.Hour {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Engine.CheckpointEveryPhase {
		t.Error("expected checkpoint_every_phase false")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.NATS.URL != "nats://localhost:4222" || cfg.NATS.SubjectPrefix != "specialists.events" {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("metrics addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("worker:\n  provider: anthropic\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("SPECIALISTS_WORKER_PROVIDER", "offline")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Worker.Provider != "offline" {
		t.Errorf("expected provider from env, got %q", cfg.Worker.Provider)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("expected api key from env, got %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("SPECIALISTS_WORKER_PROVIDER", "")

	userDir := filepath.Join(xdg, "specialists")
	if err := os.MkdirAll(userDir, 0700); err != nil {
		t.Fatal(err)
	}
	user := "worker:\n  provider: openai\nlogging:\n  level: warn\n"
	if err := os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(user), 0600); err != nil {
		t.Fatal(err)
	}

	project := t.TempDir()
	nested := filepath.Join(project, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, ".specialists.yaml"), []byte("logging:\n  level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	if got := GetProjectConfigPath(); got != filepath.Join(project, ".specialists.yaml") {
		t.Errorf("GetProjectConfigPath = %q", got)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Worker.Provider != "openai" {
		t.Errorf("expected provider from user config, got %q", cfg.Worker.Provider)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level from project config, got %q", cfg.Logging.Level)
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := Default()
	cfg.Worker.Provider = "bedrock"
	cfg.AWS.Region = "us-west-2"
	cfg.Storage.TTL = 12 * time.Hour
	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	t.Setenv("AWS_REGION", "")
	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Worker.Provider != "bedrock" || loaded.AWS.Region != "us-west-2" {
		t.Errorf("loaded = %+v / %+v", loaded.Worker, loaded.AWS)
	}
	if loaded.Storage.TTL != 12*time.Hour {
		t.Errorf("expected ttl 12h, got %v", loaded.Storage.TTL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad provider", func(c *Config) { c.Worker.Provider = "gemini" }, true},
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }, true},
		{"bad driver", func(c *Config) { c.Storage.Driver = "pg" }, true},
		{"driver ignored for file", func(c *Config) { c.Storage.Backend = "file"; c.Storage.Driver = "pg" }, false},
		{"zero timeout", func(c *Config) { c.Worker.Timeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	if result := expandEnv("${TEST_VAR}"); result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}
	if result := expandEnv("prefix-${TEST_VAR}-suffix"); result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if dir := getUserConfigDir(); dir != "/custom/config/specialists" {
		t.Errorf("expected %q, got %q", "/custom/config/specialists", dir)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SPECIALISTS_DOTENV_PROBE=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SPECIALISTS_DOTENV_PROBE", "")
	os.Unsetenv("SPECIALISTS_DOTENV_PROBE")

	loadDotEnv(path)
	if got := os.Getenv("SPECIALISTS_DOTENV_PROBE"); got != "from-file" {
		t.Errorf("expected value from .env, got %q", got)
	}

	// Existing variables win.
	t.Setenv("SPECIALISTS_DOTENV_PROBE", "from-env")
	loadDotEnv(path)
	if got := os.Getenv("SPECIALISTS_DOTENV_PROBE"); got != "from-env" {
		t.Errorf("expected existing env to win, got %q", got)
	}
}
