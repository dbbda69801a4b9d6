package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jasonewillis/specialists/internal/api"
	"github.com/jasonewillis/specialists/internal/classifier"
	"github.com/jasonewillis/specialists/internal/config"
	"github.com/jasonewillis/specialists/internal/eventbus"
	"github.com/jasonewillis/specialists/internal/logging"
	"github.com/jasonewillis/specialists/internal/metrics"
	"github.com/jasonewillis/specialists/internal/orchestrator"
	"github.com/jasonewillis/specialists/internal/registry"
	"github.com/jasonewillis/specialists/internal/state"
	"github.com/jasonewillis/specialists/pkg/models"
)

// app holds everything a command needs. Commands build it with newApp and
// must call Close.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	closers   []io.Closer
	backend   state.Backend
	svc       *orchestrator.Service
	metrics   *metrics.Collector
	publisher *eventbus.Publisher
	signals   *orchestrator.SignalWatcher
	cancelCtx context.CancelFunc
	closed    bool
}

// loadConfig loads configuration, honouring --config, and applies flag
// overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if storageBackend != "" {
		cfg.Storage.Backend = storageBackend
	}
	if offline {
		cfg.Worker.Provider = string(api.ProviderOffline)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp wires config, logging, storage, the worker registry, and the
// service.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg)
}

// newInspectApp is newApp for commands that read or cancel runs but never
// invoke workers, so no API key is needed.
func newInspectApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Worker.Provider = string(api.ProviderOffline)
	cfg.Metrics.Addr = ""
	return buildApp(ctx, cfg)
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, logCloser, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	backend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	a.backend = backend
	a.closers = append(a.closers, backend)

	cls, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	reg, err := newRegistry(cfg, cls.Reference())
	if err != nil {
		return err
	}

	opts := []orchestrator.Option{
		orchestrator.WithBackend(backend),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithWorkerTimeout(cfg.Worker.Timeout),
		orchestrator.WithCheckpointEveryPhase(cfg.Engine.CheckpointEveryPhase),
	}

	if cfg.Metrics.Addr != "" {
		a.metrics = metrics.New()
		opts = append(opts, orchestrator.WithEventObserver(a.metrics))
		mctx, cancel := context.WithCancel(ctx)
		a.cancelCtx = cancel
		go func() {
			if err := a.metrics.Serve(mctx, cfg.Metrics.Addr, a.logger); err != nil {
				a.logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	if cfg.NATS.URL != "" {
		pub, err := eventbus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, a.logger)
		if err != nil {
			// Events are still stored; publishing is best-effort.
			a.logger.Warn("NATS unavailable, events will not be published", "url", cfg.NATS.URL, "error", err)
		} else {
			a.publisher = pub
			opts = append(opts, orchestrator.WithEventObserver(pub))
		}
	}

	a.svc = orchestrator.NewService(orchestrator.RequiredConfig{
		Classifier: cls,
		Registry:   reg,
	}, opts...)
	if err := a.svc.Engine().Validate(); err != nil {
		return err
	}
	return nil
}

// watchSignals starts the cancel-file watcher. Only commands that own
// running drives need it.
func (a *app) watchSignals() error {
	sw, err := orchestrator.NewSignalWatcher(signalsDir(a.cfg), a.svc, a.logger)
	if err != nil {
		return fmt.Errorf("watch signals: %w", err)
	}
	a.signals = sw
	return nil
}

// Close stops the service and releases resources in reverse order.
func (a *app) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.signals != nil {
		a.signals.Close()
	}
	if a.svc != nil {
		a.svc.Stop()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close NATS connection", "error", err)
		}
	}
	if a.cancelCtx != nil {
		a.cancelCtx()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// openBackend opens the configured checkpoint and event storage.
func openBackend(cfg *config.Config) (state.Backend, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		path := cfg.Storage.Path
		if path == "" {
			path = state.DefaultDBPath()
		}
		db, err := state.OpenWithDriver(cfg.Storage.Driver, path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return db, nil
	case "file":
		fb, err := state.OpenFileBackend(runsDir(cfg))
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return fb, nil
	case "memory":
		return memoryBackend{state.NewMemoryStore(), state.NewMemoryEvents()}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// memoryBackend bundles the in-memory stores. Nothing outlives the process.
type memoryBackend struct {
	*state.MemoryStore
	*state.MemoryEvents
}

func (memoryBackend) Close() error { return nil }

// dataDir is where runs, signals, and the default database live.
func dataDir(cfg *config.Config) string {
	switch {
	case cfg.Storage.Backend == "file" && cfg.Storage.Path != "":
		return cfg.Storage.Path
	case cfg.Storage.Backend == "sqlite" && cfg.Storage.Path != "":
		return filepath.Dir(cfg.Storage.Path)
	default:
		return filepath.Dir(state.DefaultDBPath())
	}
}

func runsDir(cfg *config.Config) string {
	if cfg.Storage.Path != "" {
		return cfg.Storage.Path
	}
	return filepath.Join(dataDir(cfg), "runs")
}

func signalsDir(cfg *config.Config) string {
	return filepath.Join(dataDir(cfg), "signals")
}

func newClassifier(cfg *config.Config) (*classifier.Classifier, error) {
	if cfg.Classifier.ReferenceFile == "" {
		return classifier.NewDefault(), nil
	}
	ref, err := classifier.LoadReferenceFile(cfg.Classifier.ReferenceFile, classifier.DefaultReferenceData())
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	return classifier.New(ref)
}

// newRegistry registers the configured handle for every worker the
// reference data can route to, tagged with its capabilities.
func newRegistry(cfg *config.Config, ref classifier.ReferenceData) (*registry.Registry, error) {
	provider, err := api.ParseProvider(cfg.Worker.Provider)
	if err != nil {
		return nil, err
	}

	hc := api.HandleConfig{
		Provider:   provider,
		Model:      cfg.Worker.Model,
		BaseURL:    cfg.Worker.BaseURL,
		MaxTokens:  cfg.Worker.MaxTokens,
		AWSRegion:  cfg.AWS.Region,
		AWSProfile: cfg.AWS.Profile,
	}
	switch provider {
	case api.ProviderAnthropic:
		hc.AnthropicKey, err = config.GetAPIKey(cfg, "anthropic")
	case api.ProviderOpenAI:
		hc.OpenAIKey, err = config.GetAPIKey(cfg, "openai")
	}
	if err != nil {
		return nil, fmt.Errorf("%w; use --offline for a dry run", err)
	}

	h, err := api.NewHandle(hc)
	if err != nil {
		return nil, fmt.Errorf("create %s worker: %w", provider, err)
	}

	reg := registry.New()
	for _, id := range ref.Workers() {
		if err := reg.Register(id, h, ref.Capabilities(id)...); err != nil {
			return nil, err
		}
	}
	reg.Freeze()
	return reg, nil
}

// exitCode maps a run's final state to the process exit status.
func exitCode(st *models.WorkflowState, err error) int {
	switch {
	case err != nil && orchestrator.IsStructural(err):
		return 2
	case err != nil:
		return 1
	case st == nil:
		return 1
	case st.Status == models.RunStatusFailed:
		return 2
	case st.Status == models.RunStatusCancelled:
		return 130
	default:
		return 0
	}
}

// exitWith ends the process with code unless it is zero. Deferred calls
// do not run, so callers close the app first.
func exitWith(code int) {
	if code != 0 {
		os.Exit(code)
	}
}
