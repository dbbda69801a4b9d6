package main

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jasonewillis/specialists/internal/classifier"
	"github.com/jasonewillis/specialists/internal/config"
	"github.com/jasonewillis/specialists/internal/orchestrator"
	"github.com/jasonewillis/specialists/pkg/models"
)

func offlineConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Worker.Provider = "offline"
	cfg.Worker.Timeout = 5 * time.Second
	cfg.Storage.Backend = backend
	cfg.Logging.Level = "error"
	switch backend {
	case "sqlite":
		cfg.Storage.Path = filepath.Join(t.TempDir(), "specialists.db")
	case "file":
		cfg.Storage.Path = t.TempDir()
	}
	return cfg
}

func TestBuildApp_OfflineRunCompletes(t *testing.T) {
	for _, backend := range []string{"memory", "file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			a, err := buildApp(context.Background(), offlineConfig(t, backend))
			if err != nil {
				t.Fatalf("buildApp: %v", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			id, err := a.svc.Submit(ctx, "Add Stripe subscription billing to the checkout API", nil)
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			st, err := a.svc.Wait(ctx, id)
			if err != nil {
				t.Fatalf("Wait: %v", err)
			}
			if st.Status != models.RunStatusCompleted {
				t.Fatalf("status = %s (%s), want completed", st.Status, st.Error)
			}
			if !strings.Contains(st.ConsolidatedResponse, "[offline]") {
				t.Errorf("response does not come from the offline worker:\n%s", st.ConsolidatedResponse)
			}
			if code := exitCode(st, nil); code != 0 {
				t.Errorf("exitCode = %d, want 0", code)
			}

			signalled, err := cancelRun(a, id)
			if err == nil || signalled {
				t.Errorf("cancelRun on a completed run = %v, %v", signalled, err)
			}
		})
	}
}

func TestBuildApp_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("SPECIALISTS_ANTHROPIC_API_KEY", "")
	cfg := offlineConfig(t, "memory")
	cfg.Worker.Provider = "anthropic"

	_, err := buildApp(context.Background(), cfg)
	if !errors.Is(err, config.ErrNoAPIKey) {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
	if !strings.Contains(err.Error(), "--offline") {
		t.Errorf("error should mention --offline: %v", err)
	}
}

func TestNewRegistry_TagsWorkers(t *testing.T) {
	ref := classifier.DefaultReferenceData()
	reg, err := newRegistry(offlineConfig(t, "memory"), ref)
	if err != nil {
		t.Fatalf("newRegistry() error = %v", err)
	}
	if !reg.Frozen() {
		t.Error("registry should be frozen")
	}
	if err := reg.Check(ref.Workers()); err != nil {
		t.Errorf("Check() = %v", err)
	}
	if got := reg.Tags(models.WorkerPayments); !slices.Contains(got, "payment") {
		t.Errorf("Tags(payments-specialist) = %v, want payment", got)
	}
	if got := reg.Tags(models.WorkerGeneralist); !slices.Contains(got, "fallback") {
		t.Errorf("Tags(generalist) = %v, want fallback", got)
	}
}

func TestOpenBackend_Unknown(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "redis"
	if _, err := openBackend(cfg); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}

func TestDirs(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Path = "/data/specialists/runs.db"
	if got := signalsDir(cfg); got != "/data/specialists/signals" {
		t.Errorf("signalsDir(sqlite) = %q", got)
	}

	cfg.Storage.Backend = "file"
	cfg.Storage.Path = "/data/runs"
	if got := runsDir(cfg); got != "/data/runs" {
		t.Errorf("runsDir(file) = %q", got)
	}
	if got := signalsDir(cfg); got != "/data/runs/signals" {
		t.Errorf("signalsDir(file) = %q", got)
	}

	t.Setenv("XDG_DATA_HOME", "/xdg")
	cfg.Storage.Path = ""
	if got := runsDir(cfg); got != "/xdg/specialists/runs" {
		t.Errorf("runsDir(default) = %q", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		status models.RunStatus
		err    error
		want   int
	}{
		{"completed", models.RunStatusCompleted, nil, 0},
		{"suspended", models.RunStatusSuspended, nil, 0},
		{"failed", models.RunStatusFailed, nil, 2},
		{"cancelled", models.RunStatusCancelled, nil, 130},
		{"structural error", models.RunStatusFailed, &orchestrator.StructuralError{Op: "save", RunID: "r", Err: errors.New("disk full")}, 2},
		{"other error", models.RunStatusRunning, errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &models.WorkflowState{Status: tt.status}
			if got := exitCode(st, tt.err); got != tt.want {
				t.Errorf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
	if got := exitCode(nil, nil); got != 1 {
		t.Errorf("exitCode(nil) = %d, want 1", got)
	}
}
