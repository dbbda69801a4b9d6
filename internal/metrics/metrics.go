// Package metrics exports run and worker counters to Prometheus. A
// Collector is an event observer: register it with the engine and every
// appended event updates the series.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jasonewillis/specialists/pkg/models"
)

const namespace = "specialists"

// Collector holds the Prometheus series.
type Collector struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	runs           *prometheus.CounterVec
	workers        *prometheus.CounterVec
	workerDuration *prometheus.HistogramVec
	warnings       prometheus.Counter
	active         prometheus.Gauge
}

// New creates a Collector with its own registry, including the Go and
// process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Run events appended, by type.",
		}, []string{"type"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Run drives that ended, by terminal status.",
		}, []string{"status"}),
		workers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_invocations_total",
			Help:      "Worker invocations, by worker and outcome.",
		}, []string{"worker", "outcome"}),
		workerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_duration_seconds",
			Help:      "Worker invocation latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"worker"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compliance_warnings_total",
			Help:      "Compliance warnings raised.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently being driven.",
		}),
	}
	c.registry.MustRegister(
		c.events, c.runs, c.workers, c.workerDuration, c.warnings, c.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the series live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// OnEvent updates the series for one event.
func (c *Collector) OnEvent(ev models.Event) {
	c.events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case models.EventRunStarted, models.EventRunResumed:
		c.active.Inc()
	case models.EventRunSuspended:
		c.active.Dec()
		c.runs.WithLabelValues(string(models.RunStatusSuspended)).Inc()
	case models.EventRunCompleted:
		c.active.Dec()
		c.runs.WithLabelValues(string(models.RunStatusCompleted)).Inc()
	case models.EventRunFailed:
		c.active.Dec()
		c.runs.WithLabelValues(string(models.RunStatusFailed)).Inc()
	case models.EventRunCancelled:
		c.active.Dec()
		c.runs.WithLabelValues(string(models.RunStatusCancelled)).Inc()
	case models.EventWorkerCompleted:
		c.observeWorker(ev, "success")
	case models.EventWorkerFailed:
		outcome := "error"
		if b, _ := ev.Payload["timed_out"].(bool); b {
			outcome = "timeout"
		}
		c.observeWorker(ev, outcome)
	case models.EventComplianceWarning:
		c.warnings.Inc()
	}
}

func (c *Collector) observeWorker(ev models.Event, outcome string) {
	worker := string(ev.WorkerID)
	c.workers.WithLabelValues(worker, outcome).Inc()
	if ms, ok := durationMillis(ev.Payload["duration_ms"]); ok {
		c.workerDuration.WithLabelValues(worker).Observe(float64(ms) / 1000)
	}
}

// durationMillis accepts the integer written by the engine and the
// float64 it becomes after a JSON round trip.
func durationMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
