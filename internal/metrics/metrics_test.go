package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jasonewillis/specialists/pkg/models"
)

func TestCollector_RunLifecycle(t *testing.T) {
	c := New()

	for _, ev := range []models.Event{
		{Type: models.EventRunStarted},
		{Type: models.EventWorkerStarted, WorkerID: models.WorkerPayments},
		{Type: models.EventWorkerCompleted, WorkerID: models.WorkerPayments, Payload: map[string]any{"duration_ms": int64(1500)}},
		{Type: models.EventWorkerFailed, WorkerID: models.WorkerBackend, Payload: map[string]any{"duration_ms": float64(50), "timed_out": true}},
		{Type: models.EventWorkerFailed, WorkerID: models.WorkerFrontend, Payload: map[string]any{"duration_ms": 10, "timed_out": false}},
		{Type: models.EventComplianceWarning},
		{Type: models.EventRunSuspended},
	} {
		c.OnEvent(ev)
	}

	if got := testutil.ToFloat64(c.events.WithLabelValues("worker_failed")); got != 2 {
		t.Errorf("worker_failed events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.workers.WithLabelValues("payments-specialist", "success")); got != 1 {
		t.Errorf("payments success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.workers.WithLabelValues("backend-engineer", "timeout")); got != 1 {
		t.Errorf("backend timeout = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.workers.WithLabelValues("frontend-engineer", "error")); got != 1 {
		t.Errorf("frontend error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.warnings); got != 1 {
		t.Errorf("warnings = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.runs.WithLabelValues("suspended")); got != 1 {
		t.Errorf("suspended runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.active); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	if n := testutil.CollectAndCount(c.workerDuration); n != 3 {
		t.Errorf("duration series = %d, want 3", n)
	}

	c.OnEvent(models.Event{Type: models.EventRunResumed})
	if got := testutil.ToFloat64(c.active); got != 1 {
		t.Errorf("active after resume = %v, want 1", got)
	}
	c.OnEvent(models.Event{Type: models.EventRunCompleted})
	if got := testutil.ToFloat64(c.runs.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed runs = %v, want 1", got)
	}
}

func TestDurationMillis(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(7), 7, true},
		{7, 7, true},
		{float64(7), 7, true},
		{"7", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := durationMillis(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("durationMillis(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.OnEvent(models.Event{Type: models.EventRunStarted})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `specialists_events_total{type="run_started"} 1`) {
		t.Errorf("exposition missing events_total:\n%s", body)
	}
	if !strings.Contains(string(body), "specialists_active_runs 1") {
		t.Errorf("exposition missing active_runs:\n%s", body)
	}
}
