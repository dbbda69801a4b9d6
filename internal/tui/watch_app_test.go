package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jasonewillis/specialists/pkg/models"
)

type fakeSource struct {
	mu     sync.Mutex
	state  *models.WorkflowState
	events []models.Event
	err    error
	since  []int64
}

func (f *fakeSource) Snapshot(ctx context.Context, runID string) (*models.WorkflowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.state.Clone(), nil
}

func (f *fakeSource) Events(ctx context.Context, runID string, since int64) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	var out []models.Event
	for _, ev := range f.events {
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

func runningState() *models.WorkflowState {
	st := models.NewWorkflowState("run-1", "Add subscription billing with Stripe", nil, time.Now())
	st.CurrentPhase = models.PhaseExecuteParallel
	st.ProgressPercentage = 60
	st.Classification.TaskType = models.TaskTypePayment
	st.Classification.PrimaryWorkers = []models.WorkerID{models.WorkerPayments}
	st.Dispatched = []models.WorkerID{models.WorkerPayments, models.WorkerBackend, models.WorkerSecurity}
	st.WorkerResults[models.WorkerPayments] = models.WorkerResult{Success: true, Output: "ok", Duration: 1200 * time.Millisecond}
	st.WorkerErrors[models.WorkerBackend] = models.WorkerError{Message: "deadline exceeded", TimedOut: true}
	st.Warnings = []string{"compliance (heuristic check): payments-specialist output mentions card numbers"}
	return st
}

func TestRunView_Empty(t *testing.T) {
	view := NewRunView()
	if !strings.Contains(view.View(), "waiting for first snapshot") {
		t.Errorf("unexpected empty view:\n%s", view.View())
	}
}

func TestRunView_Render(t *testing.T) {
	view := NewRunView()
	view, _ = view.Update(RunStateMsg{State: runningState()})

	out := view.View()
	for _, want := range []string{
		"run-1",
		"executeParallel",
		"60%",
		"payments-specialist",
		"primary",
		"timeout",
		"deadline exceeded",
		"running",
		"compliance (heuristic check)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

func TestRunView_Suspended(t *testing.T) {
	st := runningState()
	st.Status = models.RunStatusSuspended
	st.InterruptReason = "essay guidance needs human input"

	view := NewRunView()
	view.SetState(st)
	if !strings.Contains(view.View(), "Waiting for human input: essay guidance needs human input") {
		t.Errorf("view missing suspend notice:\n%s", view.View())
	}
}

func TestRunView_ProgressBarClamps(t *testing.T) {
	view := NewRunView()
	if got := view.renderProgressBar(150, 10); !strings.Contains(got, "100%") {
		t.Errorf("renderProgressBar(150) = %q", got)
	}
	if got := view.renderProgressBar(-5, 10); !strings.Contains(got, " 0%") {
		t.Errorf("renderProgressBar(-5) = %q", got)
	}
}

// drain runs cmd and returns its message.
func drain(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	return cmd()
}

func TestWatchApp_PollLoop(t *testing.T) {
	src := &fakeSource{
		state: runningState(),
		events: []models.Event{
			{Seq: 1, Type: models.EventRunStarted},
			{Seq: 2, Type: models.EventPhaseEntered, Phase: models.PhaseAnalyzeQuery},
		},
	}
	app := NewWatchApp("run-1", src, time.Millisecond)

	msg := drain(t, app.poll())
	_, cmd := app.Update(msg)
	if app.lastSeq != 2 || len(app.logs) != 2 {
		t.Fatalf("lastSeq=%d logs=%d, want 2/2", app.lastSeq, len(app.logs))
	}
	if app.done {
		t.Fatal("running run should keep polling")
	}
	if _, ok := drain(t, cmd).(tickMsg); !ok {
		t.Fatal("expected a tick after a poll")
	}

	src.mu.Lock()
	src.state.Status = models.RunStatusCompleted
	src.state.Confidence = 0.5
	src.state.ConsolidatedResponse = "## payments-specialist\nok"
	src.events = append(src.events, models.Event{Seq: 3, Type: models.EventRunCompleted})
	src.mu.Unlock()

	_, cmd = app.Update(tickMsg{})
	_, cmd = app.Update(drain(t, cmd))
	if cmd != nil {
		t.Error("finished run should stop polling")
	}
	if !app.done || app.lastSeq != 3 {
		t.Errorf("done=%v lastSeq=%d", app.done, app.lastSeq)
	}
	if src.since[len(src.since)-1] != 2 {
		t.Errorf("second poll asked since %d, want 2", src.since[len(src.since)-1])
	}

	out := app.View()
	if !strings.Contains(out, "Run complete (confidence 50%)") {
		t.Errorf("view missing completion:\n%s", out)
	}
	if !strings.Contains(out, "Response") {
		t.Errorf("view missing response panel:\n%s", out)
	}
}

func TestWatchApp_PollError(t *testing.T) {
	src := &fakeSource{err: errors.New("checkpoint not found")}
	app := NewWatchApp("run-1", src, time.Millisecond)

	_, cmd := app.Update(drain(t, app.poll()))
	if cmd == nil {
		t.Error("poll errors should not stop polling")
	}
	if !strings.Contains(app.View(), "poll failed: checkpoint not found") {
		t.Errorf("view missing poll error:\n%s", app.View())
	}
}

func TestWatchApp_Cancel(t *testing.T) {
	app := NewWatchApp("run-1", &fakeSource{state: runningState()}, 0)
	if app.refresh != DefaultRefresh {
		t.Errorf("refresh = %v, want default", app.refresh)
	}

	var got string
	app.SetCancelHandler(func(runID string) error {
		got = runID
		return nil
	})
	app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if got != "run-1" {
		t.Errorf("cancel handler got %q", got)
	}
	if !strings.Contains(app.View(), "cancellation requested") {
		t.Errorf("view missing notice:\n%s", app.View())
	}

	app.SetCancelHandler(func(string) error { return errors.New("run not found") })
	app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if !strings.Contains(app.View(), "cancel failed: run not found") {
		t.Errorf("view missing failure:\n%s", app.View())
	}
}

func TestWatchApp_Quit(t *testing.T) {
	app := NewWatchApp("run-1", &fakeSource{}, 0)
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should return tea.Quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	if !strings.Contains(app.View(), "Stopped watching run-1") {
		t.Errorf("unexpected view: %q", app.View())
	}
}

func TestWatchApp_DoneMsg(t *testing.T) {
	app := NewWatchApp("run-1", &fakeSource{}, 0)
	app.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	app.Update(WatchDoneMsg{Err: errors.New("boom")})
	if !strings.Contains(app.View(), "Error: boom") {
		t.Errorf("view missing error:\n%s", app.View())
	}
	if _, cmd := app.Update(tickMsg{}); cmd != nil {
		t.Error("done app should not poll")
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	if got := truncate("ééééé", 6); got != "é..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 3); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
}

func TestDescribe(t *testing.T) {
	ev := models.Event{Phase: models.PhaseExecuteParallel, WorkerID: models.WorkerQA, Message: "boom"}
	if got := describe(ev); got != "executeParallel qa-engineer boom" {
		t.Errorf("describe = %q", got)
	}
	if got := describe(models.Event{}); got != "" {
		t.Errorf("describe(empty) = %q", got)
	}
}
