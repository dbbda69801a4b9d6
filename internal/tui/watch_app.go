package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jasonewillis/specialists/pkg/models"
)

// DefaultRefresh is how often the watch app polls its source.
const DefaultRefresh = 250 * time.Millisecond

// maxLogLines caps the activity log.
const maxLogLines = 200

// Source supplies snapshots and events for a run. The orchestrator
// service satisfies it, and so does a thin wrapper over the stores for
// runs owned by another process.
type Source interface {
	Snapshot(ctx context.Context, runID string) (*models.WorkflowState, error)
	Events(ctx context.Context, runID string, since int64) ([]models.Event, error)
}

// CancelHandler is called when the user presses c.
type CancelHandler func(runID string) error

// pollMsg carries the result of one poll.
type pollMsg struct {
	state  *models.WorkflowState
	events []models.Event
	err    error
}

type tickMsg struct{}

// WatchDoneMsg stops polling. Err is shown in the footer.
type WatchDoneMsg struct {
	Err error
}

// WatchApp is the bubbletea model for the watch command.
type WatchApp struct {
	runID   string
	source  Source
	refresh time.Duration
	cancel  CancelHandler

	view     *RunView
	spinner  spinner.Model
	response viewport.Model
	logs     []models.Event
	lastSeq  int64
	width    int
	height   int
	quitting bool
	done     bool
	err      error
	notice   string

	// Styles
	logStyle     lipgloss.Style
	logTimeStyle lipgloss.Style
	errorStyle   lipgloss.Style
	doneStyle    lipgloss.Style
	hintStyle    lipgloss.Style
	titleStyle   lipgloss.Style
}

// NewWatchApp creates a watch model for runID.
func NewWatchApp(runID string, source Source, refresh time.Duration) *WatchApp {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &WatchApp{
		runID:    runID,
		source:   source,
		refresh:  refresh,
		view:     NewRunView(),
		spinner:  sp,
		response: viewport.New(80, 10),

		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),
	}
}

// SetCancelHandler enables the c key.
func (a *WatchApp) SetCancelHandler(h CancelHandler) {
	a.cancel = h
}

// Init implements tea.Model.
func (a *WatchApp) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.poll())
}

func (a *WatchApp) poll() tea.Cmd {
	runID, since, source := a.runID, a.lastSeq, a.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st, err := source.Snapshot(ctx, runID)
		if err != nil {
			return pollMsg{err: err}
		}
		evs, err := source.Events(ctx, runID, since)
		return pollMsg{state: st, events: evs, err: err}
	}
}

func (a *WatchApp) scheduleTick() tea.Cmd {
	return tea.Tick(a.refresh, func(time.Time) tea.Msg { return tickMsg{} })
}

// Update implements tea.Model.
func (a *WatchApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "c":
			a.requestCancel()
			return a, nil
		}
		var cmd tea.Cmd
		a.response, cmd = a.response.Update(msg)
		return a, cmd

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.view.SetSize(msg.Width, msg.Height)
		a.response.Width = max(msg.Width-4, 20)
		a.response.Height = max(msg.Height/3, 5)

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tickMsg:
		if a.done {
			return a, nil
		}
		return a, a.poll()

	case pollMsg:
		return a, a.handlePoll(msg)

	case RunStateMsg:
		a.applyState(msg.State)

	case WatchDoneMsg:
		a.done = true
		a.err = msg.Err
	}

	return a, nil
}

func (a *WatchApp) handlePoll(msg pollMsg) tea.Cmd {
	for _, ev := range msg.events {
		if ev.Seq <= a.lastSeq {
			continue
		}
		a.lastSeq = ev.Seq
		a.logs = append(a.logs, ev)
	}
	if len(a.logs) > maxLogLines {
		a.logs = a.logs[len(a.logs)-maxLogLines:]
	}
	if msg.state != nil {
		a.applyState(msg.state)
	}
	if msg.err != nil {
		a.notice = fmt.Sprintf("poll failed: %v", msg.err)
	} else {
		a.notice = ""
	}
	if a.done {
		return nil
	}
	return a.scheduleTick()
}

func (a *WatchApp) applyState(st *models.WorkflowState) {
	a.view.SetState(st)
	if st == nil {
		return
	}
	if st.ConsolidatedResponse != "" {
		a.response.SetContent(st.ConsolidatedResponse)
	}
	if st.Status.IsFinal() || st.Status == models.RunStatusSuspended {
		a.done = true
	}
}

func (a *WatchApp) requestCancel() {
	if a.cancel == nil || a.done {
		return
	}
	if err := a.cancel(a.runID); err != nil {
		a.notice = fmt.Sprintf("cancel failed: %v", err)
		return
	}
	a.notice = "cancellation requested"
}

// View implements tea.Model.
func (a *WatchApp) View() string {
	if a.quitting {
		return "Stopped watching " + a.runID + ".\n"
	}

	var b strings.Builder

	title := a.titleStyle.Render("=== Specialists ===")
	if !a.done {
		title += " " + a.spinner.View()
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	b.WriteString(a.view.View())
	b.WriteString("\n")

	if st := a.view.State(); st != nil && st.ConsolidatedResponse != "" {
		b.WriteString(a.titleStyle.Render("Response"))
		b.WriteString("\n")
		b.WriteString(a.response.View())
		b.WriteString("\n\n")
	}

	b.WriteString(a.renderLogs())

	b.WriteString("\n")
	switch {
	case a.err != nil:
		b.WriteString(a.errorStyle.Render(fmt.Sprintf("Error: %v", a.err)))
	case a.done:
		b.WriteString(a.doneStyle.Render(a.doneText() + " Press q to exit."))
	default:
		hint := "Press q to stop watching"
		if a.cancel != nil {
			hint += ", c to cancel the run"
		}
		b.WriteString(a.hintStyle.Render(hint))
	}
	if a.notice != "" {
		b.WriteString("\n")
		b.WriteString(a.hintStyle.Render(a.notice))
	}
	b.WriteString("\n")

	return b.String()
}

func (a *WatchApp) doneText() string {
	st := a.view.State()
	if st == nil {
		return "Done."
	}
	switch st.Status {
	case models.RunStatusSuspended:
		return "Run suspended for human input."
	case models.RunStatusCompleted:
		return fmt.Sprintf("Run complete (confidence %.0f%%).", st.Confidence*100)
	default:
		return "Run " + string(st.Status) + "."
	}
}

// renderLogs renders the most recent events.
func (a *WatchApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity Log"))
	b.WriteString("\n")

	start := 0
	if len(a.logs) > 8 {
		start = len(a.logs) - 8
	}

	for _, ev := range a.logs[start:] {
		ts := a.logTimeStyle.Render(ev.TimestampUTC.Local().Format("15:04:05"))
		kind := lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Width(18).
			Render(string(ev.Type))
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, kind, a.logStyle.Render(describe(ev))))
	}

	return b.String()
}

// describe renders the one-line summary of an event.
func describe(ev models.Event) string {
	parts := make([]string, 0, 3)
	if ev.Phase != "" {
		parts = append(parts, string(ev.Phase))
	}
	if ev.WorkerID != "" {
		parts = append(parts, string(ev.WorkerID))
	}
	if ev.Message != "" {
		parts = append(parts, truncate(ev.Message, 60))
	}
	return strings.Join(parts, " ")
}

// NewWatchProgram creates a new Bubbletea program for the watch TUI.
func NewWatchProgram(runID string, source Source, refresh time.Duration) (*tea.Program, *WatchApp) {
	app := NewWatchApp(runID, source, refresh)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
