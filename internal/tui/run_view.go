package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jasonewillis/specialists/pkg/models"
)

// RunStateMsg is sent when a fresh snapshot of the run is available.
type RunStateMsg struct {
	State *models.WorkflowState
}

// RunView displays the progress of one run.
type RunView struct {
	state  *models.WorkflowState
	width  int
	height int

	// Styles
	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	phaseStyle    lipgloss.Style
	warningStyle  lipgloss.Style
	failedStyle   lipgloss.Style
	runningStyle  lipgloss.Style
	doneStyle     lipgloss.Style
}

// NewRunView creates a new RunView instance.
func NewRunView() *RunView {
	return &RunView{
		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		phaseStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),

		warningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
	}
}

// Update handles input messages.
func (v *RunView) Update(msg tea.Msg) (*RunView, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.SetSize(msg.Width, msg.Height)
	case RunStateMsg:
		v.SetState(msg.State)
	}
	return v, nil
}

// SetState replaces the displayed snapshot.
func (v *RunView) SetState(st *models.WorkflowState) {
	v.state = st
}

// State returns the displayed snapshot, or nil before the first one.
func (v *RunView) State() *models.WorkflowState {
	return v.state
}

// SetSize sets the view dimensions.
func (v *RunView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// View renders the run summary.
func (v *RunView) View() string {
	var b strings.Builder

	b.WriteString(v.headerStyle.Render("Run Progress"))
	b.WriteString("\n")

	st := v.state
	if st == nil {
		b.WriteString(v.labelStyle.Render("Status:"))
		b.WriteString(v.valueStyle.Render("waiting for first snapshot"))
		b.WriteString("\n")
		return b.String()
	}

	v.row(&b, "Run:", st.RunID)
	v.row(&b, "Query:", truncate(firstLine(st.OriginalQuery), 60))
	b.WriteString(v.labelStyle.Render("Status:"))
	b.WriteString(v.statusStyle(st.Status).Render(string(st.Status)))
	b.WriteString("\n")

	phase := string(st.CurrentPhase)
	if phase == "" {
		phase = "none"
	}
	b.WriteString(v.labelStyle.Render("Phase:"))
	b.WriteString(v.phaseStyle.Render(phase))
	b.WriteString("\n")

	a := st.Classification
	if a.TaskType != "" {
		v.row(&b, "Task type:", fmt.Sprintf("%s (complexity %d, effort %s, %s)", a.TaskType, a.ComplexityScore, a.EstimatedEffort, a.Priority))
	}

	b.WriteString(v.renderProgressBar(float64(st.ProgressPercentage), 30))
	b.WriteString("\n")

	if len(st.Dispatched) > 0 {
		b.WriteString("\n")
		b.WriteString(v.labelStyle.Render("Workers:"))
		b.WriteString("\n")
		for _, id := range st.Dispatched {
			b.WriteString(v.workerLine(st, id))
			b.WriteString("\n")
		}
	}

	if len(st.Warnings) > 0 {
		b.WriteString("\n")
		b.WriteString(v.labelStyle.Render("Warnings:"))
		b.WriteString("\n")
		for _, w := range st.Warnings {
			b.WriteString("  ")
			b.WriteString(v.warningStyle.Render("! "))
			b.WriteString(w)
			b.WriteString("\n")
		}
	}

	if st.Status == models.RunStatusSuspended {
		b.WriteString("\n")
		b.WriteString(v.warningStyle.Render("Waiting for human input: " + st.InterruptReason))
		b.WriteString("\n")
	}
	if st.Error != "" {
		b.WriteString("\n")
		b.WriteString(v.failedStyle.Render("Error: " + st.Error))
		b.WriteString("\n")
	}

	return b.String()
}

func (v *RunView) row(b *strings.Builder, label, value string) {
	b.WriteString(v.labelStyle.Render(label))
	b.WriteString(v.valueStyle.Render(value))
	b.WriteString("\n")
}

func (v *RunView) workerLine(st *models.WorkflowState, id models.WorkerID) string {
	status, style, detail := "running", v.runningStyle, ""
	if r, ok := st.WorkerResults[id]; ok {
		status, style = "done", v.doneStyle
		detail = fmt.Sprintf("%s, %d chars", r.Duration.Round(time.Millisecond), len(r.Output))
	} else if e, ok := st.WorkerErrors[id]; ok {
		status, style = "failed", v.failedStyle
		if e.TimedOut {
			status = "timeout"
		}
		detail = truncate(e.Message, 50)
	}
	role := "secondary"
	if slices.Contains(st.Classification.PrimaryWorkers, id) {
		role = "primary"
	}
	return fmt.Sprintf("  %s %-26s %-9s %s",
		style.Render(fmt.Sprintf("%-7s", status)), id, role, detail)
}

func (v *RunView) statusStyle(s models.RunStatus) lipgloss.Style {
	switch s {
	case models.RunStatusCompleted:
		return v.doneStyle
	case models.RunStatusFailed, models.RunStatusCancelled:
		return v.failedStyle
	case models.RunStatusSuspended:
		return v.warningStyle
	default:
		return v.runningStyle
	}
}

// renderProgressBar renders a progress bar.
func (v *RunView) renderProgressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	bar := v.progressFull.Render(strings.Repeat("█", filled)) +
		v.progressEmpty.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	n -= 3
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
