package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/jasonewillis/specialists/internal/orchestrator"
	"github.com/jasonewillis/specialists/pkg/models"
)

// printStatus prints a colored status symbol followed by a message.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusColor picks the color for a run status.
func statusColor(s models.RunStatus) color.Attribute {
	switch s {
	case models.RunStatusCompleted:
		return color.FgGreen
	case models.RunStatusSuspended:
		return color.FgYellow
	case models.RunStatusFailed, models.RunStatusCancelled:
		return color.FgRed
	default:
		return color.FgCyan
	}
}

// printEvent prints one progress line for an event.
func printEvent(ev models.Event) {
	switch ev.Type {
	case models.EventPhaseEntered:
		printStatus("→", string(ev.Phase), color.FgCyan)
	case models.EventWorkerStarted:
		printStatus(" ·", string(ev.WorkerID)+" started", color.FgHiBlack)
	case models.EventWorkerCompleted:
		printStatus(" ✓", string(ev.WorkerID)+" done", color.FgGreen)
	case models.EventWorkerFailed:
		printStatus(" ✗", fmt.Sprintf("%s: %s", ev.WorkerID, ev.Message), color.FgRed)
	case models.EventComplianceWarning:
		printStatus("⚠", ev.Message, color.FgYellow)
	case models.EventRunSuspended:
		printStatus("⏸", "suspended: "+ev.Message, color.FgYellow)
	case models.EventRunFailed:
		printStatus("✗", "failed: "+ev.Message, color.FgRed)
	case models.EventRunCancelled:
		printStatus("✗", "cancelled", color.FgRed)
	}
}

// printEventLine prints an event as one plain log line.
func printEventLine(ev models.Event) {
	line := fmt.Sprintf("%4d %s %-20s", ev.Seq, ev.TimestampUTC.Local().Format("15:04:05"), ev.Type)
	if ev.Phase != "" {
		line += " " + string(ev.Phase)
	}
	if ev.WorkerID != "" {
		line += " " + string(ev.WorkerID)
	}
	if ev.Message != "" {
		line += " " + ev.Message
	}
	fmt.Println(line)
}

// printSummary prints the human-readable outcome of a run.
func printSummary(sum *orchestrator.RunSummary) {
	fmt.Println()
	printStatus("●", fmt.Sprintf("Run %s: %s", sum.RunID, sum.Status), statusColor(sum.Status))
	if sum.TaskType != "" {
		fmt.Printf("  Task type:  %s (%s priority)\n", sum.TaskType, sum.Priority)
	}
	fmt.Printf("  Phase:      %s (%d%%)\n", sum.Phase, sum.Progress)
	if len(sum.Workers) > 0 {
		fmt.Printf("  Workers:    %d dispatched, %d succeeded, %d failed\n", len(sum.Workers), sum.Succeeded, sum.Failed)
	}
	for _, w := range sum.Warnings {
		printStatus("  ⚠", w, color.FgYellow)
	}
	if sum.Error != "" {
		printStatus("  ✗", sum.Error, color.FgRed)
	}

	switch sum.Status {
	case models.RunStatusSuspended:
		fmt.Println()
		fmt.Printf("Waiting for human input: %s\n", sum.InterruptReason)
		fmt.Printf("Continue with: specialists resume %s --input key=value\n", sum.RunID)
	case models.RunStatusCompleted:
		fmt.Println()
		fmt.Println(sum.Response)
		fmt.Printf("\nConfidence: %.0f%%\n", sum.Confidence*100)
		printList("Recommendations", sum.Recommendations)
		printList("Next steps", sum.NextSteps)
	}
}

func printList(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for i, item := range items {
		fmt.Printf("  %d. %s\n", i+1, item)
	}
}

// parseKV parses key=value flags into a map. Later keys win.
func parseKV(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func colorize(attr color.Attribute, s string) string {
	return color.New(attr).Sprint(s)
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

func printJSONLine(v any) error {
	return json.NewEncoder(os.Stdout).Encode(v)
}
