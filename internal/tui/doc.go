// Package tui provides the terminal user interface for the watch command.
//
// The TUI is read-only: it polls a Source for snapshots and new events of
// one run and renders phase, progress, per-worker outcomes, warnings, and
// the consolidated response once it exists. Users quit with 'q' or Ctrl+C,
// and, when a CancelHandler is set, cancel the run with 'c'.
//
// Usage:
//
//	program, app := tui.NewWatchProgram(runID, svc, tui.DefaultRefresh)
//	app.SetCancelHandler(svc.Cancel)
//	if _, err := program.Run(); err != nil {
//	    return err
//	}
//
// Polling stops once the run completes, fails, is cancelled, or suspends
// for human input.
package tui
