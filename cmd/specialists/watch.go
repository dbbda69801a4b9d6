package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jasonewillis/specialists/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Follow a run in an interactive view",
	Long: `Watch shows a run's phase, progress, workers, warnings, and activity
log, refreshing until the run finishes or suspends. Press c to cancel the
run and q to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newInspectApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runID := args[0]
	if _, err := a.svc.Snapshot(ctx, runID); err != nil {
		return err
	}

	p, view := tui.NewWatchProgram(runID, a.svc, a.cfg.TUI.RefreshRate)
	view.SetCancelHandler(func(id string) error {
		_, err := cancelRun(a, id)
		return err
	})
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
