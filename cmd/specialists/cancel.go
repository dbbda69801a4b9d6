package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jasonewillis/specialists/internal/orchestrator"
	"github.com/jasonewillis/specialists/pkg/models"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a running or suspended run",
	Long: `Cancel marks a suspended run cancelled. For a run driven by another
specialists process it drops a cancel signal, and that process stops the
run at its next phase boundary.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := newInspectApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	runID := args[0]
	signalled, err := cancelRun(a, runID)
	if err != nil {
		return err
	}
	if signalled {
		printStatus("✓", "Cancel requested for "+runID, color.FgGreen)
	} else {
		printStatus("✓", "Cancelled "+runID, color.FgGreen)
	}
	return nil
}

// cancelRun cancels runID in this process when possible and otherwise
// signals the process driving it. signalled reports the second case.
func cancelRun(a *app, runID string) (signalled bool, err error) {
	err = a.svc.Cancel(runID)
	if err == nil || !errors.Is(err, orchestrator.ErrInvalidState) && !errors.Is(err, orchestrator.ErrRunActive) {
		return false, err
	}

	st, serr := a.svc.Snapshot(context.Background(), runID)
	if serr != nil {
		return false, serr
	}
	if st.Status != models.RunStatusRunning {
		return false, fmt.Errorf("run %s is %s", runID, st.Status)
	}
	if err := orchestrator.SendCancel(signalsDir(a.cfg), runID); err != nil {
		return false, fmt.Errorf("signal cancel: %w", err)
	}
	return true, nil
}
