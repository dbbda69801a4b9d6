package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jasonewillis/specialists/pkg/models"
)

var recoverMinIdle time.Duration

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Continue runs left running by a crashed process",
	Long: `Recover finds checkpoints still marked running and continues each from
its last checkpointed phase. Runs updated within --min-idle are assumed
to belong to a live process and are skipped.`,
	Args: cobra.NoArgs,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().DurationVar(&recoverMinIdle, "min-idle", 5*time.Minute, "Skip runs updated more recently than this")
}

func runRecover(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext()
	defer stop()

	a, err := newApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.watchSignals(); err != nil {
		a.logger.Warn("cancel signals unavailable", "error", err)
	}

	ids, err := a.svc.Recover(ctx, recoverMinIdle)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No interrupted runs.")
		return nil
	}

	failed := 0
	for _, id := range ids {
		printStatus("→", "Recovering "+id, color.FgCyan)
		st, err := follow(ctx, a, id, nil, false)
		switch {
		case err != nil:
			failed++
			printStatus("✗", fmt.Sprintf("%s: %v", id, err), color.FgRed)
		case st != nil:
			if st.Status == models.RunStatusFailed {
				failed++
			}
			printStatus("●", fmt.Sprintf("%s: %s", id, st.Status), statusColor(st.Status))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d recovered runs failed", failed, len(ids))
	}
	return nil
}
