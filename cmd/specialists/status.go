package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jasonewillis/specialists/pkg/models"
)

var (
	statusJSON   bool
	statusFilter string
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show a run, or list stored runs",
	Long: `With a run id, status prints the run's phase, workers, warnings, and
response. Without one, it lists every checkpointed run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print as JSON")
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "Only list runs with this status")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newInspectApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		sum, err := a.svc.Status(ctx, args[0])
		if err != nil {
			return err
		}
		if statusJSON {
			return printJSON(sum)
		}
		printSummary(sum)
		return nil
	}

	var filter *models.RunStatus
	if statusFilter != "" {
		s := models.RunStatus(statusFilter)
		if !s.Valid() {
			return fmt.Errorf("invalid --status %q", statusFilter)
		}
		filter = &s
	}
	infos, err := a.backend.List(ctx, filter)
	if err != nil {
		return err
	}
	if statusJSON {
		return printJSON(infos)
	}
	if len(infos) == 0 {
		fmt.Println("No runs.")
		return nil
	}
	for _, info := range infos {
		status := fmt.Sprintf("%-10s", info.Status)
		fmt.Printf("%s  %s  %-24s %s  %s\n",
			info.RunID,
			colorize(statusColor(info.Status), status),
			info.Phase,
			info.UpdatedAt.Local().Format(time.DateTime),
			truncate(firstLine(info.Query), 50))
	}
	return nil
}
