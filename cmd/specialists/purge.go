package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old checkpoints and their events",
	Long: `Purge deletes checkpoints that have not been updated within the given
age, together with their events. Running runs are never purged.

The default age is storage.ttl from the configuration.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0, "Minimum age of purged runs (default: storage.ttl)")
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newInspectApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	age := purgeOlderThan
	if age <= 0 {
		age = a.cfg.Storage.TTL
	}
	if age <= 0 {
		return fmt.Errorf("purge age must be positive, got %s", age)
	}

	n, err := a.svc.Purge(ctx, age)
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Purged %d run(s) older than %s", n, age), color.FgGreen)
	return nil
}
