package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath     string
	logLevel       string
	storageBackend string
	offline        bool
)

var rootCmd = &cobra.Command{
	Use:   "specialists",
	Short: "Task classifier and specialist orchestration engine",
	Long: `Specialists classifies a free-text request, routes it to a team of
specialist workers, runs them in parallel or in sequence, checks their
answers against compliance rules, and consolidates one response.

Runs are checkpointed after every phase. Essay requests suspend for human
input and continue with 'specialists resume'.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.config/specialists/config.yaml and .specialists.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&storageBackend, "storage", "", "Storage backend: sqlite, file, memory")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Use the offline worker instead of a model provider")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
