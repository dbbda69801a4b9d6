package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jasonewillis/specialists/internal/orchestrator"
)

var (
	resumeInput []string
	resumeJSON  bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue a suspended run with human input",
	Long: `Resume merges the given input into a suspended run and continues it
from the phase after the interrupt.

Example:
  specialists resume 3f2a... --input outline="intro, body, conclusion" --input tone=formal`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringArrayVar(&resumeInput, "input", nil, "Human input key=value (repeatable)")
	resumeCmd.Flags().BoolVar(&resumeJSON, "json", false, "Print the final summary as JSON")
}

func runResume(cmd *cobra.Command, args []string) error {
	input, err := parseKV(resumeInput)
	if err != nil {
		return fmt.Errorf("--input: %w", err)
	}

	a, err := newApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.watchSignals(); err != nil {
		a.logger.Warn("cancel signals unavailable", "error", err)
	}

	st, err := a.svc.Resume(context.Background(), args[0], input)
	if st == nil {
		return err
	}

	sum := orchestrator.Summarize(st)
	if resumeJSON {
		if jerr := printJSON(sum); jerr != nil {
			return jerr
		}
	} else {
		printSummary(sum)
	}
	if err != nil && !resumeJSON {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	a.Close()
	exitWith(exitCode(st, err))
	return nil
}
