package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jasonewillis/specialists/internal/classifier"
	"github.com/jasonewillis/specialists/internal/orchestrator"
	"github.com/jasonewillis/specialists/pkg/models"
)

var (
	runPriority string
	runTaskType string
	runProfile  []string
	runJSON     bool
	runID       string
	runQuiet    bool
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Classify a request and run it through the specialists",
	Long: `Run classifies the request, routes it to primary and secondary
specialists, and prints the consolidated response.

Progress is printed as phases and workers advance. Ctrl+C cancels the run
at the next phase boundary; the checkpoint is kept.

Exit status is 0 for completed or suspended runs, 2 for failed runs, and
130 for cancelled runs.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var submitCmd = &cobra.Command{
	Use:   "submit <query>",
	Short: "Start a run and print its id",
	Long: `Submit starts a run, prints its id, and keeps driving it until the
run completes or suspends. Use 'specialists watch <id>' or
'specialists status <id>' from another terminal to follow it.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, submitCmd} {
		c.Flags().StringVar(&runPriority, "priority", "", "Priority hint: critical, high, medium, low")
		c.Flags().StringVar(&runTaskType, "type", "", "Task type hint, skips type detection")
		c.Flags().StringArrayVar(&runProfile, "profile", nil, "Requester profile entry key=value (repeatable)")
		c.Flags().StringVar(&runID, "run-id", "", "Run id (default: generated)")
	}
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the final summary as JSON")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Do not print progress")
}

// startRequest builds a start request from the run flags.
func startRequest(query string) (orchestrator.StartRequest, error) {
	profile, err := parseKV(runProfile)
	if err != nil {
		return orchestrator.StartRequest{}, fmt.Errorf("--profile: %w", err)
	}
	req := orchestrator.StartRequest{RunID: runID, Query: query, Profile: profile}

	if runPriority != "" || runTaskType != "" {
		hints := &classifier.Hints{
			Priority: models.Priority(runPriority),
			TaskType: models.TaskType(runTaskType),
		}
		if runPriority != "" && !hints.Priority.Valid() {
			return req, fmt.Errorf("invalid --priority %q", runPriority)
		}
		if runTaskType != "" && !hints.TaskType.Valid() {
			return req, fmt.Errorf("invalid --type %q", runTaskType)
		}
		req.Hints = hints
	}
	return req, nil
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	req, err := startRequest(args[0])
	if err != nil {
		return err
	}

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

	events := a.svc.Subscribe()
	id, err := a.svc.SubmitRequest(context.Background(), req)
	if err != nil {
		return err
	}
	if !runJSON {
		printStatus("●", "Run "+id, statusColor(models.RunStatusRunning))
	}

	st, err := follow(ctx, a, id, events, !runJSON && !runQuiet)
	if st == nil {
		return err
	}

	sum := orchestrator.Summarize(st)
	if runJSON {
		if jerr := printJSON(sum); jerr != nil {
			return jerr
		}
	} else {
		printSummary(sum)
	}
	if err != nil && !runJSON {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	a.Close()
	exitWith(exitCode(st, err))
	return nil
}

// follow prints events for id until its drive ends. An interrupt asks the
// service to cancel the run and keeps waiting for the checkpointed state.
func follow(ctx context.Context, a *app, id string, events <-chan models.Event, verbose bool) (*models.WorkflowState, error) {
	done := make(chan struct{})
	var (
		st  *models.WorkflowState
		err error
	)
	go func() {
		defer close(done)
		st, err = a.svc.Wait(context.Background(), id)
	}()

	interrupted := ctx.Done()
	for {
		select {
		case ev := <-events:
			if verbose && ev.RunID == id {
				printEvent(ev)
			}
		case <-interrupted:
			interrupted = nil
			printStatus("⚠", "Interrupted, cancelling at the next phase boundary", statusColor(models.RunStatusSuspended))
			if cerr := a.svc.Cancel(id); cerr != nil {
				a.logger.Warn("cancel failed", "run_id", id, "error", cerr)
			}
		case <-done:
			return st, err
		}
	}
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req, err := startRequest(args[0])
	if err != nil {
		return err
	}

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

	id, err := a.svc.SubmitRequest(context.Background(), req)
	if err != nil {
		return err
	}
	fmt.Println(id)

	st, err := follow(ctx, a, id, nil, false)
	if st != nil {
		printStatus("●", fmt.Sprintf("Run %s: %s", id, st.Status), statusColor(st.Status))
	}
	a.Close()
	exitWith(exitCode(st, err))
	return nil
}
