package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var (
	eventsSince  int64
	eventsFollow bool
	eventsJSON   bool
)

var eventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Print a run's event stream",
	Long: `Events prints the stored events of a run in sequence order.
With --follow it keeps polling until the run completes, fails, is
cancelled, or suspends.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().Int64Var(&eventsSince, "since", 0, "Only print events after this sequence number")
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "Keep printing new events")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "Print one JSON object per event")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext()
	defer stop()

	a, err := newInspectApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	runID := args[0]
	since := eventsSince
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		evs, err := a.svc.Events(ctx, runID, since)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		for _, ev := range evs {
			if eventsJSON {
				if err := printJSONLine(ev); err != nil {
					return err
				}
			} else {
				printEventLine(ev)
			}
			since = ev.Seq
		}
		if !eventsFollow {
			return nil
		}

		st, err := a.svc.Snapshot(ctx, runID)
		if err != nil {
			return err
		}
		if st.Status.IsFinal() || st.CurrentPhase.IsTerminal() {
			// One more read picks up the terminal event.
			if len(evs) == 0 {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
