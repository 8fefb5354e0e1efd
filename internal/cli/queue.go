package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/trackq/internal/config"
	"github.com/roach88/trackq/internal/event"
)

// QueueList is the output of queue list.
type QueueList struct {
	Events []event.TrackedEvent `json:"events"`
	Count  int                  `json:"count"`
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or reset the pending event queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List queued events, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)

			tr, _, err := openTracker(opts, cmd, func(cfg *config.Config) { manualMode(cfg) })
			if err != nil {
				return err
			}
			defer tr.Close()

			events := tr.Events(cmd.Context())
			return formatter.Render(QueueList{Events: events, Count: len(events)}, func(w io.Writer) {
				writeQueueText(w, events)
			})
		},
	}
}

func newQueueClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Delete every queued event without sending it",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)

			tr, _, err := openTracker(opts, cmd, func(cfg *config.Config) { manualMode(cfg) })
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := cmd.Context()
			before := tr.Count(ctx)
			if !tr.Clear(ctx) {
				return NewExitError(ExitFailure, "queue was not cleared (see log)")
			}
			return formatter.Render(map[string]int{"cleared": before}, func(w io.Writer) {
				fmt.Fprintf(w, "cleared %d event(s)\n", before)
			})
		},
	}
}

func writeQueueText(w io.Writer, events []event.TrackedEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROUTE\tTYPE\tATTEMPTS\tQUEUED AT")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			ev.ID, ev.Route, ev.Payload.EventType, ev.Attempts,
			time.Unix(0, ev.InsertedAt).UTC().Format(time.RFC3339))
	}
	tw.Flush()
}
