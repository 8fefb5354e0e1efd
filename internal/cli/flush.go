package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/trackq/internal/config"
	"github.com/roach88/trackq/internal/flush"
)

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Run one delivery cycle",
		Long: `Run one synchronous flush cycle over the queued events and print the
cycle counters. Events that fail with a retryable error stay queued with
their attempt count raised; permanent failures are dropped.

Exit codes:
  0 - Cycle ran (events may have been retained or dropped)
  2 - Command error (bad config, unreadable database)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlush(rootOpts, cmd)
		},
	}
	return cmd
}

func runFlush(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	tr, _, err := openTracker(opts, cmd, func(cfg *config.Config) { manualMode(cfg) })
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx := cmd.Context()
	formatter.Debugf("flushing %d queued event(s)", tr.Count(ctx))

	res, ok := tr.FlushSync(ctx)
	if !ok {
		return NewExitError(ExitFailure, "a flush cycle is already running")
	}
	return formatter.Render(res, func(w io.Writer) { writeFlushText(w, res) })
}

func writeFlushText(w io.Writer, res flush.Result) {
	if res.Offline {
		fmt.Fprintln(w, "flush skipped: offline")
		return
	}
	fmt.Fprintf(w, "flush: processed %d, delivered %d, retained %d, dropped %d (%s)\n",
		res.Processed, res.Delivered, res.Retained, res.Dropped,
		res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
}
