package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/tui"
)

// AddSummaryCommand adds the summary command to the root command.
func AddSummaryCommand(root *cobra.Command, flags *GlobalFlags) {
	root.AddCommand(&cobra.Command{
		Use:   "summary <plan-id>",
		Short: "Summarize a plan by phase, with the reason it stopped",
		Long: `Build a report from the plan and its event log: per-phase progress, the
first unmet gate of each open phase, and for a blocked plan the task whose
retries ran out.

Examples:
  conductor summary plan-1a2b3c4d
  conductor summary plan-1a2b3c4d -o markdown > plan.md
  conductor summary plan-1a2b3c4d -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runSummary(cmd.Context(), cmd.OutOrStdout(), flags, args[0])
			return silenceReported(cmd, err)
		},
	})
}

func runSummary(ctx context.Context, w io.Writer, flags *GlobalFlags, planID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tui.CheckNoColor()

	e, err := openEngine(flags)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}
	defer func() { _ = e.Close() }()

	rep, err := e.reporter.Summarize(ctx, planID)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}
	if err := renderReport(w, flags.Output, rep); err != nil {
		return err
	}
	return planResult(rep.PlanID, rep.Status)
}
