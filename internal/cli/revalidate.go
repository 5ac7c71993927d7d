package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/gate"
	"github.com/mrz1836/conductor/internal/tui"
)

// AddRevalidateCommand adds the revalidate command to the root command.
func AddRevalidateCommand(root *cobra.Command, flags *GlobalFlags) {
	root.AddCommand(&cobra.Command{
		Use:   "revalidate <plan-id> <task-id>",
		Short: "Re-run a task's quality gates against its recorded evidence",
		Long: `Evaluate the task's quality gates again without executing the task. The
verdict is recorded in the event log. A satisfied task whose gates no
longer pass becomes failed; the same evidence always gives the same verdict.

Examples:
  conductor revalidate plan-1a2b3c4d api
  conductor revalidate plan-1a2b3c4d api -o json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runRevalidate(cmd.Context(), cmd.OutOrStdout(), flags, args[0], args[1])
			return silenceReported(cmd, err)
		},
	})
}

// revalidateResult is the JSON shape of the revalidate command.
type revalidateResult struct {
	PlanID string         `json:"plan_id"`
	TaskID string         `json:"task_id"`
	Passed bool           `json:"passed"`
	Failed []gate.Failure `json:"failed,omitempty"`
}

func runRevalidate(ctx context.Context, w io.Writer, flags *GlobalFlags, planID, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e, err := openEngine(flags)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, taskID, err)
	}
	defer func() { _ = e.Close() }()

	res, err := e.scheduler.Revalidate(ctx, planID, taskID)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, taskID, err)
	}

	if flags.Output == OutputJSON {
		return writeJSON(w, revalidateResult{PlanID: planID, TaskID: taskID, Passed: res.Passed, Failed: res.Failed})
	}

	out := tui.NewOutput(w, flags.Output)
	if res.Passed {
		out.Success(fmt.Sprintf("Task %s: all gates pass", taskID))
		return nil
	}
	out.Warning(fmt.Sprintf("Task %s: %d gate(s) failed", taskID, len(res.Failed)))
	for _, f := range res.Failed {
		_, _ = fmt.Fprintf(w, "  - %s: %s\n", f.Rule, f.Reason)
	}
	return nil
}
