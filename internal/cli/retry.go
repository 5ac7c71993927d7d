package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/tui"
)

// AddRetryCommand adds the retry command to the root command.
func AddRetryCommand(root *cobra.Command, flags *GlobalFlags) {
	var run bool

	cmd := &cobra.Command{
		Use:   "retry <plan-id> <task-id>",
		Short: "Make a failed or exhausted task runnable again",
		Long: `Retry a task. A failed task returns to runnable. A task blocked because its
retries ran out gets a fresh attempt budget, and the tasks blocked behind
it return to pending. A task blocked by an upstream failure cannot be
retried directly; the error names the task to retry instead.

Examples:
  conductor retry plan-1a2b3c4d api
  conductor retry plan-1a2b3c4d api --run`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runRetry(cmd.Context(), cmd.OutOrStdout(), flags, args[0], args[1], run)
			return silenceReported(cmd, err)
		},
	}

	cmd.Flags().BoolVar(&run, "run", false, "continue running the plan after the retry")
	root.AddCommand(cmd)
}

// retryResult is the JSON shape of the retry command.
type retryResult struct {
	PlanID     string `json:"plan_id"`
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	Attempts   int    `json:"attempts"`
	PlanStatus string `json:"plan_status"`
}

func runRetry(ctx context.Context, w io.Writer, flags *GlobalFlags, planID, taskID string, run bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e, err := openEngine(flags)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, taskID, err)
	}

	forced := false
	defer func() {
		if !forced {
			_ = e.Close()
		}
	}()

	if err := e.scheduler.Retry(ctx, planID, taskID); err != nil {
		return handleCommandError(flags.Output, w, planID, taskID, err)
	}

	if run {
		status, forcedExit, err := runPlan(ctx, w, flags, e, planID)
		forced = forcedExit
		if err != nil {
			return err
		}
		return planResult(planID, status)
	}

	p, err := e.store.Get(ctx, planID)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, taskID, err)
	}
	t := p.Task(taskID)

	if flags.Output == OutputJSON {
		return writeJSON(w, retryResult{
			PlanID:     planID,
			TaskID:     taskID,
			TaskStatus: t.Status.String(),
			Attempts:   t.Attempts,
			PlanStatus: p.Status().String(),
		})
	}
	out := tui.NewOutput(w, flags.Output)
	out.Success(fmt.Sprintf("Task %s is %s (plan %s)", taskID, t.Status, p.Status()))
	out.Info(fmt.Sprintf("Continue with: conductor run %s", planID))
	return nil
}
