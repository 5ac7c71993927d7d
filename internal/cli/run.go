package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/report"
	"github.com/mrz1836/conductor/internal/signal"
	"github.com/mrz1836/conductor/internal/tui"
)

// AddRunCommand adds the run command to the root command.
func AddRunCommand(root *cobra.Command, flags *GlobalFlags) {
	root.AddCommand(newRunCmd(flags))
}

func newRunCmd(flags *GlobalFlags) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "run <spec-file | plan-id>",
		Short: "Run a plan until no further progress is possible",
		Long: `Run a plan: dispatch every runnable task to the executor for its role,
evaluate quality gates on the evidence it returns, retry failures within
their budget and continue until the plan is complete, blocked or abandoned.

Given a spec file the plan is submitted first. Given a plan id, a plan that
was interrupted earlier is resumed; tasks left running by a dead process are
recorded as failed and retried within their budget.

Ctrl+C abandons the plan and waits for running tasks to stop. Press it
again to exit without waiting.

Exit codes: 0 complete, 3 blocked, 4 abandoned, 5 in progress.

Examples:
  conductor run plan.yaml
  conductor run plan-1a2b3c4d
  conductor run plan.yaml -o markdown > report.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runRun(cmd.Context(), cmd.OutOrStdout(), flags, args[0], title)
			return silenceReported(cmd, err)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "override the plan title when submitting a spec")

	return cmd
}

// runOutcome is what the run goroutine hands back.
type runOutcome struct {
	status constants.PlanStatus
	err    error
}

func runRun(ctx context.Context, w io.Writer, flags *GlobalFlags, target, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e, err := openEngine(flags)
	if err != nil {
		return handleCommandError(flags.Output, w, "", "", err)
	}
	// A forced exit leaves in-flight invocations behind; Close would wait for them.
	forced := false
	defer func() {
		if !forced {
			_ = e.Close()
		}
	}()

	planID := target
	if isSpecPath(target) {
		p, err := submitSpec(ctx, w, flags.Output, e, target, title)
		if err != nil {
			return err
		}
		planID = p.ID
		if flags.Output == OutputText {
			tui.NewOutput(w, flags.Output).Info(fmt.Sprintf("Submitted plan %s", planID))
		}
	} else if _, err := e.store.Get(ctx, planID); err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}

	status, forcedExit, err := runPlan(ctx, w, flags, e, planID)
	forced = forcedExit
	if err != nil {
		return err
	}
	return planResult(planID, status)
}

// runPlan runs planID to a stop and prints its report. forced reports a
// second interrupt, after which in-flight invocations are left behind.
func runPlan(ctx context.Context, w io.Writer, flags *GlobalFlags, e *engine, planID string) (status constants.PlanStatus, forced bool, err error) {
	h := signal.NewHandler(ctx)
	defer h.Stop()

	e.logger.Info().Str("plan_id", planID).Msg("running plan")

	done := make(chan runOutcome, 1)
	go func() {
		status, err := e.scheduler.Run(h.Context(), planID)
		done <- runOutcome{status: status, err: err}
	}()

	var res runOutcome
	select {
	case res = <-done:
	case <-h.Forced():
		e.logger.Warn().Str("plan_id", planID).Msg("second interrupt, exiting without waiting for running tasks")
		return "", true, errors.ErrOperationCanceled
	}
	if res.err != nil {
		return "", false, handleCommandError(flags.Output, w, planID, "", res.err)
	}

	select {
	case <-h.Interrupted():
		e.logger.Warn().Str("plan_id", planID).Msg("run interrupted, plan abandoned")
		if flags.Output != OutputJSON {
			tui.NewOutput(w, flags.Output).Warning("Run interrupted, plan abandoned")
		}
	default:
	}

	rep, err := e.reporter.Summarize(context.WithoutCancel(ctx), planID)
	if err != nil {
		return "", false, handleCommandError(flags.Output, w, planID, "", err)
	}
	if err := renderReport(w, flags.Output, rep); err != nil {
		return "", false, err
	}
	return res.status, false, nil
}

// renderReport writes a plan report in the requested format.
func renderReport(w io.Writer, format string, rep *report.Report) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, rep)
	case OutputMarkdown:
		md, err := tui.RenderMarkdown(w, rep.Markdown())
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, md)
		return err
	default:
		return rep.WriteText(w)
	}
}
