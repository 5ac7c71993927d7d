package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/tui"
)

// AddRetireCommand adds the retire command to the root command.
func AddRetireCommand(root *cobra.Command, flags *GlobalFlags) {
	root.AddCommand(&cobra.Command{
		Use:   "retire <plan-id>",
		Short: "Mark a complete or abandoned plan read-only",
		Long: `Retire a plan that is complete or abandoned. A retired plan stays
readable through status, summary and events but accepts no further events.
Plans are retired as a whole; individual tasks cannot be retired.

Examples:
  conductor retire plan-1a2b3c4d`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runRetire(cmd.Context(), cmd.OutOrStdout(), flags, args[0])
			return silenceReported(cmd, err)
		},
	})
}

// retireResult is the JSON output of a successful retirement.
type retireResult struct {
	Status     string               `json:"status"`
	PlanID     string               `json:"plan_id"`
	PlanStatus constants.PlanStatus `json:"plan_status"`
}

func runRetire(ctx context.Context, w io.Writer, flags *GlobalFlags, planID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tui.CheckNoColor()

	e, err := openEngine(flags)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}
	defer func() { _ = e.Close() }()

	if err := e.store.Retire(ctx, planID); err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}
	p, err := e.store.Get(ctx, planID)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}
	e.logger.Info().Str("plan_id", planID).Str("status", string(p.Status())).Msg("plan retired")

	if flags.Output == OutputJSON {
		return writeJSON(w, retireResult{Status: "retired", PlanID: planID, PlanStatus: p.Status()})
	}
	tui.NewOutput(w, flags.Output).Success(fmt.Sprintf("Plan %s retired (%s)", planID, p.Status()))
	return nil
}
