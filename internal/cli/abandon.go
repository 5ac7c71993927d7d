package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	"github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/scheduler"
	"github.com/mrz1836/conductor/internal/tui"
)

// abandonOptions holds the abandon command's flags.
type abandonOptions struct {
	force  bool
	reason string
}

// AddAbandonCommand adds the abandon command to the root command.
func AddAbandonCommand(root *cobra.Command, flags *GlobalFlags) {
	var opts abandonOptions

	cmd := &cobra.Command{
		Use:   "abandon <plan-id>",
		Short: "Abandon a plan so no further tasks are dispatched",
		Long: `Abandon a plan. Every task that is not satisfied, failed or already
blocked becomes blocked with the abandonment reason. Tasks running at the
time finish but their results are recorded as blocked.

Use --force to skip the confirmation prompt. Non-interactive sessions
must pass --force.

Examples:
  conductor abandon plan-1a2b3c4d
  conductor abandon plan-1a2b3c4d --force --reason "superseded by plan-9f8e"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runAbandon(cmd.Context(), cmd.OutOrStdout(), flags, args[0], opts)
			return silenceReported(cmd, err)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Skip confirmation prompt")
	cmd.Flags().StringVar(&opts.reason, "reason", "", "Reason recorded with the abandonment")

	root.AddCommand(cmd)
}

// abandonResult is the JSON output of a successful abandonment.
type abandonResult struct {
	Status  string               `json:"status"`
	PlanID  string               `json:"plan_id"`
	Reason  string               `json:"reason"`
	Blocked int                  `json:"blocked"`
	Plan    constants.PlanStatus `json:"plan_status"`
}

func runAbandon(ctx context.Context, w io.Writer, flags *GlobalFlags, planID string, opts abandonOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tui.CheckNoColor()

	e, err := openEngine(flags)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}
	defer func() { _ = e.Close() }()

	p, err := e.store.Get(ctx, planID)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}
	if p.Abandoned {
		return handleCommandError(flags.Output, w, planID, "", fmt.Errorf("plan %s: %w", planID, errors.ErrPlanAbandoned))
	}
	if p.Status() == constants.PlanStatusComplete {
		return handleCommandError(flags.Output, w, planID, "", fmt.Errorf("plan %s: %w", planID, errors.ErrPlanComplete))
	}

	if !opts.force {
		if !terminalCheck() {
			return handleCommandError(flags.Output, w, planID, "", fmt.Errorf("cannot abandon plan: %w", errors.ErrNonInteractiveMode))
		}
		confirmed, err := confirmAbandon(p)
		if err != nil {
			return handleCommandError(flags.Output, w, planID, "", fmt.Errorf("failed to get confirmation: %w", err))
		}
		if !confirmed {
			tui.NewOutput(w, flags.Output).Info("Abandonment canceled")
			return nil
		}
	}

	reason := opts.reason
	if reason == "" {
		reason = scheduler.DefaultAbandonReason
	}
	before := p.StatusCounts()[constants.TaskStatusBlocked]

	if err := e.scheduler.Abandon(ctx, planID, reason); err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}

	after, err := e.store.Get(ctx, planID)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}
	result := abandonResult{
		Status:  "abandoned",
		PlanID:  planID,
		Reason:  reason,
		Blocked: after.StatusCounts()[constants.TaskStatusBlocked] - before,
		Plan:    after.Status(),
	}

	if flags.Output == OutputJSON {
		return writeJSON(w, result)
	}
	out := tui.NewOutput(w, flags.Output)
	out.Success(fmt.Sprintf("Plan %s abandoned", planID))
	out.Info(fmt.Sprintf("Reason: %s", reason))
	out.Info(fmt.Sprintf("Tasks blocked: %d", result.Blocked))
	return nil
}

// terminalCheck reports whether stdin is interactive.
//
//nolint:gochecknoglobals // Test injection point
var terminalCheck = isTerminal

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) //nolint:gosec // Fd fits in int on supported platforms
}

// createAbandonConfirmForm is the factory for abandon confirmation forms.
// Tests override it to inject mock forms.
//
//nolint:gochecknoglobals // Test injection point
var createAbandonConfirmForm = defaultCreateAbandonConfirmForm

// formRunner matches huh.Form's Run method.
type formRunner interface {
	Run() error
}

func defaultCreateAbandonConfirmForm(p *domain.Plan, confirm *bool) formRunner {
	description := "Pending and runnable tasks will be blocked. Satisfied tasks keep their results."
	if running := p.StatusCounts()[constants.TaskStatusRunning]; running > 0 {
		description = fmt.Sprintf("%d task(s) are running; their results will be recorded as blocked.\n\n%s", running, description)
	}

	title := p.Title
	if title == "" {
		title = p.ID
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Abandon plan '%s'?", title)).
				Description(description).
				Affirmative("Yes, abandon").
				Negative("No, cancel").
				Value(confirm),
		),
	)
}

func confirmAbandon(p *domain.Plan) (bool, error) {
	var confirm bool
	if err := createAbandonConfirmForm(p, &confirm).Run(); err != nil {
		return false, err
	}
	return confirm, nil
}
