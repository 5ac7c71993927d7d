package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/scheduler"
	"github.com/mrz1836/conductor/internal/tui"
)

// AddStatusCommand adds the status command to the root command.
func AddStatusCommand(root *cobra.Command, flags *GlobalFlags) {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status <plan-id>",
		Short: "Show the current status of a plan and its tasks",
		Long: `Display the plan status, derived from its tasks on every read, and each
task's status, attempts and last failure in execution order.

With --watch the view refreshes until the plan is complete, blocked or
abandoned, ringing the terminal bell when a task fails. Watching a plan
that another 'conductor run' is executing shows its progress live.

The exit code reflects the plan: 0 complete, 3 blocked, 4 abandoned,
5 in progress.

Examples:
  conductor status plan-1a2b3c4d
  conductor status plan-1a2b3c4d --watch
  conductor status plan-1a2b3c4d --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.watch {
				err = runStatusWatch(cmd.Context(), cmd.OutOrStdout(), flags, args[0], opts)
			} else {
				err = runStatus(cmd.Context(), cmd.OutOrStdout(), flags, args[0])
			}
			return silenceReported(cmd, err)
		},
	}

	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "refresh until the plan reaches a final status")
	cmd.Flags().DurationVar(&opts.interval, "interval", tui.DefaultWatchConfig().Interval, "refresh interval for --watch")
	cmd.Flags().BoolVar(&opts.noBell, "no-bell", false, "do not ring the bell when a task fails")

	root.AddCommand(cmd)
}

// statusOptions holds the status command's flags.
type statusOptions struct {
	watch    bool
	interval time.Duration
	noBell   bool
}

func runStatus(ctx context.Context, w io.Writer, flags *GlobalFlags, planID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tui.CheckNoColor()

	e, err := openEngine(flags)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}
	defer func() { _ = e.Close() }()

	view, err := e.scheduler.GetStatus(ctx, planID)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, "", err)
	}
	return writeStatus(w, flags.Output, view)
}

func writeStatus(w io.Writer, format string, view *scheduler.StatusView) error {
	switch format {
	case OutputJSON:
		if err := writeJSON(w, view); err != nil {
			return err
		}
	case OutputMarkdown:
		if _, err := io.WriteString(w, statusMarkdown(view)); err != nil {
			return err
		}
	default:
		if err := writeStatusText(w, view); err != nil {
			return err
		}
	}
	return planResult(view.PlanID, view.Status)
}

// runStatusWatch shows a live status view. Without a terminal, or with
// JSON or markdown output, it prints the status once.
func runStatusWatch(ctx context.Context, w io.Writer, flags *GlobalFlags, planID string, opts statusOptions) error {
	if flags.Output != OutputText || !terminalCheck() {
		logger := GetLogger()
		logger.Debug().Str("plan_id", planID).Msg("watch needs an interactive terminal, printing status once")
		return runStatus(ctx, w, flags, planID)
	}
	tui.CheckNoColor()

	e, err := openEngine(flags)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	// Fail fast on an unknown plan before taking over the terminal.
	if _, err := e.scheduler.GetStatus(ctx, planID); err != nil {
		return err
	}

	cfg := tui.DefaultWatchConfig()
	cfg.Interval = opts.interval
	cfg.BellEnabled = !opts.noBell
	cfg.Quiet = flags.Quiet

	model := tui.NewWatchModel(ctx, watchSource(e.scheduler, planID), cfg)
	if _, err := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(w)).Run(); err != nil {
		return fmt.Errorf("watch plan %s: %w", planID, err)
	}
	if err := model.Error(); err != nil {
		return err
	}
	snap := model.Snapshot()
	if snap.PlanID == "" {
		return nil
	}
	return planResult(planID, snap.Status)
}

// watchSource adapts the scheduler's status view to the watch model.
func watchSource(s *scheduler.Scheduler, planID string) tui.WatchSource {
	return tui.WatchSourceFunc(func(ctx context.Context) (tui.WatchSnapshot, error) {
		view, err := s.GetStatus(ctx, planID)
		if err != nil {
			return tui.WatchSnapshot{}, err
		}
		snap := tui.WatchSnapshot{
			PlanID: view.PlanID,
			Title:  view.Title,
			Status: view.Status,
			Tasks:  make([]tui.WatchTask, 0, len(view.Tasks)),
		}
		for _, t := range view.Tasks {
			snap.Tasks = append(snap.Tasks, tui.WatchTask{
				ID:          t.ID,
				Phase:       t.Phase,
				Role:        t.Role,
				Status:      t.Status,
				Attempts:    t.Attempts,
				MaxAttempts: t.MaxRetries + 1,
				Detail:      failureDetail(t),
			})
		}
		return snap, nil
	})
}

func writeStatusText(w io.Writer, view *scheduler.StatusView) error {
	header := fmt.Sprintf("%s  %s  %s", tui.StyleBold.Render(view.Title), tui.StyleDim.Render(view.PlanID), tui.RenderPlanStatus(view.Status))
	if view.Retired {
		header += tui.StyleDim.Render("  (retired)")
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}

	table := tui.NewTable(
		tui.TableColumn{Name: "TASK"},
		tui.TableColumn{Name: "PHASE"},
		tui.TableColumn{Name: "ROLE"},
		tui.TableColumn{Name: "STATUS"},
		tui.TableColumn{Name: "TRIES", Align: tui.AlignRight},
		tui.TableColumn{Name: "LAST FAILURE", MaxWidth: 60},
	)
	for _, t := range view.Tasks {
		table.AddRow(
			t.ID,
			t.Phase,
			t.Role,
			tui.RenderTaskStatus(t.Status),
			fmt.Sprintf("%d/%d", t.Attempts, t.MaxRetries+1),
			failureDetail(t),
		)
	}
	return table.Render(w)
}

// failureDetail renders a task's last failure for a table cell.
func failureDetail(t scheduler.TaskState) string {
	if t.InFlight {
		return "in flight"
	}
	if t.FailureKind == "" {
		return ""
	}
	if len(t.FailedRules) > 0 {
		return t.FailureKind + ": " + strings.Join(t.FailedRules, ", ")
	}
	if t.LastError != "" {
		return t.FailureKind + ": " + t.LastError
	}
	return t.FailureKind
}

func statusMarkdown(view *scheduler.StatusView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", view.Title)
	fmt.Fprintf(&b, "**Plan:** `%s` · **Status:** %s\n\n", view.PlanID, tui.Label(view.Status.String()))
	b.WriteString("| Task | Phase | Role | Status | Tries | Last failure |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, t := range view.Tasks {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %d/%d | %s |\n",
			t.ID, t.Phase, t.Role, t.Status, t.Attempts, t.MaxRetries+1,
			strings.ReplaceAll(failureDetail(t), "|", "\\|"))
	}
	return b.String()
}
