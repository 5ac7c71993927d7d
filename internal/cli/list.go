package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/domain"
	"github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/tui"
)

// listOptions holds the list command's flags.
type listOptions struct {
	all    bool
	status string
}

// AddListCommand adds the list command to the root command.
func AddListCommand(root *cobra.Command, flags *GlobalFlags) {
	var opts listOptions

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored plans, newest first",
		Long: `List the plans in the configured store with their derived status.
Retired plans are hidden unless --all is given.

Examples:
  conductor list
  conductor list --all
  conductor list --status blocked --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := runList(cmd.Context(), cmd.OutOrStdout(), flags, opts)
			return silenceReported(cmd, err)
		},
	}

	cmd.Flags().BoolVarP(&opts.all, "all", "a", false, "Include retired plans")
	cmd.Flags().StringVar(&opts.status, "status", "", "Only show plans with this status (in_progress, complete, blocked, abandoned)")

	root.AddCommand(cmd)
}

// planListItem is one row of the list output.
type planListItem struct {
	ID        string                       `json:"id"`
	Title     string                       `json:"title"`
	Status    constants.PlanStatus         `json:"status"`
	Retired   bool                         `json:"retired,omitempty"`
	Tasks     int                          `json:"tasks"`
	Satisfied int                          `json:"satisfied"`
	Counts    map[constants.TaskStatus]int `json:"counts"`
	CreatedAt time.Time                    `json:"created_at"`
}

func runList(ctx context.Context, w io.Writer, flags *GlobalFlags, opts listOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tui.CheckNoColor()

	if opts.status != "" && !constants.PlanStatus(opts.status).IsValid() {
		return handleCommandError(flags.Output, w, "", "", invalidStatusFilterError(opts.status))
	}

	e, err := openEngine(flags)
	if err != nil {
		return handleCommandError(flags.Output, w, "", "", err)
	}
	defer func() { _ = e.Close() }()

	plans, err := e.store.List(ctx)
	if err != nil {
		return handleCommandError(flags.Output, w, "", "", err)
	}
	items := filterPlans(plans, opts)

	if flags.Output == OutputJSON {
		return writeJSON(w, items)
	}
	if len(items) == 0 {
		tui.NewOutput(w, flags.Output).Info("No plans found")
		return nil
	}
	if flags.Output == OutputMarkdown {
		_, err := io.WriteString(w, listMarkdown(items))
		return err
	}

	table := tui.NewTable(
		tui.TableColumn{Name: "ID"},
		tui.TableColumn{Name: "TITLE", MaxWidth: 40},
		tui.TableColumn{Name: "STATUS"},
		tui.TableColumn{Name: "TASKS", Align: tui.AlignRight},
		tui.TableColumn{Name: "CREATED"},
	)
	for _, it := range items {
		status := tui.RenderPlanStatus(it.Status)
		if it.Retired {
			status += tui.StyleDim.Render(" (retired)")
		}
		table.AddRow(it.ID, it.Title, status, fmt.Sprintf("%d/%d", it.Satisfied, it.Tasks), it.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return table.Render(w)
}

func filterPlans(plans []*domain.Plan, opts listOptions) []planListItem {
	items := make([]planListItem, 0, len(plans))
	for _, p := range plans {
		if p.Retired && !opts.all {
			continue
		}
		st := p.Status()
		if opts.status != "" && string(st) != opts.status {
			continue
		}
		counts := p.StatusCounts()
		items = append(items, planListItem{
			ID:        p.ID,
			Title:     p.Title,
			Status:    st,
			Retired:   p.Retired,
			Tasks:     len(p.Tasks),
			Satisfied: counts[constants.TaskStatusSatisfied],
			Counts:    counts,
			CreatedAt: p.CreatedAt,
		})
	}
	return items
}

func listMarkdown(items []planListItem) string {
	var b strings.Builder
	b.WriteString("| ID | Title | Status | Tasks | Created |\n")
	b.WriteString("|----|-------|--------|------:|---------|\n")
	for _, it := range items {
		status := string(it.Status)
		if it.Retired {
			status += " (retired)"
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s/%s | %s |\n",
			it.ID, it.Title, status, strconv.Itoa(it.Satisfied), strconv.Itoa(it.Tasks), it.CreatedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

func invalidStatusFilterError(status string) error {
	names := make([]string, 0, 4)
	for _, s := range constants.AllPlanStatuses() {
		names = append(names, s.String())
	}
	return errors.NewExitCode2Error(fmt.Errorf("%w: unknown status %q (want one of %s)", errors.ErrValueOutOfRange, status, strings.Join(names, ", ")))
}
