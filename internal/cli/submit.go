package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/domain"
	"github.com/mrz1836/conductor/internal/graph"
	"github.com/mrz1836/conductor/internal/spec"
	"github.com/mrz1836/conductor/internal/tui"
)

// AddSubmitCommand adds the submit command to the root command.
func AddSubmitCommand(root *cobra.Command, flags *GlobalFlags) {
	root.AddCommand(newSubmitCmd(flags))
}

func newSubmitCmd(flags *GlobalFlags) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "submit <spec-file>",
		Short: "Validate a plan spec and store it as a new plan",
		Long: `Build the task graph of a plan spec and persist it with every task pending.
An invalid spec stores nothing. The new plan id is printed; pass it to
'conductor run' to execute the plan.

Examples:
  conductor submit plan.yaml
  conductor submit plan.yaml --title "Accounts, second attempt"
  conductor submit plan.yaml -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runSubmit(cmd.Context(), cmd.OutOrStdout(), flags, args[0], title)
			return silenceReported(cmd, err)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "override the plan title from the plan file")

	return cmd
}

// submitResult is the JSON shape of the submit command.
type submitResult struct {
	PlanID string   `json:"plan_id"`
	Title  string   `json:"title"`
	Tasks  int      `json:"tasks"`
	Order  []string `json:"order"`
}

func runSubmit(ctx context.Context, w io.Writer, flags *GlobalFlags, path, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e, err := openEngine(flags)
	if err != nil {
		return handleCommandError(flags.Output, w, "", "", err)
	}
	defer func() { _ = e.Close() }()

	p, err := submitSpec(ctx, w, flags.Output, e, path, title)
	if err != nil {
		return err
	}

	if flags.Output == OutputJSON {
		return writeJSON(w, submitResult{PlanID: p.ID, Title: p.Title, Tasks: len(p.Tasks), Order: p.Order})
	}
	out := tui.NewOutput(w, flags.Output)
	out.Success(fmt.Sprintf("Submitted plan %s (%q, %d tasks)", p.ID, p.Title, len(p.Tasks)))
	out.Info(fmt.Sprintf("Run it with: conductor run %s", p.ID))
	return nil
}

// submitSpec loads, builds and persists the plan spec at path. Loader and
// graph problems are reported in the requested format.
func submitSpec(ctx context.Context, w io.Writer, format string, e *engine, path, title string) (*domain.Plan, error) {
	ps, err := spec.NewOsLoader().Load(path)
	if err != nil {
		return nil, handleCommandError(format, w, "", "", err)
	}

	g, err := graph.Build(ps, e.graphOptions()...)
	if err != nil {
		return nil, reportGraphProblems(w, format, ps, err)
	}

	p := g.NewPlan(title, nil)
	id, err := e.store.Create(ctx, p)
	if err != nil {
		return nil, handleCommandError(format, w, p.ID, "", fmt.Errorf("failed to store plan: %w", err))
	}
	p.ID = id

	e.logger.Info().
		Str("plan_id", id).
		Str("spec", path).
		Int("tasks", len(p.Tasks)).
		Msg("plan submitted")
	return p, nil
}

// isSpecPath reports whether arg names an existing plan spec file rather
// than a plan id.
func isSpecPath(arg string) bool {
	if _, err := spec.FormatFor(arg); err != nil {
		return false
	}
	info, err := os.Stat(arg)
	return err == nil && !info.IsDir()
}
