package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/config"
	"github.com/mrz1836/conductor/internal/domain"
	"github.com/mrz1836/conductor/internal/errors"
	"github.com/mrz1836/conductor/internal/gate"
	"github.com/mrz1836/conductor/internal/graph"
	"github.com/mrz1836/conductor/internal/spec"
	"github.com/mrz1836/conductor/internal/tui"
)

// AddValidateCommand adds the validate command to the root command.
func AddValidateCommand(root *cobra.Command, flags *GlobalFlags) {
	root.AddCommand(newValidateCmd(flags))
}

func newValidateCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <spec-file>",
		Short: "Check a plan spec and print its execution order",
		Long: `Load a plan spec (YAML or JSON), build its task graph and report every
problem found: duplicate ids, unknown dependencies, cycles, unknown roles
and unknown or malformed quality gate rules. Nothing is stored.

Examples:
  conductor validate plan.yaml
  conductor validate plan.json --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runValidate(cmd.OutOrStdout(), flags, args[0])
			return silenceReported(cmd, err)
		},
	}
}

// validateResult is the JSON shape of the validate command.
type validateResult struct {
	Valid    bool             `json:"valid"`
	Title    string           `json:"title,omitempty"`
	Tasks    int              `json:"tasks"`
	Phases   int              `json:"phases"`
	Order    []string         `json:"order,omitempty"`
	Problems []errors.Problem `json:"problems,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func runValidate(w io.Writer, flags *GlobalFlags, path string) error {
	cfg := flags.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := GetLogger()

	ps, err := spec.NewOsLoader().Load(path)
	if err != nil {
		return handleCommandError(flags.Output, w, "", "", err)
	}

	executors, err := newExecutorRegistry(cfg, logger, false)
	if err != nil {
		return err
	}
	g, err := graph.Build(ps, graphOptions(cfg, gate.DefaultRegistry(), executors)...)
	if err != nil {
		return reportGraphProblems(w, flags.Output, ps, err)
	}

	p := g.NewPlan("", nil)
	logger.Debug().Str("spec", path).Int("tasks", g.Len()).Msg("plan spec is valid")

	if flags.Output == OutputJSON {
		return writeJSON(w, validateResult{
			Valid:  true,
			Title:  p.Title,
			Tasks:  g.Len(),
			Phases: len(p.Phases),
			Order:  g.Order(),
		})
	}

	out := tui.NewOutput(w, flags.Output)
	out.Success(fmt.Sprintf("%s is valid: %d tasks in %d phases", path, g.Len(), len(p.Phases)))
	return writeOrder(w, p)
}

// reportGraphProblems prints every graph problem and returns the error.
func reportGraphProblems(w io.Writer, format string, ps domain.PlanSpec, err error) error {
	var gve *errors.GraphValidationError
	if !stderrors.As(err, &gve) {
		return handleCommandError(format, w, "", "", err)
	}

	if format == OutputJSON {
		_ = writeJSON(w, validateResult{
			Valid:    false,
			Title:    ps.Title,
			Tasks:    ps.TaskCount(),
			Phases:   len(ps.Phases),
			Problems: gve.Problems,
			Error:    errors.ErrGraphValidation.Error(),
		})
		return fmt.Errorf("%w: %w", errors.ErrJSONErrorOutput, err)
	}

	out := tui.NewOutput(w, format)
	out.Error(errors.ErrGraphValidation)
	for _, p := range gve.Problems {
		_, _ = fmt.Fprintf(w, "  - %s\n", p)
	}
	return err
}

// writeOrder prints the plan's tasks in execution order.
func writeOrder(w io.Writer, p *domain.Plan) error {
	table := tui.NewTable(
		tui.TableColumn{Name: "#", Align: tui.AlignRight},
		tui.TableColumn{Name: "TASK"},
		tui.TableColumn{Name: "PHASE"},
		tui.TableColumn{Name: "ROLE"},
		tui.TableColumn{Name: "DEPENDS ON", MaxWidth: 30},
		tui.TableColumn{Name: "GATES", MaxWidth: 40},
	)
	for i, t := range p.OrderedTasks() {
		table.AddRow(
			fmt.Sprint(i+1),
			t.ID,
			t.Phase,
			t.Role,
			strings.Join(t.DependsOn, ", "),
			strings.Join(t.Gates, ", "),
		)
	}
	return table.Render(w)
}

// silenceReported stops cobra from printing an error the command already
// reported: JSON error output, or a plan status shown in the report. The
// error is still returned for the exit code.
func silenceReported(cmd *cobra.Command, err error) error {
	var statusErr *PlanStatusError
	if stderrors.Is(err, errors.ErrJSONErrorOutput) || stderrors.As(err, &statusErr) {
		cmd.SilenceErrors = true
	}
	return err
}
