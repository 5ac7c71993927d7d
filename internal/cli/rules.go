package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/executor"
	"github.com/mrz1836/conductor/internal/gate"
	"github.com/mrz1836/conductor/internal/tui"
)

// AddRulesCommand adds the rules command to the root command.
func AddRulesCommand(root *cobra.Command, flags *GlobalFlags) {
	var roles bool

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the quality gate rules and executor roles plans may use",
		Long: `List the registered quality gate rules with their usage. Rule
expressions in a plan take the form name or name(arg, ...).

With --roles, list the executor roles a task may name instead.

Examples:
  conductor rules
  conductor rules --roles --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := runRules(cmd.Context(), cmd.OutOrStdout(), flags, roles)
			return silenceReported(cmd, err)
		},
	}
	cmd.Flags().BoolVar(&roles, "roles", false, "List executor roles instead of rules")

	root.AddCommand(cmd)
}

// ruleInfo describes one registered rule.
type ruleInfo struct {
	Name  string `json:"name"`
	Usage string `json:"usage"`
}

func runRules(ctx context.Context, w io.Writer, flags *GlobalFlags, roles bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tui.CheckNoColor()

	if roles {
		return writeRoles(w, flags.Output)
	}

	reg := gate.DefaultRegistry()
	rules := make([]ruleInfo, 0, len(reg.Names()))
	for _, name := range reg.Names() {
		rules = append(rules, ruleInfo{Name: name, Usage: reg.Describe(name)})
	}

	switch flags.Output {
	case OutputJSON:
		return writeJSON(w, rules)
	case OutputMarkdown:
		var b strings.Builder
		b.WriteString("| Rule | Usage |\n|------|-------|\n")
		for _, r := range rules {
			fmt.Fprintf(&b, "| `%s` | %s |\n", r.Name, r.Usage)
		}
		_, err := io.WriteString(w, b.String())
		return err
	default:
		table := tui.NewTable(
			tui.TableColumn{Name: "RULE"},
			tui.TableColumn{Name: "USAGE", MaxWidth: max(40, tui.TerminalWidth()-30)},
		)
		for _, r := range rules {
			table.AddRow(r.Name, r.Usage)
		}
		return table.Render(w)
	}
}

func writeRoles(w io.Writer, format string) error {
	all := executor.AllRoles()
	names := make([]string, 0, len(all))
	for _, r := range all {
		names = append(names, r.String())
	}

	switch format {
	case OutputJSON:
		return writeJSON(w, names)
	case OutputMarkdown:
		var b strings.Builder
		for _, n := range names {
			fmt.Fprintf(&b, "- `%s`\n", n)
		}
		_, err := io.WriteString(w, b.String())
		return err
	default:
		_, err := fmt.Fprintln(w, strings.Join(names, "\n"))
		return err
	}
}
