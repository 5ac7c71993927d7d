package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/conductor/internal/report"
)

// AddEventsCommand adds the events command to the root command.
func AddEventsCommand(root *cobra.Command, flags *GlobalFlags) {
	var taskID string

	cmd := &cobra.Command{
		Use:   "events <plan-id>",
		Short: "Show a plan's event log",
		Long: `Print the plan's append-only event log in sequence order: every status
change with its from/to states, failure kind and failed rules, plus notes.

Examples:
  conductor events plan-1a2b3c4d
  conductor events plan-1a2b3c4d --task api
  conductor events plan-1a2b3c4d -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runEvents(cmd.Context(), cmd.OutOrStdout(), flags, args[0], taskID)
			return silenceReported(cmd, err)
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "only show events of this task")
	root.AddCommand(cmd)
}

func runEvents(ctx context.Context, w io.Writer, flags *GlobalFlags, planID, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e, err := openEngine(flags)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, taskID, err)
	}
	defer func() { _ = e.Close() }()

	entries, err := e.reporter.Timeline(ctx, planID)
	if err != nil {
		return handleCommandError(flags.Output, w, planID, taskID, err)
	}
	if taskID != "" {
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.TaskID == taskID {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	switch flags.Output {
	case OutputJSON:
		return writeJSON(w, entries)
	case OutputMarkdown:
		_, err := io.WriteString(w, timelineMarkdown(planID, entries))
		return err
	default:
		return report.WriteTimeline(w, entries)
	}
}

func timelineMarkdown(planID string, entries []report.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Events of `%s`\n\n", planID)
	for _, entry := range entries {
		fmt.Fprintf(&b, "%d. `%s` %s\n", entry.Seq, entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Text)
	}
	return b.String()
}
