package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mrz1836/conductor/internal/constants"
	"github.com/mrz1836/conductor/internal/tui"
)

// WriteText renders the report as a styled table. Colors follow NO_COLOR.
func (rep *Report) WriteText(w io.Writer) error {
	tui.CheckNoColor()
	styles := tui.NewOutputStyles()

	title := rep.Title
	if title == "" {
		title = rep.PlanID
	}
	if _, err := fmt.Fprintf(w, "%s  %s  %s\n", tui.StyleBold.Render(title), styles.Dim.Render(rep.PlanID), tui.RenderPlanStatus(rep.Status)); err != nil {
		return err
	}
	if rep.Reason != "" {
		if _, err := fmt.Fprintln(w, styles.Warning.Render("  "+rep.Reason)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, styles.Dim.Render("  "+countsLine(rep.Counts))); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}

	table := tui.NewTable(
		tui.TableColumn{Name: "PHASE"},
		tui.TableColumn{Name: "TASK"},
		tui.TableColumn{Name: "ROLE"},
		tui.TableColumn{Name: "STATUS"},
		tui.TableColumn{Name: "TRIES", Align: tui.AlignRight},
		tui.TableColumn{Name: "DETAIL", MaxWidth: detailWidth()},
	)
	problems := rep.problemIndex()
	for _, ph := range rep.Phases {
		for _, t := range ph.Tasks {
			table.AddRow(
				ph.Name,
				t.ID,
				t.Role,
				tui.RenderTaskStatus(t.Status),
				fmt.Sprintf("%d/%d", t.Attempts, t.MaxRetries+1),
				problems[t.ID].detail(),
			)
		}
	}
	if err := table.Render(w); err != nil {
		return err
	}

	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	for _, ph := range rep.Phases {
		line := fmt.Sprintf("phase %s (%s): ", ph.Name, ph.Gate)
		if ph.Passed {
			line += styles.Success.Render("passed")
		} else {
			line += styles.Dim.Render("open")
			if ph.FirstUnmet != "" {
				line += styles.Dim.Render(", first unmet " + ph.FirstUnmet)
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func detailWidth() int {
	return max(48, tui.TerminalWidth()-60)
}

func countsLine(counts map[constants.TaskStatus]int) string {
	parts := make([]string, 0, len(counts))
	for _, st := range constants.AllTaskStatuses() {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	if len(parts) == 0 {
		return "no tasks"
	}
	return strings.Join(parts, ", ")
}

func (rep *Report) problemIndex() map[string]*Problem {
	idx := make(map[string]*Problem, len(rep.Problems))
	for i := range rep.Problems {
		idx[rep.Problems[i].TaskID] = &rep.Problems[i]
	}
	return idx
}

func (p *Problem) detail() string {
	if p == nil {
		return ""
	}
	if len(p.Rules) > 0 {
		return p.Kind + ": " + strings.Join(p.Rules, ", ")
	}
	if p.Message != "" {
		return p.Kind + ": " + p.Message
	}
	return p.Kind
}

// Markdown renders the report as a checklist-style plan document.
func (rep *Report) Markdown() string {
	var b strings.Builder

	title := rep.Title
	if title == "" {
		title = rep.PlanID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Plan:** `%s` · **Status:** %s\n\n", rep.PlanID, tui.Label(string(rep.Status)))
	if rep.Reason != "" {
		fmt.Fprintf(&b, "> %s\n\n", rep.Reason)
	}

	problems := rep.problemIndex()
	for _, ph := range rep.Phases {
		mark := "open"
		if ph.Passed {
			mark = "passed"
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n", ph.Name, mark)
		if ph.FirstUnmet != "" {
			fmt.Fprintf(&b, "_First unmet gate: %s_\n\n", ph.FirstUnmet)
		}
		for _, t := range ph.Tasks {
			box := " "
			if t.Status == constants.TaskStatusSatisfied {
				box = "x"
			}
			fmt.Fprintf(&b, "- [%s] `%s` (%s): %s", box, t.ID, t.Role, t.Status)
			if t.Title != "" {
				fmt.Fprintf(&b, " · %s", t.Title)
			}
			if d := problems[t.ID].detail(); d != "" {
				fmt.Fprintf(&b, " · %s", d)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "_Generated %s at event %s._\n", rep.GeneratedAt.Format("2006-01-02 15:04:05 MST"), strconv.FormatInt(rep.LastSeq, 10))
	return b.String()
}

// WriteTimeline renders timeline entries as a table.
func WriteTimeline(w io.Writer, entries []Entry) error {
	tui.CheckNoColor()
	table := tui.NewTable(
		tui.TableColumn{Name: "SEQ", Align: tui.AlignRight},
		tui.TableColumn{Name: "TIME"},
		tui.TableColumn{Name: "EVENT"},
	)
	for _, e := range entries {
		table.AddRow(strconv.FormatInt(e.Seq, 10), e.Timestamp.Format("15:04:05.000"), e.Text)
	}
	return table.Render(w)
}
