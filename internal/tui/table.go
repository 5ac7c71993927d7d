package tui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// DefaultTerminalWidth is used when terminal width cannot be determined.
const DefaultTerminalWidth = 80

// Alignment defines text alignment in a column.
type Alignment int

// Alignment constants.
const (
	AlignLeft Alignment = iota
	AlignRight
)

// TableColumn defines a column in a table. MaxWidth caps the column (0 = unbounded);
// plain cells wider than the cap are truncated with an ellipsis.
type TableColumn struct {
	Name     string
	MaxWidth int
	Align    Alignment
}

// Table buffers rows and renders them with columns sized to their content.
type Table struct {
	styles  *TableStyles
	columns []TableColumn
	rows    [][]string
}

// NewTable creates a new table with the given columns.
func NewTable(columns ...TableColumn) *Table {
	return &Table{
		styles:  NewTableStyles(),
		columns: columns,
	}
}

// AddRow buffers a row. Cells may carry ANSI styling; missing cells are blank.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.columns))
	for i := range t.columns {
		if i >= len(cells) {
			break
		}
		cell := cells[i]
		if limit := t.columns[i].MaxWidth; limit > 0 && cell == stripANSI(cell) {
			cell = truncate(cell, limit)
		}
		row[i] = cell
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of buffered rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the header and every buffered row.
func (t *Table) Render(w io.Writer) error {
	widths := t.widths()

	header := make([]string, len(t.columns))
	for i, col := range t.columns {
		header[i] = t.styles.Header.Render(t.align(col, col.Name, widths[i]))
	}
	if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(header, "  "), " ")); err != nil {
		return err
	}

	for _, row := range t.rows {
		cells := make([]string, len(t.columns))
		for i, col := range t.columns {
			cells[i] = t.align(col, row[i], widths[i])
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " ")); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) widths() []int {
	widths := make([]int, len(t.columns))
	for i, col := range t.columns {
		widths[i] = VisibleWidth(col.Name)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := VisibleWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

func (t *Table) align(col TableColumn, s string, width int) string {
	if col.Align == AlignRight {
		return padLeft(s, width)
	}
	return padRight(s, width)
}

// TerminalWidth returns the width of stdout, or DefaultTerminalWidth if it
// is not a terminal.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	return width
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
