// Package tui provides terminal rendering helpers for conductor.
//
// This package provides a centralized style system using Lip Gloss for consistent
// styling. All colors use AdaptiveColor for light/dark terminal support.
//
// # Semantic Colors
//
// Five semantic colors are exported:
//   - ColorPrimary (Blue): active states
//   - ColorSuccess (Green): satisfied tasks, complete plans
//   - ColorWarning (Yellow): failed tasks that can still be retried
//   - ColorError (Red): blocked tasks and plans
//   - ColorMuted (Gray): pending and abandoned work
//
// Every status display carries icon + color + text so it stays readable
// without color.
//
// # NO_COLOR Support
//
// Call CheckNoColor() at the start of commands to respect the NO_COLOR environment
// variable. Colors are also disabled when TERM=dumb.
package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mrz1836/conductor/internal/constants"
)

//nolint:gochecknoglobals // Intentional package-level constants for styling API
var (
	// ColorPrimary is blue, used for active states.
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#0087AF", Dark: "#00D7FF"}

	// ColorSuccess is green, used for satisfied tasks and complete plans.
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#008700", Dark: "#00FF87"}

	// ColorWarning is yellow, used for failures that still have retries.
	ColorWarning = lipgloss.AdaptiveColor{Light: "#AF8700", Dark: "#FFD700"}

	// ColorError is red, used for blocked tasks and plans.
	ColorError = lipgloss.AdaptiveColor{Light: "#AF0000", Dark: "#FF5F5F"}

	// ColorMuted is gray, used for dim/inactive states and secondary text.
	ColorMuted = lipgloss.AdaptiveColor{Light: "#585858", Dark: "#6C6C6C"}

	// StyleBold applies bold formatting to text.
	StyleBold = lipgloss.NewStyle().Bold(true)

	// StyleDim applies dim/faint formatting to text.
	StyleDim = lipgloss.NewStyle().Faint(true)
)

// TableStyles holds lipgloss styles for table rendering.
type TableStyles struct {
	Header lipgloss.Style
	Cell   lipgloss.Style
	Dim    lipgloss.Style
}

// NewTableStyles creates styles for table rendering.
func NewTableStyles() *TableStyles {
	return &TableStyles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#DDDDDD"}),
		Cell: lipgloss.NewStyle(),
		Dim: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),
	}
}

// OutputStyles holds common output styles.
type OutputStyles struct {
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Dim     lipgloss.Style
}

// NewOutputStyles creates common output styles using AdaptiveColor for light/dark terminal support.
func NewOutputStyles() *OutputStyles {
	return &OutputStyles{
		Success: lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true),
		Error: lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true),
		Warning: lipgloss.NewStyle().
			Foreground(ColorWarning),
		Info: lipgloss.NewStyle().
			Foreground(ColorPrimary),
		Dim: lipgloss.NewStyle().
			Foreground(ColorMuted),
	}
}

// CheckNoColor respects the NO_COLOR environment variable.
// Call this at the start of commands that output styled text.
func CheckNoColor() {
	if !HasColorSupport() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// HasColorSupport returns true if the terminal supports colors.
// Returns false if NO_COLOR is set (any value including empty string) or TERM=dumb.
// This follows the NO_COLOR standard: https://no-color.org/
func HasColorSupport() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	return os.Getenv("TERM") != "dumb"
}

// TaskStatusColors returns the semantic color definitions for task statuses.
func TaskStatusColors() map[constants.TaskStatus]lipgloss.AdaptiveColor {
	return map[constants.TaskStatus]lipgloss.AdaptiveColor{
		constants.TaskStatusPending:      ColorMuted,
		constants.TaskStatusRunnable:     ColorPrimary,
		constants.TaskStatusRunning:      ColorPrimary,
		constants.TaskStatusAwaitingGate: ColorPrimary,
		constants.TaskStatusSatisfied:    ColorSuccess,
		constants.TaskStatusFailed:       ColorWarning,
		constants.TaskStatusBlocked:      ColorError,
	}
}

// TaskStatusIcon returns the icon for a given task status.
func TaskStatusIcon(status constants.TaskStatus) string {
	icons := map[constants.TaskStatus]string{
		constants.TaskStatusPending:      "○",
		constants.TaskStatusRunnable:     "◎",
		constants.TaskStatusRunning:      "●",
		constants.TaskStatusAwaitingGate: "⟳",
		constants.TaskStatusSatisfied:    "✓",
		constants.TaskStatusFailed:       "⚠",
		constants.TaskStatusBlocked:      "✗",
	}
	if icon, ok := icons[status]; ok {
		return icon
	}
	return "?"
}

// PlanStatusColor returns the color for a plan status.
func PlanStatusColor(status constants.PlanStatus) lipgloss.AdaptiveColor {
	switch status {
	case constants.PlanStatusComplete:
		return ColorSuccess
	case constants.PlanStatusBlocked:
		return ColorError
	case constants.PlanStatusAbandoned:
		return ColorMuted
	case constants.PlanStatusInProgress:
		return ColorPrimary
	default:
		return ColorPrimary
	}
}

// PlanStatusIcon returns the icon for a plan status.
func PlanStatusIcon(status constants.PlanStatus) string {
	switch status {
	case constants.PlanStatusComplete:
		return "✓"
	case constants.PlanStatusBlocked:
		return "✗"
	case constants.PlanStatusAbandoned:
		return "⊘"
	case constants.PlanStatusInProgress:
		return "●"
	default:
		return "?"
	}
}

// IsAttentionStatus returns true if the task status needs an operator.
func IsAttentionStatus(status constants.TaskStatus) bool {
	return status == constants.TaskStatusFailed || status == constants.TaskStatusBlocked
}

// Label turns a snake_case status or kind into a title-cased label,
// e.g. "awaiting_gate" becomes "Awaiting Gate".
func Label(s string) string {
	caser := cases.Title(language.English)
	return caser.String(strings.ReplaceAll(s, "_", " "))
}

// RenderTaskStatus renders "icon label" in the status color.
func RenderTaskStatus(status constants.TaskStatus) string {
	text := TaskStatusIcon(status) + " " + Label(string(status))
	if !HasColorSupport() {
		return text
	}
	color, ok := TaskStatusColors()[status]
	if !ok {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}

// RenderPlanStatus renders "icon label" for a plan in the status color.
func RenderPlanStatus(status constants.PlanStatus) string {
	text := PlanStatusIcon(status) + " " + Label(string(status))
	if !HasColorSupport() {
		return text
	}
	return lipgloss.NewStyle().Foreground(PlanStatusColor(status)).Bold(true).Render(text)
}

// stripANSI removes ANSI escape sequences from a string.
func stripANSI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inEscape:
			if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
				inEscape = false
			}
		case c == 0x1b:
			inEscape = true
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// VisibleWidth returns the terminal cell width of s, ignoring ANSI codes.
// East Asian wide characters count as two cells.
func VisibleWidth(s string) int {
	return runewidth.StringWidth(stripANSI(s))
}

// padRight pads a string to the right to reach the target width.
// Uses visible cell width (excluding ANSI escape codes).
func padRight(s string, width int) string {
	w := VisibleWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

// padLeft pads a string to the left to reach the target width.
func padLeft(s string, width int) string {
	w := VisibleWidth(s)
	if w >= width {
		return s
	}
	return strings.Repeat(" ", width-w) + s
}

// truncate shortens plain text to width cells, ending with an ellipsis.
func truncate(s string, width int) string {
	if width <= 1 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
