package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mrz1836/conductor/internal/constants"
)

// WatchConfig holds configuration for the watch mode.
type WatchConfig struct {
	// Interval is the refresh interval for watch mode.
	Interval time.Duration
	// BellEnabled rings the terminal bell when a task fails or blocks.
	BellEnabled bool
	// Quiet suppresses header and footer output.
	Quiet bool
	// ExitWhenFinal stops watching once the plan is complete, blocked or abandoned.
	ExitWhenFinal bool
}

// DefaultWatchConfig returns the default watch configuration.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Interval:      2 * time.Second,
		BellEnabled:   true,
		ExitWhenFinal: true,
	}
}

// WatchTask is one task row of a watched plan.
type WatchTask struct {
	ID          string
	Phase       string
	Role        string
	Status      constants.TaskStatus
	Attempts    int
	MaxAttempts int
	Detail      string
}

// WatchSnapshot is the state of a watched plan at one refresh.
type WatchSnapshot struct {
	PlanID string
	Title  string
	Status constants.PlanStatus
	Tasks  []WatchTask
}

// WatchSource loads the current state of the watched plan.
type WatchSource interface {
	Snapshot(ctx context.Context) (WatchSnapshot, error)
}

// WatchSourceFunc adapts a function to WatchSource.
type WatchSourceFunc func(ctx context.Context) (WatchSnapshot, error)

// Snapshot implements WatchSource.
func (f WatchSourceFunc) Snapshot(ctx context.Context) (WatchSnapshot, error) {
	return f(ctx)
}

// WatchModel is the Bubble Tea model for watching a plan.
// It implements tea.Model interface (Init, Update, View).
type WatchModel struct {
	snap       WatchSnapshot
	loaded     bool
	previous   map[string]constants.TaskStatus
	lastUpdate time.Time
	config     WatchConfig
	width      int
	quitting   bool
	finished   bool
	err        error
	source     WatchSource
	bell       io.Writer
	spinner    spinner.Model

	// baseCtx is stored for use in async Bubble Tea commands.
	baseCtx context.Context //nolint:containedctx // Required for Bubble Tea async commands
}

// TickMsg signals time for a refresh.
type TickMsg time.Time

// RefreshMsg carries new data from a refresh operation.
type RefreshMsg struct {
	Snapshot WatchSnapshot
	Err      error
}

// BellMsg signals that a bell was emitted.
type BellMsg struct{}

// NewWatchModel creates a WatchModel that polls source.
func NewWatchModel(ctx context.Context, source WatchSource, cfg WatchConfig) *WatchModel {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchConfig().Interval
	}
	return &WatchModel{
		previous: make(map[string]constants.TaskStatus),
		config:   cfg,
		width:    80,
		source:   source,
		bell:     os.Stdout,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		baseCtx:  ctx,
	}
}

// Init starts the refresh timer and performs an initial load.
func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(m.refreshData(), m.tick(), m.spinner.Tick)
}

// Update handles messages and returns the updated model and any commands.
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case TickMsg:
		return m, m.refreshData()

	case RefreshMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, m.tick()
		}
		m.snap = msg.Snapshot
		m.loaded = true
		m.lastUpdate = time.Now()
		m.err = nil

		bellCmd := m.checkForBell()
		if m.config.ExitWhenFinal && m.snap.Status.IsFinal() {
			m.finished = true
			return m, tea.Sequence(bellCmd, tea.Quit)
		}
		return m, tea.Batch(m.tick(), bellCmd)

	case BellMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the current state to a string.
func (m *WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	if !m.config.Quiet {
		title := m.snap.Title
		if title == "" {
			title = m.snap.PlanID
		}
		fmt.Fprintf(&b, "%s  %s  %s", StyleBold.Render(title), StyleDim.Render(m.snap.PlanID), RenderPlanStatus(m.snap.Status))
		if m.loaded && !m.finished && !m.snap.Status.IsFinal() {
			b.WriteString("  " + m.spinner.View())
		}
		b.WriteString("\n\n")
	}

	if m.err != nil {
		fmt.Fprintf(&b, "Error: %v\n", m.err)
	}

	switch {
	case !m.loaded:
		b.WriteString(m.spinner.View() + " Loading...\n")
	case len(m.snap.Tasks) == 0:
		b.WriteString("Plan has no tasks.\n")
	default:
		m.renderTable(&b)
	}

	if !m.config.Quiet && m.loaded {
		b.WriteString("\n")
		b.WriteString(m.buildFooter())
		b.WriteString("\n")
	}

	if !m.lastUpdate.IsZero() {
		fmt.Fprintf(&b, "\nLast updated: %s", m.lastUpdate.Format("15:04:05"))
	}
	if !m.finished {
		b.WriteString("\nPress 'q' to quit")
	}
	b.WriteString("\n")
	return b.String()
}

// Snapshot returns the last loaded snapshot.
func (m *WatchModel) Snapshot() WatchSnapshot {
	return m.snap
}

// LastUpdate returns the last update timestamp.
func (m *WatchModel) LastUpdate() time.Time {
	return m.lastUpdate
}

// IsQuitting returns true if the user asked to quit.
func (m *WatchModel) IsQuitting() bool {
	return m.quitting
}

// IsFinished returns true if watching stopped because the plan reached a final status.
func (m *WatchModel) IsFinished() bool {
	return m.finished
}

// Error returns the last error from a refresh operation.
func (m *WatchModel) Error() error {
	return m.err
}

func (m *WatchModel) tick() tea.Cmd {
	return tea.Tick(m.config.Interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m *WatchModel) refreshData() tea.Cmd {
	return func() tea.Msg {
		ctx := m.baseCtx
		if ctx == nil {
			ctx = context.Background()
		}
		snap, err := m.source.Snapshot(ctx)
		if err != nil {
			return RefreshMsg{Err: fmt.Errorf("failed to load plan: %w", err)}
		}
		return RefreshMsg{Snapshot: snap}
	}
}

// checkForBell rings once per task that newly entered failed or blocked.
func (m *WatchModel) checkForBell() tea.Cmd {
	ring := false
	seen := make(map[string]bool, len(m.snap.Tasks))
	for _, t := range m.snap.Tasks {
		seen[t.ID] = true
		prev, known := m.previous[t.ID]
		if IsAttentionStatus(t.Status) && (!known || !IsAttentionStatus(prev)) {
			ring = true
		}
		m.previous[t.ID] = t.Status
	}
	for id := range m.previous {
		if !seen[id] {
			delete(m.previous, id)
		}
	}

	if !ring || !m.config.BellEnabled || m.config.Quiet {
		return nil
	}
	w := m.bell
	return func() tea.Msg {
		_, _ = io.WriteString(w, "\a")
		return BellMsg{}
	}
}

func (m *WatchModel) buildFooter() string {
	counts := make(map[constants.TaskStatus]int)
	attention := ""
	for _, t := range m.snap.Tasks {
		counts[t.Status]++
		if attention == "" && IsAttentionStatus(t.Status) {
			attention = t.ID
		}
	}

	parts := make([]string, 0, len(counts))
	for _, st := range constants.AllTaskStatuses() {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	taskWord := "tasks"
	if len(m.snap.Tasks) == 1 {
		taskWord = "task"
	}
	summary := fmt.Sprintf("%d %s", len(m.snap.Tasks), taskWord)
	if len(parts) > 0 {
		summary += ": " + strings.Join(parts, ", ")
	}
	if attention != "" && m.snap.Status != constants.PlanStatusAbandoned {
		summary += fmt.Sprintf("\nRun: conductor retry %s %s", m.snap.PlanID, attention)
	}
	return summary
}

func (m *WatchModel) renderTable(b *strings.Builder) {
	table := NewTable(
		TableColumn{Name: "TASK"},
		TableColumn{Name: "PHASE"},
		TableColumn{Name: "ROLE"},
		TableColumn{Name: "STATUS"},
		TableColumn{Name: "TRIES", Align: AlignRight},
		TableColumn{Name: "DETAIL", MaxWidth: max(24, m.width-60)},
	)
	for _, t := range m.snap.Tasks {
		table.AddRow(t.ID, t.Phase, t.Role, RenderTaskStatus(t.Status), fmt.Sprintf("%d/%d", t.Attempts, t.MaxAttempts), t.Detail)
	}
	_ = table.Render(b)
}
