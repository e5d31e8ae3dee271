package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SnapshotMsg carries a freshly fetched snapshot.
type SnapshotMsg struct {
	Snapshot Snapshot
	Err      error
}

type tickMsg time.Time

// WatchApp is the read-only learning dashboard.
type WatchApp struct {
	source   Source
	interval time.Duration
	timeout  time.Duration

	snapshot Snapshot
	err      error
	width    int
	height   int

	agents table.Model

	// Styles
	headerStyle lipgloss.Style
	labelStyle  lipgloss.Style
	valueStyle  lipgloss.Style
	errorStyle  lipgloss.Style
	dimStyle    lipgloss.Style
}

// NewWatchApp creates a dashboard polling source every interval.
func NewWatchApp(source Source, interval time.Duration) *WatchApp {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	agents := table.New(
		table.WithColumns([]table.Column{
			{Title: "Agent", Width: 20},
			{Title: "Category", Width: 14},
			{Title: "Epsilon", Width: 8},
			{Title: "Exploration", Width: 22},
			{Title: "Replay", Width: 8},
		}),
		table.WithHeight(8),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("238")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("62"))
	agents.SetStyles(styles)

	return &WatchApp{
		source:   source,
		interval: interval,
		timeout:  interval,
		agents:   agents,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(22),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true),
	}
}

// Init fetches the first snapshot and starts the refresh timer.
func (a *WatchApp) Init() tea.Cmd {
	return tea.Batch(a.fetch(), a.tick())
}

func (a *WatchApp) tick() tea.Cmd {
	return tea.Tick(a.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *WatchApp) fetch() tea.Cmd {
	source, timeout := a.source, a.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		snap, err := source.Fetch(ctx)
		return SnapshotMsg{Snapshot: snap, Err: err}
	}
}

// Update handles input messages.
func (a *WatchApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return a, tea.Quit
		case "r":
			return a, a.fetch()
		}
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.agents.SetHeight(max(3, msg.Height/3))
	case tickMsg:
		return a, tea.Batch(a.fetch(), a.tick())
	case SnapshotMsg:
		a.err = msg.Err
		if msg.Err == nil {
			a.snapshot = msg.Snapshot
			a.agents.SetRows(a.agentRows())
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.agents, cmd = a.agents.Update(msg)
	return a, cmd
}

func (a *WatchApp) agentRows() []table.Row {
	rows := make([]table.Row, 0, len(a.snapshot.Agents))
	for _, ag := range a.snapshot.Agents {
		category := ag.Category
		if category == "" {
			category = "-"
		}
		eps, bar := "-", ""
		if ag.HasEpsilon {
			eps = fmt.Sprintf("%.3f", ag.Epsilon)
			bar = renderBar(ag.Epsilon, 20)
		}
		rows = append(rows, table.Row{
			ag.ID,
			category,
			eps,
			bar,
			fmt.Sprintf("%d", ag.Experiences),
		})
	}
	return rows
}

// View renders the dashboard.
func (a *WatchApp) View() string {
	var b strings.Builder

	b.WriteString(a.headerStyle.Render("qlearn · fleet learning"))
	b.WriteString("\n")

	if a.err != nil {
		b.WriteString(a.errorStyle.Render("Refresh failed: " + a.err.Error()))
		b.WriteString("\n\n")
	}

	b.WriteString(a.labelStyle.Render("Agents:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d", len(a.snapshot.Agents))))
	b.WriteString("\n\n")
	b.WriteString(a.agents.View())
	b.WriteString("\n\n")

	b.WriteString(a.headerStyle.Render("Q-tables"))
	b.WriteString("\n")
	if len(a.snapshot.Scopes) == 0 {
		b.WriteString(a.dimStyle.Render("  no learned values yet"))
		b.WriteString("\n")
	}
	for _, s := range a.snapshot.Scopes {
		b.WriteString(a.labelStyle.Render(s.Scope.String()))
		b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d entries", s.Entries)))
		b.WriteString(fmt.Sprintf("  %d states  %d visits\n", s.States, s.TotalVisits))
	}

	if len(a.snapshot.Stats) > 0 {
		b.WriteString("\n")
		b.WriteString(a.headerStyle.Render("Latest windows"))
		b.WriteString("\n")
		for _, st := range a.snapshot.Stats {
			b.WriteString(a.labelStyle.Render(st.Scope.String()))
			b.WriteString(fmt.Sprintf("reward %+.3f  |Δq| %.4f  ε %.3f  (%d samples)\n",
				st.AvgReward, st.AvgValueChange, st.ExplorationRate, st.Samples))
		}
	}

	b.WriteString("\n")
	updated := "never"
	if !a.snapshot.FetchedAt.IsZero() {
		updated = a.snapshot.FetchedAt.Format("15:04:05")
	}
	b.WriteString(a.dimStyle.Render(fmt.Sprintf("updated %s · r refresh · q quit", updated)))
	return b.String()
}

// renderBar draws a fraction in [0,1] as a bar. Table cells are measured
// in runes, so the bar carries no styling.
func renderBar(frac float64, width int) string {
	if frac > 1 {
		frac = 1
	}
	if frac < 0 {
		frac = 0
	}

	filled := int(frac * float64(width))
	empty := width - filled

	return strings.Repeat("█", filled) + strings.Repeat("░", empty)
}

// Snapshot returns the last successfully fetched snapshot.
func (a *WatchApp) Snapshot() Snapshot {
	return a.snapshot
}

// NewWatchProgram creates a tea.Program running the dashboard.
func NewWatchProgram(source Source, interval time.Duration) (*tea.Program, *WatchApp) {
	app := NewWatchApp(source, interval)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
