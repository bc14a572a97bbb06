package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sl224/casparianflow-sub011/internal/wire"
)

const pollInterval = 2 * time.Second

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	// State
	health    wire.HealthzResponse
	connected bool
	jobs      []wire.JobView
	workers   []wire.WorkerView

	// UI state
	theme    Theme
	jobTable table.Model

	// Error display
	lastError string
}

// New creates a new watch TUI model.
func New(apiURL string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "ID", Width: 10},
			{Title: "Plugin", Width: 18},
			{Title: "Topic", Width: 12},
			{Title: "Worker", Width: 14},
			{Title: "Retries", Width: 7},
			{Title: "Age", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:   apiURL,
		theme:    NewDefaultTheme(),
		jobTable: t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return fetchHealth(m.apiURL) },
		func() tea.Msg { return fetchJobs(m.apiURL) },
		func() tea.Msg { return fetchWorkers(m.apiURL) },
		tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobTable.SetWidth(m.width - 6)

	case tickMsg:
		return m, tea.Batch(
			func() tea.Msg { return fetchHealth(m.apiURL) },
			func() tea.Msg { return fetchJobs(m.apiURL) },
			func() tea.Msg { return fetchWorkers(m.apiURL) },
			tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case healthMsg:
		m.health = wire.HealthzResponse(msg)
		m.connected = true
		m.lastError = ""

	case jobsMsg:
		m.jobs = msg
		m.updateTable()

	case workersMsg:
		m.workers = msg

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()
	}

	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.jobs))
	for _, j := range m.jobs {
		rows = append(rows, table.Row{
			m.statusSymbol(j.Status),
			shortID(j.ID),
			j.Plugin,
			j.Topic,
			j.WorkerHost,
			fmt.Sprintf("%d", j.RetryCount),
			formatDuration(time.Since(j.CreatedAt)),
		})
	}
	m.jobTable.SetRows(rows)
}

func (m *Model) statusSymbol(status string) string {
	switch status {
	case "queued":
		return m.theme.StatusQueued.Render("○")
	case "running":
		return m.theme.StatusRunning.Render("◉")
	case "completed":
		return m.theme.StatusOK.Render("●")
	case "failed":
		return m.theme.StatusFailed.Render("∅")
	case "cancelled":
		return m.theme.StatusCancelled.Render("◌")
	}
	return "○"
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	jobsView := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Jobs"),
			m.jobTable.View(),
		),
	)
	workersView := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Workers"),
			m.renderWorkers(),
		),
	)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll Jobs")

	parts := []string{header, jobsView, workersView}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	statusText := m.theme.StatusOK.Render("HEALTHY")
	if !m.connected {
		statusText = m.theme.StatusFailed.Render("CONNECTING")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	clock := m.theme.Dim.Render(time.Now().Format("15:04:05"))

	items := []string{
		fmt.Sprintf(" CASPARIAN WATCH  %s", statusText),
		fmt.Sprintf("Uptime: %s", formatDuration(uptime)),
		fmt.Sprintf("Queue: %d", m.health.QueueDepth),
		fmt.Sprintf("Workers: %d  %s", m.health.Workers, clock),
	}

	quarter := (m.width - 4) / 4
	return m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(quarter).Render(items[0]),
			lipgloss.NewStyle().Width(quarter).Render(items[1]),
			lipgloss.NewStyle().Width(quarter).Render(items[2]),
			lipgloss.NewStyle().Width(quarter).Render(items[3]),
		),
	)
}

func (m Model) renderWorkers() string {
	if len(m.workers) == 0 {
		return m.theme.Dim.Render("  No workers registered...")
	}

	var lines []string
	for _, w := range m.workers {
		status := w.Status
		switch w.Status {
		case "busy":
			status = m.theme.StatusRunning.Render(w.Status)
		case "idle":
			status = m.theme.StatusOK.Render(w.Status)
		case "draining":
			status = m.theme.Highlight.Render(w.Status)
		}

		job := "-"
		if w.CurrentJobID != nil {
			job = shortID(*w.CurrentJobID)
		}
		ago := time.Since(w.LastHeartbeat).Round(time.Second)
		lines = append(lines, fmt.Sprintf("  %-20s %-10s job: %-10s heartbeat: %s ago",
			w.Host, status, job, ago))
	}
	return strings.Join(lines, "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
