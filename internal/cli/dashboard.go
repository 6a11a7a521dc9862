package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Dashboard panel indices.
const (
	panelTasks = iota
	panelQueue
	panelMetrics
	panelCount
)

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	// Data.
	tasks       []taskRow
	queueData   *queueSnapshot
	metricsData *metricsSnapshot

	// State.
	loading bool
	stale   bool
	err     error
}

type taskRow struct {
	id        string
	title     string
	priority  string
	completed bool
	pending   bool
	labeling  string
}

type queueSnapshot struct {
	depth  int
	state  string
	online bool
}

type metricsSnapshot struct {
	cyclesRun         int
	opsPushed         int
	opsRetried        int
	permanentFailures int
	conflictsResolved int
	eventCount        int
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	tasks   []taskRow
	queue   *queueSnapshot
	metrics *metricsSnapshot
	stale   bool
	err     error
}

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	onlineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	offlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	staleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelTasks,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(loadData, scheduleTick())
}

func scheduleTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		case "s":
			return m, triggerSync
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(loadData, scheduleTick())

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.tasks = msg.tasks
		m.queueData = msg.queue
		m.metricsData = msg.metrics
		m.stale = msg.stale
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" tasksync Dashboard ")
	help := helpStyle.Render("tab: switch panel | s: sync now | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	tasksPanel := m.renderTasksPanel()
	queuePanel := m.renderQueuePanel()
	metricsPanel := m.renderMetricsPanel()

	// Available width for panels after accounting for margins.
	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		// Horizontal layout: three columns.
		colWidth := availableWidth / 3
		tasksPanel = m.applyPanelStyle(panelTasks, tasksPanel, colWidth-4)
		queuePanel = m.applyPanelStyle(panelQueue, queuePanel, colWidth-4)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, tasksPanel, queuePanel, metricsPanel)
	} else {
		// Vertical layout: stacked.
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		tasksPanel = m.applyPanelStyle(panelTasks, tasksPanel, panelWidth)
		queuePanel = m.applyPanelStyle(panelQueue, queuePanel, panelWidth)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, tasksPanel, queuePanel, metricsPanel)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderTasksPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Tasks"))
	b.WriteString("\n")

	if len(m.tasks) == 0 {
		b.WriteString("  No tasks found.")
		return b.String()
	}

	open := 0
	for _, t := range m.tasks {
		line := fmt.Sprintf("  %-8s %s", t.priority, t.title)
		switch {
		case t.completed:
			line = completedStyle.Render(line)
		case t.pending:
			line = pendingStyle.Render(line + " (pending)")
		default:
			open++
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d", len(m.tasks)))
	if m.stale {
		b.WriteString("\n  ")
		b.WriteString(staleStyle.Render("refreshing in the background..."))
	}

	return b.String()
}

func (m dashboardModel) renderQueuePanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Sync"))
	b.WriteString("\n")

	if m.queueData == nil {
		b.WriteString("  No sync data.")
		return b.String()
	}

	conn := offlineStyle.Render("offline")
	if m.queueData.online {
		conn = onlineStyle.Render("online")
	}
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Connectivity", conn))
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Cycle state", m.queueData.state))
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "Pending ops", m.queueData.depth))

	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (7d)"))
	b.WriteString("\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	lines := []struct {
		label string
		value int
	}{
		{"Events", md.eventCount},
		{"Cycles", md.cyclesRun},
		{"Pushed", md.opsPushed},
		{"Retried", md.opsRetried},
		{"Failed", md.permanentFailures},
		{"Conflicts", md.conflictsResolved},
	}

	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-14s %d\n", l.label, l.value))
	}

	return b.String()
}

func loadData() tea.Msg {
	result := dataLoadedMsg{}

	if Engine != nil {
		listing, err := Engine.GetTasks(context.Background())
		if err != nil {
			result.err = fmt.Errorf("loading tasks: %w", err)
			return result
		}
		result.stale = listing.Stale

		tasks := listing.Tasks
		sortTasks(tasks)
		for _, t := range tasks {
			result.tasks = append(result.tasks, taskRow{
				id:        t.ID,
				title:     t.Title,
				priority:  string(t.Priority),
				completed: t.Completed,
				pending:   t.HasTempID(),
				labeling:  string(t.LabelingStatus),
			})
		}

		depth, err := Engine.QueueDepth()
		if err != nil {
			result.err = fmt.Errorf("reading queue: %w", err)
			return result
		}
		result.queue = &queueSnapshot{
			depth:  depth,
			state:  string(Engine.SyncState()),
			online: Engine.Online(),
		}
	}

	if MetricsCalc != nil {
		since := time.Now().UTC().AddDate(0, 0, -7)
		metrics, err := MetricsCalc.Calculate(since)
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			cyclesRun:         metrics.CyclesRun,
			opsPushed:         metrics.OpsPushed,
			opsRetried:        metrics.OpsRetried,
			permanentFailures: metrics.PermanentFailures,
			conflictsResolved: metrics.ConflictsResolved,
			eventCount:        metrics.EventCount,
		}
	}

	return result
}

// triggerSync kicks off a manual cycle and reloads the data once it ends.
func triggerSync() tea.Msg {
	if Engine == nil {
		return dataLoadedMsg{err: fmt.Errorf("sync engine not initialized")}
	}
	if _, err := Engine.Refresh(context.Background()); err != nil {
		return dataLoadedMsg{err: fmt.Errorf("sync failed: %w", err)}
	}
	return loadData()
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI dashboard for tasks, queue, and sync metrics",
	Long: `Launch an interactive terminal dashboard showing the local task list,
the pending operation queue, and sync metrics in a live-updating view.

Navigate between panels with Tab, trigger a sync with s, refresh with r,
quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("sync engine not initialized")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
