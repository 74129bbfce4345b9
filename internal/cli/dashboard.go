package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/duealert/pkg/models"
)

// Dashboard panel indices.
const (
	panelBacklog = iota
	panelMetrics
	panelHealth
	panelCount
)

const dashboardRefresh = 5 * time.Second

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	// Data.
	backlog     backlogSnapshot
	metricsData *metricsSnapshot
	alerts      []alertSnapshot

	// State.
	loading bool
	err     error
}

type backlogSnapshot struct {
	capability string
	queued     int
	overdue    int
	upcoming   int
	open       int
	completed  int
}

type metricsSnapshot struct {
	delivered  int
	suppressed int
	failed     int
	expired    int
	replayed   int
	pending    int
	eventCount int
	byChannel  map[string]int
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	backlog backlogSnapshot
	metrics *metricsSnapshot
	alerts  []alertSnapshot
	err     error
}

type refreshTickMsg struct{}

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

	overdueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	upcomingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelBacklog,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(loadData, scheduleRefresh())
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(dashboardRefresh, func(time.Time) tea.Msg { return refreshTickMsg{} })
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
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshTickMsg:
		return m, tea.Batch(loadData, scheduleRefresh())

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.backlog = msg.backlog
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" duealert ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	backlogPanel := m.renderBacklogPanel()
	metricsPanel := m.renderMetricsPanel()
	healthPanel := m.renderHealthPanel()

	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / 3
		backlogPanel = m.applyPanelStyle(panelBacklog, backlogPanel, colWidth-4)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, colWidth-4)
		healthPanel = m.applyPanelStyle(panelHealth, healthPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, backlogPanel, metricsPanel, healthPanel)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		backlogPanel = m.applyPanelStyle(panelBacklog, backlogPanel, panelWidth)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, panelWidth)
		healthPanel = m.applyPanelStyle(panelHealth, healthPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, backlogPanel, metricsPanel, healthPanel)
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

func (m dashboardModel) renderBacklogPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Backlog"))
	b.WriteString("\n")

	bl := m.backlog
	b.WriteString(overdueStyle.Render(fmt.Sprintf("  %-14s %d", "overdue", bl.overdue)))
	b.WriteString("\n")
	b.WriteString(upcomingStyle.Render(fmt.Sprintf("  %-14s %d", "due soon", bl.upcoming)))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %-14s %d", "open", bl.open)))
	b.WriteString("\n")
	b.WriteString(doneStyle.Render(fmt.Sprintf("  %-14s %d", "completed", bl.completed)))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "  %-14s %d\n", "Queued actions", bl.queued)
	capability := bl.capability
	if capability == "" {
		capability = string(models.CapabilityUndetermined)
	}
	fmt.Fprintf(&b, "  %-14s %s", "Desktop", capability)

	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (24h)"))
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
		{"Delivered", md.delivered},
		{"Suppressed", md.suppressed},
		{"Failed", md.failed},
		{"Expired", md.expired},
		{"Replayed", md.replayed},
		{"Pending", md.pending},
	}
	for _, l := range lines {
		fmt.Fprintf(&b, "  %-14s %d\n", l.label, l.value)
	}

	if len(md.byChannel) > 0 {
		channels := make([]string, 0, len(md.byChannel))
		for ch := range md.byChannel {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		b.WriteString("\n")
		for _, ch := range channels {
			fmt.Fprintf(&b, "    %-12s %d\n", ch, md.byChannel[ch])
		}
	}

	return b.String()
}

func (m dashboardModel) renderHealthPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Health"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  All clear.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		fmt.Fprintf(&b, "  %s %s\n", sev, a.message)
	}

	fmt.Fprintf(&b, "\n  Total: %d alert(s)", len(m.alerts))

	return b.String()
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

func loadData() tea.Msg {
	result := dataLoadedMsg{}
	now := time.Now()

	if Due != nil {
		if err := Due.Load(); err != nil {
			result.err = fmt.Errorf("loading due backlog: %w", err)
			return result
		}
		window := 24 * time.Hour
		if Config != nil && Config.Scanner.Window > 0 {
			window = Config.Scanner.Window
		}
		for _, it := range Due.All() {
			switch {
			case it.Completed():
				result.backlog.completed++
			case it.DueAt != nil && it.DueAt.Before(now):
				result.backlog.overdue++
			case it.DueAt != nil && it.DueAt.Before(now.Add(window)):
				result.backlog.upcoming++
			default:
				result.backlog.open++
			}
		}
	}

	if Capability != nil {
		state, err := Capability.Load()
		if err == nil {
			result.backlog.capability = string(state)
		}
	}

	if Engine != nil {
		actions, err := Engine.PendingActions(context.Background())
		if err != nil {
			result.err = fmt.Errorf("loading queued actions: %w", err)
			return result
		}
		result.backlog.queued = len(actions)
	}

	if MetricsCalc != nil {
		metrics, err := MetricsCalc.Calculate(now.UTC().Add(-24 * time.Hour))
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			delivered:  metrics.AlertsDelivered,
			suppressed: metrics.AlertsSuppressed,
			failed:     metrics.AlertsFailed,
			expired:    metrics.AlertsExpired,
			replayed:   metrics.ActionsReplayed,
			pending:    metrics.Pending(),
			eventCount: metrics.EventCount,
			byChannel:  metrics.DeliveredByChannel,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading health alerts: %w", err)
			return result
		}
		result.alerts = make([]alertSnapshot, 0, len(alerts))

		sort.SliceStable(alerts, func(i, j int) bool {
			return severityRank(string(alerts[i].Severity)) < severityRank(string(alerts[j].Severity))
		})

		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	return result
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI dashboard for the backlog, queue and delivery health",
	Long: `Launch an interactive terminal dashboard showing due-item counts, the
offline action queue, delivery metrics and health alerts. The view refreshes
every few seconds.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
