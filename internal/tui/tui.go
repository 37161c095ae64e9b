// Package tui implements the terminal dashboard for Sentinel-SOC.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sentinel-soc/internal/tui/api"
	"sentinel-soc/internal/tui/scenes"
	"sentinel-soc/internal/tui/styles"
)

// Scene identifies the active view
type Scene int

const (
	SceneDashboard Scene = iota
	SceneThreats
	SceneReports
)

var sceneNames = []string{"Dashboard", "Threats", "Reports"}

// Model is the root bubbletea model
type Model struct {
	scene     Scene
	dashboard *scenes.DashboardScene
	threats   *scenes.ThreatsScene
	reports   *scenes.ReportsScene
	width     int
	height    int
	quitting  bool
}

// NewModel creates the root model
func NewModel(client *api.Client) Model {
	return Model{
		scene:     SceneDashboard,
		dashboard: scenes.NewDashboardScene(client),
		threats:   scenes.NewThreatsScene(client),
		reports:   scenes.NewReportsScene(client),
	}
}

// Init starts the initial fetch and the active scene's ticker
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.threats.Init(),
		m.reports.Init(),
		m.dashboard.TickCmd(),
	)
}

// Update routes messages to the active scene
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// All scenes track the window size
		var cmds []tea.Cmd
		var cmd tea.Cmd
		m.dashboard, cmd = m.dashboard.Update(msg)
		cmds = append(cmds, cmd)
		m.threats, cmd = m.threats.Update(msg)
		cmds = append(cmds, cmd)
		m.reports, cmd = m.reports.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "1":
			return m.switchScene(SceneDashboard)
		case "2":
			return m.switchScene(SceneThreats)
		case "3":
			return m.switchScene(SceneReports)
		case "tab":
			next := Scene((int(m.scene) + 1) % len(sceneNames))
			return m.switchScene(next)
		}
		// Other keys go to the active scene
		return m.updateActiveScene(msg)

	case scenes.TickMsg:
		// Forward the tick and reschedule it only if the scene is still active
		model, cmd := m.updateActiveScene(msg)
		mm := model.(Model)
		if msg.Scene == mm.activeSceneName() {
			return mm, tea.Batch(cmd, mm.activeTickCmd())
		}
		return mm, cmd
	}

	return m.updateActiveScene(msg)
}

func (m Model) switchScene(scene Scene) (tea.Model, tea.Cmd) {
	if m.scene == scene {
		return m, nil
	}
	m.scene = scene
	// Refresh immediately and start the new scene's ticker
	var init tea.Cmd
	switch scene {
	case SceneDashboard:
		init = m.dashboard.Init()
	case SceneThreats:
		init = m.threats.Init()
	case SceneReports:
		init = m.reports.Init()
	}
	return m, tea.Batch(init, m.activeTickCmd())
}

func (m Model) activeSceneName() string {
	switch m.scene {
	case SceneThreats:
		return "threats"
	case SceneReports:
		return "reports"
	default:
		return "dashboard"
	}
}

func (m Model) activeTickCmd() tea.Cmd {
	switch m.scene {
	case SceneThreats:
		return m.threats.TickCmd()
	case SceneReports:
		return m.reports.TickCmd()
	default:
		return m.dashboard.TickCmd()
	}
}

func (m Model) updateActiveScene(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.scene {
	case SceneDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case SceneThreats:
		m.threats, cmd = m.threats.Update(msg)
	case SceneReports:
		m.reports, cmd = m.reports.Update(msg)
	}
	return m, cmd
}

// View renders the full UI
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	switch m.scene {
	case SceneDashboard:
		b.WriteString(m.dashboard.View())
	case SceneThreats:
		b.WriteString(m.threats.View())
	case SceneReports:
		b.WriteString(m.reports.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	tabs := make([]string, len(sceneNames))
	for i, name := range sceneNames {
		label := fmt.Sprintf("[%d] %s", i+1, name)
		if Scene(i) == m.scene {
			tabs[i] = styles.TabActive.Render(label)
		} else {
			tabs[i] = styles.TabInactive.Render(label)
		}
	}
	return "  " + lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderFooter() string {
	return styles.Help.Render("  [1-3] Switch scene  [tab] Next  [q] Quit")
}

// Run starts the dashboard against the given backend URL.
func Run(baseURL string) error {
	client := api.NewClient(baseURL)
	p := tea.NewProgram(NewModel(client), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
