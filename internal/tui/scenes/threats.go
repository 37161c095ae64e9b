package scenes

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sentinel-soc/internal/tui/api"
	"sentinel-soc/internal/tui/styles"
)

// ThreatsScene displays recent positive detections.
type ThreatsScene struct {
	client     *api.Client
	threats    []api.Detection
	err        string
	width      int
	height     int
	cursor     int
	offset     int
	loading    bool
	maxRows    int
	lastUpdate time.Time
}

// threatsMsg carries updated detections
type threatsMsg struct {
	threats []api.Detection
	err     string
}

// NewThreatsScene creates a new threats scene
func NewThreatsScene(client *api.Client) *ThreatsScene {
	return &ThreatsScene{
		client:  client,
		loading: true,
		maxRows: 10,
	}
}

// Init initializes the threats scene
func (t *ThreatsScene) Init() tea.Cmd {
	return t.fetchThreats()
}

func (t *ThreatsScene) fetchThreats() tea.Cmd {
	return func() tea.Msg {
		resp, err := t.client.GetThreats(100)
		if err != nil {
			return threatsMsg{err: err.Error()}
		}
		return threatsMsg{threats: resp.Detections}
	}
}

// TickCmd returns a command that ticks every interval
func (t *ThreatsScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(tm time.Time) tea.Msg {
		return TickMsg{Scene: "threats", Time: tm}
	})
}

// Update handles messages for the threats scene
func (t *ThreatsScene) Update(msg tea.Msg) (*ThreatsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		t.width = msg.Width
		t.height = msg.Height
		t.maxRows = max(5, t.height-12)
		return t, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if t.cursor > 0 {
				t.cursor--
				if t.cursor < t.offset {
					t.offset = t.cursor
				}
			}
		case "down", "j":
			if t.cursor < len(t.threats)-1 {
				t.cursor++
				if t.cursor >= t.offset+t.maxRows {
					t.offset = t.cursor - t.maxRows + 1
				}
			}
		case "pgup":
			t.cursor = max(0, t.cursor-t.maxRows)
			t.offset = max(0, t.offset-t.maxRows)
		case "pgdown":
			t.cursor = min(len(t.threats)-1, t.cursor+t.maxRows)
			t.offset = min(max(0, len(t.threats)-t.maxRows), t.offset+t.maxRows)
		case "r":
			// Manual refresh
			t.loading = true
			return t, t.fetchThreats()
		}
		return t, nil

	case threatsMsg:
		t.loading = false
		t.threats = msg.threats
		t.err = msg.err
		t.lastUpdate = time.Now()
		// Reset cursor if out of bounds
		if t.cursor >= len(t.threats) {
			t.cursor = max(0, len(t.threats)-1)
		}
		return t, nil

	case TickMsg:
		if msg.Scene == "threats" {
			return t, t.fetchThreats()
		}
		return t, nil
	}

	return t, nil
}

// View renders the threat list
func (t *ThreatsScene) View() string {
	var b strings.Builder

	title := styles.Title.Render("  Detected Threats")
	b.WriteString(title)
	b.WriteString("\n\n")

	if t.loading && len(t.threats) == 0 {
		b.WriteString(styles.Muted.Render("  Loading detections..."))
		return b.String()
	}

	if t.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", t.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if len(t.threats) == 0 {
		b.WriteString(styles.Muted.Render("  No threats detected in the last 24 hours."))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Detections appear here as the fusion engine flags ingested entries."))
		return b.String()
	}

	countText := fmt.Sprintf("  Showing %d threats", len(t.threats))
	b.WriteString(styles.Subtitle.Render(countText))
	if t.loading {
		b.WriteString(styles.Muted.Render("  (refreshing...)"))
	}
	b.WriteString("\n\n")

	header := fmt.Sprintf("  %-10s %-10s %-6s %-22s %-14s %s",
		"Time", "Severity", "Score", "Threat Type", "Agent", "Indicators")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(t.offset+t.maxRows, len(t.threats))
	for i, det := range t.threats[t.offset:endIdx] {
		idx := t.offset + i
		b.WriteString(t.renderThreatRow(det, idx == t.cursor))
		b.WriteString("\n")
	}

	if len(t.threats) > t.maxRows {
		scrollInfo := fmt.Sprintf("\n  %d-%d of %d (↑↓ to scroll, [r] refresh)",
			t.offset+1, endIdx, len(t.threats))
		b.WriteString(styles.Muted.Render(scrollInfo))
	} else {
		b.WriteString(styles.Muted.Render("\n  [r] Refresh"))
	}

	if !t.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", t.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (t *ThreatsScene) renderThreatRow(det api.Detection, selected bool) string {
	severity := styles.SeverityStyle(det.Severity).Render(fmt.Sprintf("%-10s", strings.ToUpper(det.Severity)))
	row := fmt.Sprintf("  %-10s %s %-6.2f %-22s %-14s %s",
		det.DetectedAt.Format("15:04:05"),
		severity,
		det.ConfidenceScore,
		truncate(det.ThreatType, 22),
		truncate(det.AgentID, 14),
		truncate(strings.Join(det.Indicators, ", "), 40),
	)

	if selected {
		return lipgloss.NewStyle().
			Background(styles.Primary).
			Foreground(styles.White).
			Render(row)
	}
	return row
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
