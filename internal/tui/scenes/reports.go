package scenes

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"sentinel-soc/internal/tui/api"
	"sentinel-soc/internal/tui/styles"
)

// ReportsScene displays the missed-detection reconciliation report.
type ReportsScene struct {
	client     *api.Client
	report     *api.MissedReport
	cached     bool
	err        string
	width      int
	height     int
	loading    bool
	refreshing bool
	lastUpdate time.Time
}

// reportMsg carries an updated missed-detection report
type reportMsg struct {
	report *api.MissedReport
	cached bool
	err    string
}

// NewReportsScene creates a new reports scene
func NewReportsScene(client *api.Client) *ReportsScene {
	return &ReportsScene{
		client:  client,
		loading: true,
	}
}

// Init initializes the reports scene
func (r *ReportsScene) Init() tea.Cmd {
	return r.fetchReport(false)
}

func (r *ReportsScene) fetchReport(refresh bool) tea.Cmd {
	return func() tea.Msg {
		resp, err := r.client.GetMissedReport(refresh)
		if err != nil {
			return reportMsg{err: err.Error()}
		}
		return reportMsg{report: &resp.Report, cached: resp.Cached}
	}
}

// TickCmd returns a command that ticks every interval
func (r *ReportsScene) TickCmd() tea.Cmd {
	return tea.Tick(30*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "reports", Time: t}
	})
}

// Update handles messages for the reports scene
func (r *ReportsScene) Update(msg tea.Msg) (*ReportsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		r.width = msg.Width
		r.height = msg.Height
		return r, nil

	case tea.KeyMsg:
		if msg.String() == "r" {
			// Force a full recount on the backend
			r.refreshing = true
			return r, r.fetchReport(true)
		}
		return r, nil

	case reportMsg:
		r.loading = false
		r.refreshing = false
		r.err = msg.err
		if msg.report != nil {
			r.report = msg.report
			r.cached = msg.cached
		}
		r.lastUpdate = time.Now()
		return r, nil

	case TickMsg:
		if msg.Scene == "reports" {
			return r, r.fetchReport(false)
		}
		return r, nil
	}

	return r, nil
}

// View renders the missed-detection report
func (r *ReportsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Missed Detections"))
	b.WriteString("\n\n")

	if r.loading {
		b.WriteString(styles.Muted.Render("  Computing report..."))
		return b.String()
	}

	if r.err != "" && r.report == nil {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", r.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	rep := r.report

	totalStyle := styles.StatusOK
	if rep.TotalMissed > 0 {
		totalStyle = styles.StatusError
	}
	b.WriteString(fmt.Sprintf("  Total missed: %s",
		totalStyle.Render(fmt.Sprintf("%.0f", rep.TotalMissed))))
	b.WriteString(styles.Muted.Render(fmt.Sprintf("   confidence: %s", rep.Confidence)))
	if r.cached {
		b.WriteString(styles.Muted.Render("   (cached)"))
	}
	if r.refreshing {
		b.WriteString(styles.Muted.Render("   recounting..."))
	}
	b.WriteString("\n\n")

	b.WriteString(styles.Subtitle.Render("  Breakdown by Source"))
	b.WriteString("\n")
	b.WriteString(r.renderBreakdownRow("Red-team attacks", rep.Breakdown.RedTeamAttacks))
	b.WriteString(r.renderBreakdownRow("Analyst confirmed", rep.Breakdown.AnalystConfirmed))
	b.WriteString(r.renderBreakdownRow("Known IOC matches", rep.Breakdown.KnownIOCs))
	b.WriteString(r.renderBreakdownRow("Heuristic estimate", rep.Breakdown.HeuristicEstimate))
	b.WriteString("\n")

	b.WriteString(styles.Subtitle.Render("  Data Quality"))
	b.WriteString("\n")
	b.WriteString(r.renderQualityRow("Ground truth", rep.DataQuality.HasGroundTruth))
	b.WriteString(r.renderQualityRow("Analyst reviews", rep.DataQuality.HasAnalystReviews))
	b.WriteString(r.renderQualityRow("Threat intel", rep.DataQuality.HasThreatIntel))
	if rep.DataQuality.IsEstimated {
		b.WriteString("  " + styles.StatusWarning.Render("! heuristic estimate only") + "\n")
	}
	b.WriteString("\n")

	if rep.Degraded {
		b.WriteString("  " + styles.StatusWarning.Render("⚠ Some ground-truth sources were unreachable; counts may be low."))
		b.WriteString("\n\n")
	}

	b.WriteString(styles.Muted.Render(fmt.Sprintf("  Window: %s - %s",
		formatReportTime(rep.WindowStart), formatReportTime(rep.WindowEnd))))
	b.WriteString("\n")
	b.WriteString(styles.Muted.Render(fmt.Sprintf("  Generated: %s", formatReportTime(rep.GeneratedAt))))
	b.WriteString("\n\n")
	b.WriteString(styles.Muted.Render("  [r] Force recount"))
	if !r.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Fetched: %s", r.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (r *ReportsScene) renderBreakdownRow(label string, count float64) string {
	style := styles.Muted
	if count > 0 {
		style = styles.StatusWarning
	}
	return fmt.Sprintf("  %-22s %s\n", label, style.Render(fmt.Sprintf("%.0f", count)))
}

func (r *ReportsScene) renderQualityRow(label string, present bool) string {
	mark := styles.StatusError.Render("✗")
	if present {
		mark = styles.StatusOK.Render("✓")
	}
	return fmt.Sprintf("  %s %s\n", mark, label)
}

func formatReportTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("Jan 2 15:04")
}
