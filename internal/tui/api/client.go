// Package api provides the HTTP client the dashboard uses to talk to
// the Sentinel-SOC backend.
package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client handles API communication with the analysis backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	UptimeSeconds int    `json:"uptime_seconds"`
}

// Stats represents the pipeline statistics shown on the dashboard.
type Stats struct {
	Healthy      bool
	HealthStatus string
	StatusReason string

	QueueDepth    int
	QueueCapacity int
	QueueUsage    float64
	Uptime        string
	UptimeSeconds int

	EntriesIngested int64
	EntriesAnalyzed int64
	EntriesDropped  int64
	ThreatsTotal    int64
}

// Detection represents one detection verdict.
type Detection struct {
	ID              string    `json:"id"`
	LogEntryID      string    `json:"log_entry_id"`
	AgentID         string    `json:"agent_id"`
	ThreatDetected  bool      `json:"threat_detected"`
	ConfidenceScore float64   `json:"confidence_score"`
	ThreatType      string    `json:"threat_type"`
	Severity        string    `json:"severity"`
	Indicators      []string  `json:"indicators"`
	DetectedAt      time.Time `json:"detected_at"`
}

// DetectionsResponse is the payload of GET /v1/detections.
type DetectionsResponse struct {
	Detections []Detection `json:"detections"`
	Count      int         `json:"count"`
}

// MissedReport is the missed-detection report payload.
type MissedReport struct {
	TotalMissed float64 `json:"total_missed"`
	Breakdown   struct {
		RedTeamAttacks    float64 `json:"red_team_attacks"`
		AnalystConfirmed  float64 `json:"analyst_confirmed"`
		KnownIOCs         float64 `json:"known_iocs"`
		HeuristicEstimate float64 `json:"heuristic_estimate"`
	} `json:"breakdown"`
	Confidence  string `json:"confidence"`
	DataQuality struct {
		HasGroundTruth    bool `json:"has_ground_truth"`
		HasAnalystReviews bool `json:"has_analyst_reviews"`
		HasThreatIntel    bool `json:"has_threat_intel"`
		IsEstimated       bool `json:"is_estimated"`
	} `json:"data_quality"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	GeneratedAt string `json:"generated_at"`
	Degraded    bool   `json:"degraded"`
}

// MissedReportResponse wraps the report with its cache status.
type MissedReportResponse struct {
	Cached bool         `json:"cached"`
	Report MissedReport `json:"report"`
}

// GetHealth fetches health status.
func (c *Client) GetHealth() (*HealthResponse, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &health, nil
}

// GetThreats fetches the most recent positive detections.
func (c *Client) GetThreats(limit int) (*DetectionsResponse, error) {
	url := fmt.Sprintf("%s/v1/detections?threats_only=true&limit=%d", c.baseURL, limit)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %s", resp.Status)
	}

	var out DetectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// GetMissedReport fetches the missed-detection report. refresh forces a
// recount instead of serving the cached computation.
func (c *Client) GetMissedReport(refresh bool) (*MissedReportResponse, error) {
	url := c.baseURL + "/v1/reports/missed-detections"
	if refresh {
		url += "?refresh=true"
	}
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %s", resp.Status)
	}

	var out MissedReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// parsePrometheusMetrics parses Prometheus-format metrics, summing
// series that share a base name across label sets.
func parsePrometheusMetrics(body string) map[string]float64 {
	metrics := make(map[string]float64)
	scanner := bufio.NewScanner(strings.NewReader(body))

	for scanner.Scan() {
		line := scanner.Text()
		// Skip comments and empty lines
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		name := parts[0]
		if i := strings.IndexByte(name, '{'); i >= 0 {
			name = name[:i]
		}
		if val, err := strconv.ParseFloat(parts[len(parts)-1], 64); err == nil {
			metrics[name] += val
		}
	}
	return metrics
}

// GetStats fetches combined stats for the dashboard.
func (c *Client) GetStats() (*Stats, error) {
	health, healthErr := c.GetHealth()

	stats := &Stats{
		Healthy:      false,
		HealthStatus: "unknown",
		StatusReason: "Unable to connect to backend",
	}

	if healthErr != nil {
		stats.StatusReason = healthErr.Error()
		return stats, nil
	}

	stats.HealthStatus = health.Status
	stats.Healthy = health.Status == "healthy"
	stats.QueueDepth = health.QueueDepth
	stats.QueueCapacity = health.QueueCapacity
	stats.UptimeSeconds = health.UptimeSeconds
	stats.Uptime = formatUptime(float64(health.UptimeSeconds))

	if health.QueueCapacity > 0 {
		stats.QueueUsage = float64(health.QueueDepth) / float64(health.QueueCapacity) * 100
	}

	if health.Status == "degraded" {
		stats.StatusReason = fmt.Sprintf("Queue at %.0f%% capacity", stats.QueueUsage)
	} else if stats.Healthy {
		stats.StatusReason = "All systems operational"
	}

	// Counters come from the Prometheus endpoint; the dashboard stays
	// usable without it.
	resp, err := c.httpClient.Get(c.baseURL + "/metrics")
	if err == nil {
		defer resp.Body.Close()
		buf := new(strings.Builder)
		buf.Grow(4096)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			buf.WriteString(scanner.Text())
			buf.WriteString("\n")
		}
		metrics := parsePrometheusMetrics(buf.String())

		stats.EntriesIngested = int64(metrics["sentinel_entries_ingested_total"])
		stats.EntriesAnalyzed = int64(metrics["sentinel_entries_analyzed_total"])
		stats.EntriesDropped = int64(metrics["sentinel_entries_dropped_total"])
		stats.ThreatsTotal = int64(metrics["sentinel_threats_detected_total"])
	}

	return stats, nil
}

func formatUptime(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
