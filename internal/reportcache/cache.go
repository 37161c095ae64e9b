// Package reportcache memoizes expensive aggregate report computations
// keyed by report type, with optional archival of every saved report to
// object storage.
package reportcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sentinel-soc/internal/metrics"
	"sentinel-soc/internal/schema"
	"sentinel-soc/internal/storage"
)

// Well-known report types. The cache is generic over any type string;
// these are the ones the system produces itself.
const (
	TypeMissedDetections    = "missed_detections"
	TypeThreatSummary       = "threat_summary"
	TypeAgentStatus         = "agent_status"
	TypeComplianceDashboard = "compliance_dashboard"
)

// Backend is the persistence surface. The ClickHouse report store
// implements it.
type Backend interface {
	Get(ctx context.Context, reportType string) (*schema.CachedReport, error)
	Save(ctx context.Context, report *schema.CachedReport) error
	Delete(ctx context.Context, reportType string) error
	DeleteAll(ctx context.Context) error
	List(ctx context.Context) ([]*schema.CachedReport, error)
}

// Archiver receives a copy of every saved report. Archival is
// best-effort; a failed archive never fails the save.
type Archiver interface {
	Archive(ctx context.Context, report *schema.CachedReport) error
}

// Entry describes one cached report without its payload.
type Entry struct {
	ReportType  string    `json:"report_type"`
	GeneratedAt time.Time `json:"generated_at"`
	Age         string    `json:"age"`
}

// Cache memoizes reports by type. Safe for concurrent use; all state
// lives in the backend.
type Cache struct {
	backend  Backend
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a report cache. archiver may be nil.
func New(backend Backend, archiver Archiver, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		backend:  backend,
		archiver: archiver,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the cached report for a type, or nil when none is cached.
// Only genuine backend failures surface as errors.
func (c *Cache) Get(ctx context.Context, reportType string) (*schema.CachedReport, error) {
	report, err := c.backend.Get(ctx, reportType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached report %q: %w", reportType, err)
	}
	return report, nil
}

// Save stores a report payload under its type, replacing any previous
// computation, and archives a copy when an archiver is configured.
// metadata rides along with the payload (query window, generator
// parameters) and may be nil.
func (c *Cache) Save(ctx context.Context, reportType string, data, metadata map[string]any) (*schema.CachedReport, error) {
	if reportType == "" {
		return nil, fmt.Errorf("%w: report type is required", storage.ErrInvalidData)
	}

	report := &schema.CachedReport{
		ReportType:  reportType,
		ReportData:  data,
		GeneratedAt: c.now(),
		Metadata:    metadata,
	}
	if err := c.backend.Save(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to cache report %q: %w", reportType, err)
	}
	metrics.ReportsGenerated.WithLabelValues(reportType).Inc()

	if c.archiver != nil {
		if err := c.archiver.Archive(ctx, report); err != nil {
			c.logger.Warn("report archive failed",
				"report_type", reportType,
				"error", err,
			)
		}
	}
	return report, nil
}

// Clear removes the cached report for one type.
func (c *Cache) Clear(ctx context.Context, reportType string) error {
	if err := c.backend.Delete(ctx, reportType); err != nil {
		return fmt.Errorf("failed to clear cached report %q: %w", reportType, err)
	}
	return nil
}

// ClearAll empties the cache.
func (c *Cache) ClearAll(ctx context.Context) error {
	if err := c.backend.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to clear report cache: %w", err)
	}
	return nil
}

// Info lists every cached report with its age, newest first.
func (c *Cache) Info(ctx context.Context) ([]Entry, error) {
	reports, err := c.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached reports: %w", err)
	}

	now := c.now()
	entries := make([]Entry, 0, len(reports))
	for _, r := range reports {
		entries = append(entries, Entry{
			ReportType:  r.ReportType,
			GeneratedAt: r.GeneratedAt,
			Age:         now.Sub(r.GeneratedAt).Round(time.Second).String(),
		})
	}
	return entries, nil
}
