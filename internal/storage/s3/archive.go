package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"sentinel-soc/internal/schema"
)

// Uploader is the part of Client the archiver uses. Tests substitute an
// in-memory implementation.
type Uploader interface {
	Upload(ctx context.Context, input *UploadInput) (*UploadOutput, error)
}

// ArchiverConfig configures the report archiver.
type ArchiverConfig struct {
	// Compress gzips report payloads before upload.
	Compress bool `json:"compress" yaml:"compress"`

	// PathTemplate for archive keys (supports {type}, {date}, {time}).
	PathTemplate string `json:"path_template" yaml:"path_template"`
}

// DefaultArchiverConfig returns default archiver configuration.
func DefaultArchiverConfig() *ArchiverConfig {
	return &ArchiverConfig{
		Compress:     true,
		PathTemplate: "{type}/{date}/{time}.json.gz",
	}
}

// Archiver writes each generated report to object storage so refreshed
// cache rows do not erase history. Archival is best effort: the caller
// treats failures as log-worthy, not fatal.
type Archiver struct {
	uploader Uploader
	config   *ArchiverConfig
	logger   *slog.Logger

	archived atomic.Int64
	failed   atomic.Int64
}

// NewArchiver creates a new report archiver.
func NewArchiver(uploader Uploader, cfg *ArchiverConfig, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		uploader: uploader,
		config:   cfg,
		logger:   logger,
	}
}

// Archive uploads one report snapshot.
func (a *Archiver) Archive(ctx context.Context, report *schema.CachedReport) error {
	payload := struct {
		ReportType  string         `json:"report_type"`
		Report      map[string]any `json:"report"`
		GeneratedAt time.Time      `json:"generated_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		ReportType:  report.ReportType,
		Report:      report.ReportData,
		GeneratedAt: report.GeneratedAt,
		Metadata:    report.Metadata,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		a.failed.Add(1)
		return fmt.Errorf("s3: failed to marshal report %s: %w", report.ReportType, err)
	}

	contentType := "application/json"
	if a.config.Compress {
		data, err = gzipBytes(data)
		if err != nil {
			a.failed.Add(1)
			return fmt.Errorf("s3: failed to compress report %s: %w", report.ReportType, err)
		}
		contentType = "application/gzip"
	}

	key := a.archiveKey(report)
	_, err = a.uploader.Upload(ctx, &UploadInput{
		Key:         key,
		Body:        bytes.NewReader(data),
		ContentType: contentType,
		Metadata: map[string]string{
			"report-type":  report.ReportType,
			"generated-at": report.GeneratedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		a.failed.Add(1)
		return err
	}

	a.archived.Add(1)
	a.logger.Debug("archived report",
		"report_type", report.ReportType,
		"key", key,
		"bytes", len(data),
	)
	return nil
}

// archiveKey builds the object key for one report snapshot.
func (a *Archiver) archiveKey(report *schema.CachedReport) string {
	at := report.GeneratedAt.UTC()

	key := a.config.PathTemplate
	key = strings.ReplaceAll(key, "{type}", report.ReportType)
	key = strings.ReplaceAll(key, "{date}", at.Format("2006/01/02"))
	key = strings.ReplaceAll(key, "{time}", at.Format("150405"))

	if !a.config.Compress {
		key = strings.TrimSuffix(key, ".gz")
	}
	return key
}

// ArchiverMetrics contains archiver counters.
type ArchiverMetrics struct {
	Archived int64
	Failed   int64
}

// GetMetrics returns current archiver metrics.
func (a *Archiver) GetMetrics() ArchiverMetrics {
	return ArchiverMetrics{
		Archived: a.archived.Load(),
		Failed:   a.failed.Load(),
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
