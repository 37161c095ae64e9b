package storage

import (
	"context"
	"encoding/json"
	"time"

	"sentinel-soc/internal/schema"
)

// ReportStore is the ClickHouse backend for cached reports. At most one
// live row exists per report type; saves replace by type with the newest
// generated_at winning.
type ReportStore struct {
	client *ClickHouseClient
}

// NewReportStore creates a report store over the given client.
func NewReportStore(client *ClickHouseClient) *ReportStore {
	return &ReportStore{client: client}
}

// Get returns the cached report for a type, or ErrNotFound.
func (s *ReportStore) Get(ctx context.Context, reportType string) (*schema.CachedReport, error) {
	query := `
		SELECT report_type, report_data, generated_at, metadata
		FROM report_cache FINAL
		WHERE report_type = ?
	`

	rows, err := s.client.Query(ctx, query, reportType)
	if err != nil {
		return nil, WrapQueryError("Get", "report_cache", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, WrapNotFoundError("Get", "report_cache", reportType)
	}
	return scanReport(rows)
}

// Save stores or replaces the cached report for its type.
func (s *ReportStore) Save(ctx context.Context, report *schema.CachedReport) error {
	data, err := json.Marshal(report.ReportData)
	if err != nil {
		return NewStorageError("Save", "report_cache", err)
	}
	var metadata []byte
	if report.Metadata != nil {
		metadata, err = json.Marshal(report.Metadata)
		if err != nil {
			return NewStorageError("Save", "report_cache", err)
		}
	}

	query := `
		INSERT INTO report_cache (report_type, report_data, generated_at, metadata)
		VALUES (?, ?, ?, ?)
	`
	err = s.client.Exec(ctx, query,
		report.ReportType,
		string(data),
		report.GeneratedAt,
		string(metadata),
	)
	if err != nil {
		return WrapQueryError("Save", "report_cache", err)
	}
	return nil
}

// Delete removes the cached report for a type. Deleting a type that was
// never cached is not an error.
func (s *ReportStore) Delete(ctx context.Context, reportType string) error {
	query := `ALTER TABLE report_cache DELETE WHERE report_type = ?`
	if err := s.client.Exec(ctx, query, reportType); err != nil {
		return WrapQueryError("Delete", "report_cache", err)
	}
	return nil
}

// DeleteAll clears the whole cache.
func (s *ReportStore) DeleteAll(ctx context.Context) error {
	if err := s.client.Exec(ctx, `TRUNCATE TABLE report_cache`); err != nil {
		return WrapQueryError("DeleteAll", "report_cache", err)
	}
	return nil
}

// List returns every cached report, newest first.
func (s *ReportStore) List(ctx context.Context) ([]*schema.CachedReport, error) {
	query := `
		SELECT report_type, report_data, generated_at, metadata
		FROM report_cache FINAL
		ORDER BY generated_at DESC
	`

	rows, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, WrapQueryError("List", "report_cache", err)
	}
	defer rows.Close()

	var reports []*schema.CachedReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func scanReport(rows detectionRows) (*schema.CachedReport, error) {
	var (
		r              schema.CachedReport
		data, metadata string
		generatedAt    time.Time
	)
	if err := rows.Scan(&r.ReportType, &data, &generatedAt, &metadata); err != nil {
		return nil, WrapQueryError("Scan", "report_cache", err)
	}
	r.GeneratedAt = generatedAt

	if err := json.Unmarshal([]byte(data), &r.ReportData); err != nil {
		return nil, NewStorageError("Scan", "report_cache", err)
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
			return nil, NewStorageError("Scan", "report_cache", err)
		}
	}
	return &r, nil
}
