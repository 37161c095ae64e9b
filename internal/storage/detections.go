package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/schema"
)

// DetectionStore persists and queries detection results. Inserts are
// synchronous: a verdict that cannot be stored is an error the pipeline
// must see, unlike bulk log-entry writes.
type DetectionStore struct {
	client *ClickHouseClient
}

// NewDetectionStore creates a detection store over the given client.
func NewDetectionStore(client *ClickHouseClient) *DetectionStore {
	return &DetectionStore{client: client}
}

// Insert stores one detection result. The table replaces rows by
// log_entry_id, so re-analyzing an entry converges to a single verdict
// instead of accumulating duplicates.
func (s *DetectionStore) Insert(ctx context.Context, r *schema.DetectionResult) error {
	query := `
		INSERT INTO detection_results (
			id, log_entry_id, agent_id, threat_detected, confidence_score,
			threat_type, severity, indicators, detection_method,
			recommendations, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.client.Exec(ctx, query,
		r.ID,
		r.LogEntryID,
		r.AgentID,
		boolToUInt8(r.ThreatDetected),
		r.ConfidenceScore,
		r.ThreatType,
		string(r.Severity),
		r.Indicators,
		r.DetectionMethod,
		r.Recommendations,
		r.DetectedAt,
	)
	if err != nil {
		return WrapQueryError("Insert", "detection_results", err)
	}
	return nil
}

// GetByLogEntry returns the current verdict for a log entry, or
// ErrNotFound when the entry was never analyzed.
func (s *DetectionStore) GetByLogEntry(ctx context.Context, logEntryID uuid.UUID) (*schema.DetectionResult, error) {
	query := `
		SELECT id, log_entry_id, agent_id, threat_detected, confidence_score,
		       threat_type, severity, indicators, detection_method,
		       recommendations, detected_at
		FROM detection_results FINAL
		WHERE log_entry_id = ?
	`

	rows, err := s.client.Query(ctx, query, logEntryID)
	if err != nil {
		return nil, WrapQueryError("GetByLogEntry", "detection_results", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, WrapNotFoundError("GetByLogEntry", "detection_results", logEntryID.String())
	}
	return scanDetection(rows)
}

// DetectionFilter narrows a detection query. Zero values mean "no
// constraint" except the time range, which is always required.
type DetectionFilter struct {
	Start       time.Time
	End         time.Time
	AgentID     string
	ThreatsOnly bool
	Limit       int
}

// Query returns detection results matching the filter, newest first.
func (s *DetectionStore) Query(ctx context.Context, f DetectionFilter) ([]*schema.DetectionResult, error) {
	query := `
		SELECT id, log_entry_id, agent_id, threat_detected, confidence_score,
		       threat_type, severity, indicators, detection_method,
		       recommendations, detected_at
		FROM detection_results FINAL
		WHERE detected_at >= ? AND detected_at < ?
	`
	args := []any{f.Start, f.End}

	if f.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, f.AgentID)
	}
	if f.ThreatsOnly {
		query += " AND threat_detected = 1"
	}
	query += " ORDER BY detected_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("Query", "detection_results", err)
	}
	defer rows.Close()

	var results []*schema.DetectionResult
	for rows.Next() {
		r, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// detectionRows is the subset of driver.Rows scanDetection needs.
type detectionRows interface {
	Scan(dest ...any) error
}

func scanDetection(rows detectionRows) (*schema.DetectionResult, error) {
	var (
		r              schema.DetectionResult
		threatDetected uint8
		severity       string
	)
	err := rows.Scan(
		&r.ID,
		&r.LogEntryID,
		&r.AgentID,
		&threatDetected,
		&r.ConfidenceScore,
		&r.ThreatType,
		&severity,
		&r.Indicators,
		&r.DetectionMethod,
		&r.Recommendations,
		&r.DetectedAt,
	)
	if err != nil {
		return nil, WrapQueryError("Scan", "detection_results", err)
	}
	r.ThreatDetected = threatDetected == 1
	r.Severity = schema.Severity(severity)
	return &r, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
