package schema

import (
	"time"

	"github.com/google/uuid"
)

// DetectionThreshold is the single threat-detection threshold used across
// the whole process. The fusion engine, reports, and any code that
// re-derives a verdict from a stored score must use this constant.
const DetectionThreshold = 0.3

// Severity buckets a confidence score into an operator-facing level.
type Severity string

const (
	SeverityBenign   Severity = "benign"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityBenign, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// severityRank orders severities for comparisons and bumping.
var severityRank = map[Severity]int{
	SeverityBenign:   0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Bump raises the severity by one level, capped at critical.
func (s Severity) Bump() Severity {
	switch s {
	case SeverityBenign:
		return SeverityLow
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// ScoreToSeverity maps a fused confidence score to a severity bucket.
// Cut points are fixed; they are part of the verdict contract.
func ScoreToSeverity(score float64) Severity {
	switch {
	case score >= 0.8:
		return SeverityCritical
	case score >= 0.6:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	case score >= 0.2:
		return SeverityLow
	default:
		return SeverityBenign
	}
}

// DetectionResult is the analysis verdict for exactly one LogEntry.
// Created once by the fusion engine and never mutated afterwards.
type DetectionResult struct {
	ID              uuid.UUID `json:"id"`
	LogEntryID      uuid.UUID `json:"log_entry_id"`
	AgentID         string    `json:"agent_id"`
	ThreatDetected  bool      `json:"threat_detected"`
	ConfidenceScore float64   `json:"confidence_score"`
	ThreatType      string    `json:"threat_type"`
	Severity        Severity  `json:"severity"`
	Indicators      []string  `json:"indicators"`
	DetectionMethod string    `json:"detection_method"`
	Recommendations []string  `json:"recommendations,omitempty"`
	DetectedAt      time.Time `json:"detected_at"`
}
