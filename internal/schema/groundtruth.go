package schema

import (
	"time"

	"github.com/google/uuid"
)

// RedTeamAttack records one authorized attack simulation. It is the
// strongest ground-truth evidence: an attack that was expected to be
// detected and was not is a confirmed miss.
type RedTeamAttack struct {
	ID                uuid.UUID  `json:"id"`
	ScenarioID        string     `json:"scenario_id"`
	AttackType        string     `json:"attack_type"`
	TargetAgentID     string     `json:"target_agent_id"`
	AttackTimestamp   time.Time  `json:"attack_timestamp"`
	ExpectedDetection bool       `json:"expected_detection"`
	WasDetected       bool       `json:"was_detected"`
	DetectionID       *uuid.UUID `json:"detection_id,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ReviewVerdict is a human analyst's judgement on a log entry.
type ReviewVerdict string

const (
	VerdictThreat  ReviewVerdict = "threat"
	VerdictBenign  ReviewVerdict = "benign"
	VerdictUnclear ReviewVerdict = "unclear"
)

// IsValid checks if the verdict is a valid value.
func (v ReviewVerdict) IsValid() bool {
	switch v {
	case VerdictThreat, VerdictBenign, VerdictUnclear:
		return true
	}
	return false
}

// AnalystReview is an append-only human review of a log entry.
// DetectionResultID is nil when the analyst flagged something the
// pipeline never produced a verdict for.
type AnalystReview struct {
	ID                uuid.UUID     `json:"id"`
	LogEntryID        uuid.UUID     `json:"log_entry_id"`
	DetectionResultID *uuid.UUID    `json:"detection_result_id,omitempty"`
	Verdict           ReviewVerdict `json:"verdict"`
	Confidence        int           `json:"confidence"` // 1-5
	ThreatType        string        `json:"threat_type,omitempty"`
	Notes             string        `json:"notes,omitempty"`
	ReviewedBy        string        `json:"reviewed_by"`
	ReviewedAt        time.Time     `json:"reviewed_at"`
}

// IndicatorType categorizes threat-intel indicators.
type IndicatorType string

const (
	IndicatorIP      IndicatorType = "ip"
	IndicatorHash    IndicatorType = "hash"
	IndicatorDomain  IndicatorType = "domain"
	IndicatorPattern IndicatorType = "pattern"
)

// IsValid checks if the indicator type is a valid value.
func (t IndicatorType) IsValid() bool {
	switch t {
	case IndicatorIP, IndicatorHash, IndicatorDomain, IndicatorPattern:
		return true
	}
	return false
}

// AttackIndicator is a known-bad artifact from threat intelligence.
// Matching is a substring/exact-match contract only; this is not a full
// IOC engine.
type AttackIndicator struct {
	ID             uuid.UUID     `json:"id"`
	IndicatorType  IndicatorType `json:"indicator_type"`
	IndicatorValue string        `json:"indicator_value"`
	ThreatType     string        `json:"threat_type"`
	Severity       Severity      `json:"severity"`
	Source         string        `json:"source"`
	FirstSeen      time.Time     `json:"first_seen"`
	LastSeen       time.Time     `json:"last_seen"`
	Active         bool          `json:"active"`
}

// CachedReport is one memoized aggregate report. At most one live row
// exists per report type; a save overwrites the previous computation.
type CachedReport struct {
	ReportType  string         `json:"report_type"`
	ReportData  map[string]any `json:"report"`
	GeneratedAt time.Time      `json:"generated_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
