// Package reconcile implements ground-truth reconciliation: counting the
// threats the detection pipeline missed, from four evidence sources of
// descending trustworthiness, with an honest confidence tier attached.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/schema"
	"sentinel-soc/internal/storage"
)

// Confidence tiers, ordered by evidentiary strength. A single red-team
// miss outranks any number of heuristic guesses.
const (
	ConfidenceVeryHigh = "very_high"
	ConfidenceHigh     = "high"
	ConfidenceMedium   = "medium"
	ConfidenceLow      = "low"
	ConfidenceUnknown  = "unknown"
)

// DefaultHeuristicKeywords flag a log entry as a plausible miss when it
// sits at warning level or above and no detection fired.
var DefaultHeuristicKeywords = []string{
	"failed", "error", "attack", "malicious", "suspicious",
	"breach", "unauthorized", "exploit", "intrusion",
}

// GroundTruthStore is the persistence surface the engine reads and
// writes. The ClickHouse ground-truth store implements it.
type GroundTruthStore interface {
	InsertAttack(ctx context.Context, a *schema.RedTeamAttack) error
	MarkAttackDetected(ctx context.Context, attackID, detectionID uuid.UUID) error
	InsertReview(ctx context.Context, r *schema.AnalystReview) error
	UpsertIndicator(ctx context.Context, ind *schema.AttackIndicator) error

	CountMissedAttacks(ctx context.Context, start, end time.Time) (uint64, error)
	CountAnalystMisses(ctx context.Context, start, end time.Time) (uint64, error)
	CountIndicatorMisses(ctx context.Context, start, end time.Time) (uint64, error)
	CountHeuristicMisses(ctx context.Context, start, end time.Time, keywords []string) (uint64, error)
}

// Breakdown splits the total missed count by evidence source.
type Breakdown struct {
	RedTeamAttacks    uint64 `json:"red_team_attacks"`
	AnalystConfirmed  uint64 `json:"analyst_confirmed"`
	KnownIOCs         uint64 `json:"known_iocs"`
	HeuristicEstimate uint64 `json:"heuristic_estimate"`
}

// DataQuality tells report consumers how much to trust the number.
type DataQuality struct {
	HasGroundTruth    bool `json:"has_ground_truth"`
	HasAnalystReviews bool `json:"has_analyst_reviews"`
	HasThreatIntel    bool `json:"has_threat_intel"`
	IsEstimated       bool `json:"is_estimated"`
}

// MissedCountReport is the output of one reconciliation pass.
type MissedCountReport struct {
	TotalMissed uint64      `json:"total_missed"`
	Breakdown   Breakdown   `json:"breakdown"`
	Confidence  string      `json:"confidence"`
	DataQuality DataQuality `json:"data_quality"`
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
	GeneratedAt time.Time   `json:"generated_at"`
	// Degraded is set when one or more evidence reads failed and their
	// counts were zeroed rather than failing the whole report.
	Degraded bool `json:"degraded,omitempty"`
}

// ToMap renders the report as a JSON-compatible payload for the report
// cache.
func (r *MissedCountReport) ToMap() map[string]any {
	return map[string]any{
		"total_missed": r.TotalMissed,
		"breakdown": map[string]any{
			"red_team_attacks":   r.Breakdown.RedTeamAttacks,
			"analyst_confirmed":  r.Breakdown.AnalystConfirmed,
			"known_iocs":         r.Breakdown.KnownIOCs,
			"heuristic_estimate": r.Breakdown.HeuristicEstimate,
		},
		"confidence": r.Confidence,
		"data_quality": map[string]any{
			"has_ground_truth":    r.DataQuality.HasGroundTruth,
			"has_analyst_reviews": r.DataQuality.HasAnalystReviews,
			"has_threat_intel":    r.DataQuality.HasThreatIntel,
			"is_estimated":        r.DataQuality.IsEstimated,
		},
		"window_start": r.WindowStart.Format(time.RFC3339),
		"window_end":   r.WindowEnd.Format(time.RFC3339),
		"generated_at": r.GeneratedAt.Format(time.RFC3339),
		"degraded":     r.Degraded,
	}
}

// Config tunes the reconciliation engine.
type Config struct {
	// HeuristicKeywords overrides the default heuristic keyword list.
	HeuristicKeywords []string `yaml:"heuristic_keywords"`
}

// Engine computes missed-detection reports and records ground truth.
// Safe for concurrent use; it holds no mutable state of its own.
type Engine struct {
	store    GroundTruthStore
	keywords []string
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a reconciliation engine over a ground-truth store.
func NewEngine(cfg Config, store GroundTruthStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	keywords := cfg.HeuristicKeywords
	if len(keywords) == 0 {
		keywords = DefaultHeuristicKeywords
	}
	return &Engine{
		store:    store,
		keywords: keywords,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ComprehensiveMissedCount computes the best-available missed-detection
// count for the window. A failed evidence read never fails the report:
// the affected count is zeroed, the report is marked degraded, and the
// confidence tier reflects only the evidence that survived.
//
// Red-team, analyst, and IOC counts are summed as non-overlapping ground
// truths. Only the heuristic count excludes analyst-covered entries; an
// IOC row and an analyst row describing the same entry both count.
func (e *Engine) ComprehensiveMissedCount(ctx context.Context, start, end time.Time) (*MissedCountReport, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid window: end %s is not after start %s", end, start)
	}

	degraded := false
	read := func(name string, fn func() (uint64, error)) uint64 {
		n, err := fn()
		if err != nil {
			degraded = true
			e.logger.Warn("evidence read failed, count zeroed",
				"source", name,
				"error", err,
			)
			return 0
		}
		return n
	}

	breakdown := Breakdown{
		RedTeamAttacks: read("red_team", func() (uint64, error) {
			return e.store.CountMissedAttacks(ctx, start, end)
		}),
		AnalystConfirmed: read("analyst", func() (uint64, error) {
			return e.store.CountAnalystMisses(ctx, start, end)
		}),
		KnownIOCs: read("threat_intel", func() (uint64, error) {
			return e.store.CountIndicatorMisses(ctx, start, end)
		}),
		HeuristicEstimate: read("heuristic", func() (uint64, error) {
			return e.store.CountHeuristicMisses(ctx, start, end, e.keywords)
		}),
	}

	report := &MissedCountReport{
		TotalMissed: breakdown.RedTeamAttacks + breakdown.AnalystConfirmed +
			breakdown.KnownIOCs + breakdown.HeuristicEstimate,
		Breakdown:  breakdown,
		Confidence: tier(breakdown),
		DataQuality: DataQuality{
			HasGroundTruth:    breakdown.RedTeamAttacks > 0,
			HasAnalystReviews: breakdown.AnalystConfirmed > 0,
			HasThreatIntel:    breakdown.KnownIOCs > 0,
			IsEstimated:       breakdown.HeuristicEstimate > 0 && breakdown.RedTeamAttacks == 0,
		},
		WindowStart: start,
		WindowEnd:   end,
		GeneratedAt: e.now(),
		Degraded:    degraded,
	}

	e.logger.Info("reconciliation complete",
		"window_start", start,
		"window_end", end,
		"total_missed", report.TotalMissed,
		"confidence", report.Confidence,
		"degraded", degraded,
	)
	return report, nil
}

// tier maps the breakdown to a confidence level by evidentiary priority.
func tier(b Breakdown) string {
	switch {
	case b.RedTeamAttacks > 0:
		return ConfidenceVeryHigh
	case b.AnalystConfirmed > 0:
		return ConfidenceHigh
	case b.KnownIOCs > 0:
		return ConfidenceMedium
	case b.HeuristicEstimate > 0:
		return ConfidenceLow
	default:
		return ConfidenceUnknown
	}
}

// RecordRedTeamAttack registers an authorized attack execution for
// ground-truth tracking and returns its id.
func (e *Engine) RecordRedTeamAttack(ctx context.Context, a *schema.RedTeamAttack) (uuid.UUID, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AttackTimestamp.IsZero() {
		a.AttackTimestamp = e.now()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = e.now()
	}
	if err := e.store.InsertAttack(ctx, a); err != nil {
		return uuid.Nil, fmt.Errorf("failed to record red team attack: %w", err)
	}
	e.logger.Info("recorded red team attack",
		"attack_id", a.ID,
		"attack_type", a.AttackType,
		"target_agent_id", a.TargetAgentID,
	)
	return a.ID, nil
}

// MarkAttackDetected links a detection result to a red-team attack. The
// correlation that matched them happens upstream.
func (e *Engine) MarkAttackDetected(ctx context.Context, attackID, detectionID uuid.UUID) error {
	if err := e.store.MarkAttackDetected(ctx, attackID, detectionID); err != nil {
		return fmt.Errorf("failed to mark attack %s detected: %w", attackID, err)
	}
	e.logger.Info("marked attack as detected",
		"attack_id", attackID,
		"detection_id", detectionID,
	)
	return nil
}

// RecordAnalystReview appends an analyst verdict and returns its id.
func (e *Engine) RecordAnalystReview(ctx context.Context, r *schema.AnalystReview) (uuid.UUID, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.ReviewedAt.IsZero() {
		r.ReviewedAt = e.now()
	}
	if r.Confidence < 1 || r.Confidence > 5 {
		return uuid.Nil, fmt.Errorf("analyst confidence must be 1-5, got %d", r.Confidence)
	}
	if !r.Verdict.IsValid() {
		return uuid.Nil, fmt.Errorf("invalid analyst verdict: %q", r.Verdict)
	}
	if err := e.store.InsertReview(ctx, r); err != nil {
		return uuid.Nil, fmt.Errorf("failed to record analyst review: %w", err)
	}
	return r.ID, nil
}

// AddAttackIndicator registers a threat-intel indicator and returns its
// id. Severity defaults to medium, source to manual.
func (e *Engine) AddAttackIndicator(ctx context.Context, ind *schema.AttackIndicator) (uuid.UUID, error) {
	if ind.ID == uuid.Nil {
		ind.ID = uuid.New()
	}
	if ind.IndicatorValue == "" {
		return uuid.Nil, fmt.Errorf("%w: indicator value is required", storage.ErrInvalidData)
	}
	now := e.now()
	if ind.FirstSeen.IsZero() {
		ind.FirstSeen = now
	}
	if ind.LastSeen.IsZero() {
		ind.LastSeen = now
	}
	if ind.Severity == "" {
		ind.Severity = schema.SeverityMedium
	}
	if ind.Source == "" {
		ind.Source = "manual"
	}
	ind.Active = true
	if err := e.store.UpsertIndicator(ctx, ind); err != nil {
		return uuid.Nil, fmt.Errorf("failed to add attack indicator: %w", err)
	}
	return ind.ID, nil
}
