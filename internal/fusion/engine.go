// Package fusion implements the detection fusion engine: every log entry
// passes through a fixed set of detectors whose findings are folded into
// exactly one DetectionResult.
package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"sentinel-soc/internal/metrics"
	"sentinel-soc/internal/schema"
)

// ThreatTypeUndetermined tags results produced when every detector
// failed: the entry was seen but no analysis could be trusted.
const ThreatTypeUndetermined = "undetermined"

// threatTypeSuspicious tags positive verdicts reached purely through
// context weighting, with no detector naming a concrete threat.
const threatTypeSuspicious = "suspicious_activity"

// ResultStore persists verdicts. The ClickHouse detection store
// implements it.
type ResultStore interface {
	Insert(ctx context.Context, r *schema.DetectionResult) error
}

// Config tunes the fusion engine.
type Config struct {
	// DetectorTimeout bounds each detector invocation.
	DetectorTimeout time.Duration `yaml:"detector_timeout"`
	// SeenCacheSize is the number of recently analyzed entry ids kept for
	// duplicate suppression.
	SeenCacheSize int `yaml:"seen_cache_size"`
	// LevelWeightHigh is added for error/critical entries.
	LevelWeightHigh float64 `yaml:"level_weight_high"`
	// LevelWeightWarn is added for warning entries.
	LevelWeightWarn float64 `yaml:"level_weight_warn"`
	// SourceWeightSecurity is added for security-type sources.
	SourceWeightSecurity float64 `yaml:"source_weight_security"`
	// SourceWeightSystem is added for system-type sources.
	SourceWeightSystem float64 `yaml:"source_weight_system"`
	// ProcessBoost is added for process sources with execution keywords.
	ProcessBoost float64 `yaml:"process_boost"`
	// NetworkBoost is added for network sources with anomaly keywords.
	NetworkBoost float64 `yaml:"network_boost"`
}

// DefaultConfig returns the standard fusion configuration.
func DefaultConfig() Config {
	return Config{
		DetectorTimeout:      5 * time.Second,
		SeenCacheSize:        10000,
		LevelWeightHigh:      0.2,
		LevelWeightWarn:      0.1,
		SourceWeightSecurity: 0.2,
		SourceWeightSystem:   0.1,
		ProcessBoost:         0.3,
		NetworkBoost:         0.2,
	}
}

// processKeywords flag suspicious execution in process-source entries.
var processKeywords = []string{"powershell", "cmd", "wmic", "certutil"}

// networkKeywords flag anomalous activity in network-source entries.
var networkKeywords = []string{"connection", "port", "refused", "timeout"}

// recommendationsBySeverity maps a verdict's severity to operator actions.
var recommendationsBySeverity = map[schema.Severity][]string{
	schema.SeverityCritical: {"Immediate isolation", "Forensic analysis", "Incident response"},
	schema.SeverityHigh:     {"Alert security team", "Monitor closely", "Collect additional logs"},
	schema.SeverityMedium:   {"Log for review", "Monitor activity", "Check related systems"},
	schema.SeverityLow:      {"Monitor", "Log event"},
	schema.SeverityBenign:   {"Continue monitoring"},
}

// Engine fuses detector findings into verdicts. Safe for concurrent use.
type Engine struct {
	cfg       Config
	detectors []Detector
	store     ResultStore
	seen      *lru.Cache[uuid.UUID, *schema.DetectionResult]
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates a fusion engine. Detector order determines the
// priority of threat-type tags on the result.
func NewEngine(cfg Config, detectors []Detector, store ResultStore, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = DefaultConfig().SeenCacheSize
	}
	if cfg.DetectorTimeout <= 0 {
		cfg.DetectorTimeout = DefaultConfig().DetectorTimeout
	}

	seen, err := lru.New[uuid.UUID, *schema.DetectionResult](cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create seen cache: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		detectors: detectors,
		store:     store,
		seen:      seen,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Analyze produces and persists the verdict for one entry. Re-analyzing
// an already-seen entry returns the original verdict without a second
// store write; entries past the cache horizon converge in storage, which
// replaces rows by log_entry_id.
func (e *Engine) Analyze(ctx context.Context, entry *schema.LogEntry) (*schema.DetectionResult, error) {
	if cached, ok := e.seen.Get(entry.ID); ok {
		return cached, nil
	}

	findings, failures := e.runDetectors(ctx, entry)

	var result *schema.DetectionResult
	if len(e.detectors) > 0 && failures == len(e.detectors) {
		// Nothing trustworthy came back. Record that the entry was seen
		// rather than silently inventing a clean verdict.
		result = &schema.DetectionResult{
			ID:              uuid.New(),
			LogEntryID:      entry.ID,
			AgentID:         entry.AgentID,
			ThreatDetected:  false,
			ConfidenceScore: 0,
			ThreatType:      ThreatTypeUndetermined,
			Severity:        schema.SeverityBenign,
			DetectionMethod: "fusion",
			Recommendations: []string{"Re-analyze when detectors recover"},
			DetectedAt:      e.now(),
		}
	} else {
		result = e.fuse(entry, findings)
	}

	if err := e.store.Insert(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to persist detection for %s: %w", entry.ID, err)
	}
	e.seen.Add(entry.ID, result)
	metrics.EntriesAnalyzed.Inc()

	if result.ThreatDetected {
		metrics.ThreatsDetected.WithLabelValues(string(result.Severity)).Inc()
		e.logger.Info("threat detected",
			"log_entry_id", entry.ID,
			"agent_id", entry.AgentID,
			"threat_type", result.ThreatType,
			"score", result.ConfidenceScore,
			"severity", result.Severity,
		)
	}
	return result, nil
}

// runDetectors invokes every detector with a timeout and panic recovery.
// A failed detector contributes nothing; the rest still count.
func (e *Engine) runDetectors(ctx context.Context, entry *schema.LogEntry) ([]*Finding, int) {
	var findings []*Finding
	failures := 0

	for _, d := range e.detectors {
		finding, err := e.runOne(ctx, d, entry)
		if err != nil {
			failures++
			metrics.DetectorFailures.WithLabelValues(d.Name()).Inc()
			e.logger.Warn("detector failed",
				"detector", d.Name(),
				"log_entry_id", entry.ID,
				"error", err,
			)
			continue
		}
		findings = append(findings, finding)
	}
	return findings, failures
}

func (e *Engine) runOne(ctx context.Context, d Detector, entry *schema.LogEntry) (finding *Finding, err error) {
	dctx, cancel := context.WithTimeout(ctx, e.cfg.DetectorTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			finding = nil
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()

	return d.Detect(dctx, entry)
}

// fuse folds detector findings and context weights into one result.
func (e *Engine) fuse(entry *schema.LogEntry, findings []*Finding) *schema.DetectionResult {
	var (
		score       float64
		floor       float64
		threatTypes []string
		indicators  []string
		bump        bool
	)

	for _, f := range findings {
		if f.Floor {
			floor = math.Max(floor, f.Score)
		} else {
			score += f.Score
		}
		threatTypes = append(threatTypes, f.ThreatTypes...)
		indicators = append(indicators, f.Indicators...)
		bump = bump || f.BumpSeverity
	}

	// Context weighting: the same entry content is more alarming at a
	// higher log level or from a security-sensitive source.
	switch entry.Level {
	case schema.LevelError, schema.LevelCritical:
		score += e.cfg.LevelWeightHigh
	case schema.LevelWarning:
		score += e.cfg.LevelWeightWarn
	}

	source := strings.ToLower(entry.Source)
	switch {
	case strings.Contains(source, "security"):
		score += e.cfg.SourceWeightSecurity
	case strings.Contains(source, "system"):
		score += e.cfg.SourceWeightSystem
	}

	text := strings.ToLower(entry.SearchableText())
	if strings.Contains(source, "process") && containsAny(text, processKeywords) {
		score += e.cfg.ProcessBoost
		indicators = append(indicators, "suspicious process execution")
	}
	if strings.Contains(source, "network") && containsAny(text, networkKeywords) {
		score += e.cfg.NetworkBoost
		indicators = append(indicators, "network anomaly detected")
	}

	score = math.Max(score, floor)
	if score > 1.0 {
		score = 1.0
	}

	detected := score > schema.DetectionThreshold

	threatType := "benign"
	switch {
	case len(threatTypes) > 0:
		threatType = threatTypes[0]
	case detected:
		threatType = threatTypeSuspicious
	}

	severity := schema.ScoreToSeverity(score)
	if bump && detected {
		severity = severity.Bump()
	}

	return &schema.DetectionResult{
		ID:              uuid.New(),
		LogEntryID:      entry.ID,
		AgentID:         entry.AgentID,
		ThreatDetected:  detected,
		ConfidenceScore: score,
		ThreatType:      threatType,
		Severity:        severity,
		Indicators:      indicators,
		DetectionMethod: "fusion",
		Recommendations: recommendationsBySeverity[severity],
		DetectedAt:      e.now(),
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
