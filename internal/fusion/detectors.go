package fusion

import (
	"context"
	"strings"
	"sync"
	"time"

	"sentinel-soc/internal/baseline"
	"sentinel-soc/internal/mlmodels"
	"sentinel-soc/internal/schema"
	"sentinel-soc/internal/signature"
)

// Finding is one detector's contribution to a verdict.
type Finding struct {
	// Score is added to the fused confidence score, unless Floor is set.
	Score float64
	// Floor marks the score as a lower bound on the fused score rather
	// than an additive term: the verdict takes the max of the heuristic
	// total and the highest floor. Model confidences fold in this way so
	// a model vote never stacks on top of the heuristics it was trained
	// alongside.
	Floor bool
	// ThreatTypes are candidate threat-type tags, strongest first.
	ThreatTypes []string
	// Indicators describe what the detector saw.
	Indicators []string
	// BumpSeverity raises the final severity one level when the fused
	// verdict is positive.
	BumpSeverity bool
}

// Detector is one analysis stage. Detect must be safe for concurrent use
// and should honor ctx cancellation; the engine enforces a timeout and
// recovers panics around it.
type Detector interface {
	Name() string
	Detect(ctx context.Context, entry *schema.LogEntry) (*Finding, error)
}

// SignatureDetector wraps the compiled rule matcher.
type SignatureDetector struct {
	matcher *signature.Matcher
}

// NewSignatureDetector creates a signature detector over a matcher.
func NewSignatureDetector(m *signature.Matcher) *SignatureDetector {
	return &SignatureDetector{matcher: m}
}

func (d *SignatureDetector) Name() string { return "signature" }

func (d *SignatureDetector) Detect(_ context.Context, entry *schema.LogEntry) (*Finding, error) {
	res := d.matcher.Match(entry.SearchableText())
	if !res.Matched() {
		return &Finding{}, nil
	}
	return &Finding{
		Score:       res.Score,
		ThreatTypes: res.Categories,
		Indicators:  res.Indicators,
	}, nil
}

// MLDetector folds the model ensemble into the verdict: the highest
// anomalous score wins, non-anomalous predictions contribute nothing.
type MLDetector struct {
	registry *mlmodels.Registry
}

// NewMLDetector creates a detector over a model registry.
func NewMLDetector(r *mlmodels.Registry) *MLDetector {
	return &MLDetector{registry: r}
}

func (d *MLDetector) Name() string { return "ml_ensemble" }

func (d *MLDetector) Detect(_ context.Context, entry *schema.LogEntry) (*Finding, error) {
	preds := d.registry.Predict(entry)
	score, tag := mlmodels.MaxScore(preds)
	if tag == "" {
		return &Finding{}, nil
	}
	return &Finding{
		Score:       score,
		Floor:       true,
		ThreatTypes: []string{"ml_anomaly"},
		Indicators:  []string{tag},
	}, nil
}

// IndicatorProvider supplies the active threat-intel indicators. The
// ClickHouse ground-truth store implements it.
type IndicatorProvider interface {
	ActiveIndicators(ctx context.Context) ([]*schema.AttackIndicator, error)
}

// indicatorScore is the contribution of a threat-intel match. Matching is
// substring/exact only.
const indicatorScore = 0.3

// IndicatorDetector matches entries against active indicators. The
// indicator set is refreshed lazily so the hot path does not hit storage
// per entry.
type IndicatorDetector struct {
	provider   IndicatorProvider
	refresh    time.Duration
	mu         sync.Mutex
	indicators []*schema.AttackIndicator
	fetchedAt  time.Time
	now        func() time.Time
}

// NewIndicatorDetector creates an indicator detector. refresh bounds how
// stale the cached indicator set may get.
func NewIndicatorDetector(provider IndicatorProvider, refresh time.Duration) *IndicatorDetector {
	if refresh <= 0 {
		refresh = time.Minute
	}
	return &IndicatorDetector{
		provider: provider,
		refresh:  refresh,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *IndicatorDetector) Name() string { return "threat_intel" }

func (d *IndicatorDetector) Detect(ctx context.Context, entry *schema.LogEntry) (*Finding, error) {
	indicators, err := d.active(ctx)
	if err != nil {
		return nil, err
	}

	text := strings.ToLower(entry.SearchableText())
	finding := &Finding{}
	for _, ind := range indicators {
		if ind.IndicatorValue == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(ind.IndicatorValue)) {
			finding.Indicators = append(finding.Indicators, "ioc:"+ind.IndicatorValue)
			finding.ThreatTypes = append(finding.ThreatTypes, ind.ThreatType)
		}
	}
	if len(finding.Indicators) > 0 {
		// One contribution no matter how many indicators hit; the
		// indicators list still names every match.
		finding.Score = indicatorScore
	}
	return finding, nil
}

func (d *IndicatorDetector) active(ctx context.Context) ([]*schema.AttackIndicator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.indicators != nil && now.Sub(d.fetchedAt) < d.refresh {
		return d.indicators, nil
	}

	fresh, err := d.provider.ActiveIndicators(ctx)
	if err != nil {
		// Serve the stale set if we have one; the refresh will be retried.
		if d.indicators != nil {
			return d.indicators, nil
		}
		return nil, err
	}
	d.indicators = fresh
	d.fetchedAt = now
	return d.indicators, nil
}

// BehaviorDetector folds the agent's most recent baseline assessment into
// the verdict. An anomalous assessment bumps severity and contributes
// its anomaly names as indicators; it never raises the score on its own.
type BehaviorDetector struct {
	cache *baseline.AssessmentCache
}

// NewBehaviorDetector creates a detector over an assessment cache.
func NewBehaviorDetector(cache *baseline.AssessmentCache) *BehaviorDetector {
	return &BehaviorDetector{cache: cache}
}

func (d *BehaviorDetector) Name() string { return "behavior" }

func (d *BehaviorDetector) Detect(_ context.Context, entry *schema.LogEntry) (*Finding, error) {
	a := d.cache.Latest(entry.AgentID)
	if a == nil || !a.Anomalous() {
		return &Finding{}, nil
	}

	finding := &Finding{BumpSeverity: true}
	for _, anomaly := range a.Anomalies {
		finding.Indicators = append(finding.Indicators, "behavior:"+anomaly.Type)
	}
	return finding, nil
}
