// Package baseline learns per-agent behavioral baselines from resource
// metrics and evaluates later observations against them. Baselines are
// established explicitly; nothing here drifts a baseline automatically,
// so a slow attacker cannot train the detector to accept abnormal load.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"sentinel-soc/internal/schema"
)

// ErrNoBaseline is returned when an agent is evaluated before a baseline
// was established for it.
var ErrNoBaseline = errors.New("no baseline established for agent")

// Config tunes baseline learning and evaluation.
type Config struct {
	// SampleCount is how many CPU observations an establishment run takes.
	SampleCount int `yaml:"sample_count"`
	// SampleInterval is the spacing between observations.
	SampleInterval time.Duration `yaml:"sample_interval"`
	// CPUSpikeFactor scales the spread above average that counts as a spike.
	CPUSpikeFactor float64 `yaml:"cpu_spike_factor"`
	// MemoryFactor scales the baseline memory average into a threshold.
	MemoryFactor float64 `yaml:"memory_factor"`
	// MemoryCriticalPct flags memory regardless of baseline.
	MemoryCriticalPct float64 `yaml:"memory_critical_pct"`
	// NetworkFactor scales the baseline connection count into a threshold.
	NetworkFactor float64 `yaml:"network_factor"`
	// ProcessDeviation is the tolerated fractional drift in process count.
	ProcessDeviation float64 `yaml:"process_deviation"`
	// MaxAge marks a baseline stale once exceeded.
	MaxAge time.Duration `yaml:"max_age"`
	// CPUShiftPoints marks a sustained behavior shift when current CPU sits
	// this many percentage points above the learned average.
	CPUShiftPoints float64 `yaml:"cpu_shift_points"`
}

// DefaultConfig returns the standard learner configuration.
func DefaultConfig() Config {
	return Config{
		SampleCount:       10,
		SampleInterval:    time.Second,
		CPUSpikeFactor:    1.5,
		MemoryFactor:      1.3,
		MemoryCriticalPct: 90,
		NetworkFactor:     2.0,
		ProcessDeviation:  0.3,
		MaxAge:            24 * time.Hour,
		CPUShiftPoints:    20,
	}
}

// Baseline is the learned normal-behavior profile for one agent.
// Thresholds are derived once at establishment so evaluation stays a pure
// comparison.
type Baseline struct {
	AgentID string `json:"agent_id"`

	CPUAvg       float64 `json:"cpu_avg"`
	CPUMin       float64 `json:"cpu_min"`
	CPUMax       float64 `json:"cpu_max"`
	CPUThreshold float64 `json:"cpu_threshold"`

	MemoryAvg       float64 `json:"memory_avg"`
	MemoryThreshold float64 `json:"memory_threshold"`

	NetworkAvg       float64 `json:"network_avg"`
	NetworkThreshold float64 `json:"network_threshold"`

	ProcessAvg float64 `json:"process_avg"`

	SampleCount   int       `json:"sample_count"`
	EstablishedAt time.Time `json:"established_at"`
}

// Age returns how old the baseline is at the given instant.
func (b *Baseline) Age(now time.Time) time.Duration {
	return now.Sub(b.EstablishedAt)
}

// Anomaly names for Assessment.Anomalies.
const (
	AnomalyCPUSpike         = "cpu_spike"
	AnomalyMemoryPressure   = "memory_pressure"
	AnomalyNetworkSurge     = "network_surge"
	AnomalyProcessDeviation = "process_deviation"
)

// Anomaly is one metric's breach of the learned baseline, graded by how
// far past its trigger the observation landed.
type Anomaly struct {
	Type          string          `json:"type"`
	Severity      schema.Severity `json:"severity"`
	CurrentValue  float64         `json:"current_value"`
	BaselineValue float64         `json:"baseline_value"`
	Deviation     float64         `json:"deviation"`
	Description   string          `json:"description"`
}

// gradeExceedance buckets how far an observation sits past its trigger:
// 2x is high, 1.2x medium, anything that merely crossed it low.
func gradeExceedance(current, trigger float64) schema.Severity {
	if trigger <= 0 {
		return schema.SeverityLow
	}
	switch ratio := current / trigger; {
	case ratio >= 2.0:
		return schema.SeverityHigh
	case ratio >= 1.2:
		return schema.SeverityMedium
	default:
		return schema.SeverityLow
	}
}

// Diagnostic names for Assessment.Diagnostics. Diagnostics qualify the
// verdict but are not anomalies themselves.
const (
	DiagnosticBaselineAging    = "baseline_aging"
	DiagnosticCPUBehaviorShift = "cpu_behavior_shift"
)

// Assessment is the outcome of evaluating one observation against an
// agent's baseline.
type Assessment struct {
	AgentID     string    `json:"agent_id"`
	Anomalies   []Anomaly `json:"anomalies"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	Baseline    *Baseline `json:"baseline"`
	Observed    Metrics   `json:"observed"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Anomalous reports whether any anomaly was found.
func (a *Assessment) Anomalous() bool {
	return len(a.Anomalies) > 0
}

// AnomalyTypes returns just the anomaly names, for indicators and logs.
func (a *Assessment) AnomalyTypes() []string {
	if len(a.Anomalies) == 0 {
		return nil
	}
	types := make([]string, len(a.Anomalies))
	for i, an := range a.Anomalies {
		types[i] = an.Type
	}
	return types
}

// Learner establishes and evaluates per-agent baselines. Per-agent
// operations are serialized so an establishment run and an evaluation
// never interleave for the same agent.
type Learner struct {
	cfg     Config
	sampler Sampler
	store   Store
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	agents map[string]*sync.Mutex
}

// NewLearner creates a learner over the given sampler and store.
func NewLearner(cfg Config, sampler Sampler, store Store, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{
		cfg:     cfg,
		sampler: sampler,
		store:   store,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		agents:  make(map[string]*sync.Mutex),
	}
}

func (l *Learner) agentLock(agentID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.agents[agentID]
	if !ok {
		m = &sync.Mutex{}
		l.agents[agentID] = m
	}
	return m
}

// Establish learns a fresh baseline for the agent by taking the configured
// number of samples and persists it. Any existing baseline is replaced.
func (l *Learner) Establish(ctx context.Context, agentID string) (*Baseline, error) {
	lock := l.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	samples := make([]Metrics, 0, l.cfg.SampleCount)
	for i := 0; i < l.cfg.SampleCount; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.cfg.SampleInterval):
			}
		}

		m, err := l.sampler.Sample(ctx)
		if err != nil {
			return nil, fmt.Errorf("baseline sampling failed for %s: %w", agentID, err)
		}
		samples = append(samples, m)
	}

	b := l.computeBaseline(agentID, samples)
	if err := l.store.Save(ctx, b); err != nil {
		return nil, err
	}

	l.logger.Info("baseline established",
		"agent_id", agentID,
		"cpu_avg", b.CPUAvg,
		"cpu_threshold", b.CPUThreshold,
		"samples", b.SampleCount)
	return b, nil
}

func (l *Learner) computeBaseline(agentID string, samples []Metrics) *Baseline {
	cpuMin := samples[0].CPUPercent
	cpuMax := samples[0].CPUPercent
	var cpuSum, memSum, netSum, procSum float64
	for _, s := range samples {
		if s.CPUPercent < cpuMin {
			cpuMin = s.CPUPercent
		}
		if s.CPUPercent > cpuMax {
			cpuMax = s.CPUPercent
		}
		cpuSum += s.CPUPercent
		memSum += s.MemoryPercent
		netSum += float64(s.NetworkConnections)
		procSum += float64(s.ProcessCount)
	}

	n := float64(len(samples))
	cpuAvg := cpuSum / n
	memAvg := memSum / n
	netAvg := netSum / n

	return &Baseline{
		AgentID:          agentID,
		CPUAvg:           cpuAvg,
		CPUMin:           cpuMin,
		CPUMax:           cpuMax,
		CPUThreshold:     cpuAvg + (cpuMax-cpuAvg)*l.cfg.CPUSpikeFactor,
		MemoryAvg:        memAvg,
		MemoryThreshold:  memAvg * l.cfg.MemoryFactor,
		NetworkAvg:       netAvg,
		NetworkThreshold: netAvg * l.cfg.NetworkFactor,
		ProcessAvg:       procSum / n,
		SampleCount:      len(samples),
		EstablishedAt:    l.now(),
	}
}

// Get returns the agent's stored baseline, or ErrNoBaseline.
func (l *Learner) Get(ctx context.Context, agentID string) (*Baseline, error) {
	b, err := l.store.Load(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoBaseline, agentID)
	}
	return b, nil
}

// Evaluate compares one observation against the agent's baseline. The
// baseline is never adjusted here; a shift diagnostic tells the operator
// to re-establish instead.
func (l *Learner) Evaluate(ctx context.Context, agentID string, observed Metrics) (*Assessment, error) {
	lock := l.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	b, err := l.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	a := &Assessment{
		AgentID:     agentID,
		Baseline:    b,
		Observed:    observed,
		EvaluatedAt: now,
	}

	if observed.CPUPercent > b.CPUThreshold {
		a.Anomalies = append(a.Anomalies, Anomaly{
			Type:          AnomalyCPUSpike,
			Severity:      gradeExceedance(observed.CPUPercent, b.CPUThreshold),
			CurrentValue:  observed.CPUPercent,
			BaselineValue: b.CPUAvg,
			Deviation:     observed.CPUPercent - b.CPUAvg,
			Description: fmt.Sprintf("cpu %.1f%% above learned threshold %.1f%%",
				observed.CPUPercent, b.CPUThreshold),
		})
	}
	if observed.MemoryPercent > b.MemoryThreshold || observed.MemoryPercent >= l.cfg.MemoryCriticalPct {
		severity := gradeExceedance(observed.MemoryPercent, b.MemoryThreshold)
		// Near-exhausted memory is high regardless of what was learned.
		if observed.MemoryPercent >= l.cfg.MemoryCriticalPct {
			severity = schema.SeverityHigh
		}
		a.Anomalies = append(a.Anomalies, Anomaly{
			Type:          AnomalyMemoryPressure,
			Severity:      severity,
			CurrentValue:  observed.MemoryPercent,
			BaselineValue: b.MemoryAvg,
			Deviation:     observed.MemoryPercent - b.MemoryAvg,
			Description: fmt.Sprintf("memory %.1f%% above learned threshold %.1f%%",
				observed.MemoryPercent, b.MemoryThreshold),
		})
	}
	if conns := float64(observed.NetworkConnections); conns > b.NetworkThreshold {
		a.Anomalies = append(a.Anomalies, Anomaly{
			Type:          AnomalyNetworkSurge,
			Severity:      gradeExceedance(conns, b.NetworkThreshold),
			CurrentValue:  conns,
			BaselineValue: b.NetworkAvg,
			Deviation:     conns - b.NetworkAvg,
			Description: fmt.Sprintf("%d established connections against learned threshold %.0f",
				observed.NetworkConnections, b.NetworkThreshold),
		})
	}
	if b.ProcessAvg > 0 {
		drift := (float64(observed.ProcessCount) - b.ProcessAvg) / b.ProcessAvg
		if drift > l.cfg.ProcessDeviation || drift < -l.cfg.ProcessDeviation {
			a.Anomalies = append(a.Anomalies, Anomaly{
				Type:          AnomalyProcessDeviation,
				Severity:      gradeExceedance(math.Abs(drift), l.cfg.ProcessDeviation),
				CurrentValue:  float64(observed.ProcessCount),
				BaselineValue: b.ProcessAvg,
				Deviation:     drift,
				Description: fmt.Sprintf("process count drifted %+.0f%% from baseline %.0f",
					drift*100, b.ProcessAvg),
			})
		}
	}

	if b.Age(now) > l.cfg.MaxAge {
		a.Diagnostics = append(a.Diagnostics, DiagnosticBaselineAging)
	}
	if observed.CPUPercent-b.CPUAvg > l.cfg.CPUShiftPoints {
		a.Diagnostics = append(a.Diagnostics, DiagnosticCPUBehaviorShift)
	}

	if a.Anomalous() {
		l.logger.Info("behavioral anomalies detected",
			"agent_id", agentID,
			"anomalies", a.AnomalyTypes(),
			"diagnostics", a.Diagnostics)
	}
	return a, nil
}

// UpdateBaseline re-learns the agent's baseline. This is the only way a
// baseline changes after establishment.
func (l *Learner) UpdateBaseline(ctx context.Context, agentID string) (*Baseline, error) {
	return l.Establish(ctx, agentID)
}
