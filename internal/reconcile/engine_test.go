package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGroundTruth returns scripted counts and records mutations.
type fakeGroundTruth struct {
	redTeam   uint64
	analyst   uint64
	ioc       uint64
	heuristic uint64

	redTeamErr   error
	analystErr   error
	iocErr       error
	heuristicErr error

	attacks      []*schema.RedTeamAttack
	reviews      []*schema.AnalystReview
	indicators   []*schema.AttackIndicator
	detectedArgs [][2]uuid.UUID
	gotKeywords  []string
}

func (f *fakeGroundTruth) InsertAttack(_ context.Context, a *schema.RedTeamAttack) error {
	f.attacks = append(f.attacks, a)
	return nil
}

func (f *fakeGroundTruth) MarkAttackDetected(_ context.Context, attackID, detectionID uuid.UUID) error {
	f.detectedArgs = append(f.detectedArgs, [2]uuid.UUID{attackID, detectionID})
	return nil
}

func (f *fakeGroundTruth) InsertReview(_ context.Context, r *schema.AnalystReview) error {
	f.reviews = append(f.reviews, r)
	return nil
}

func (f *fakeGroundTruth) UpsertIndicator(_ context.Context, ind *schema.AttackIndicator) error {
	f.indicators = append(f.indicators, ind)
	return nil
}

func (f *fakeGroundTruth) CountMissedAttacks(_ context.Context, _, _ time.Time) (uint64, error) {
	return f.redTeam, f.redTeamErr
}

func (f *fakeGroundTruth) CountAnalystMisses(_ context.Context, _, _ time.Time) (uint64, error) {
	return f.analyst, f.analystErr
}

func (f *fakeGroundTruth) CountIndicatorMisses(_ context.Context, _, _ time.Time) (uint64, error) {
	return f.ioc, f.iocErr
}

func (f *fakeGroundTruth) CountHeuristicMisses(_ context.Context, _, _ time.Time, keywords []string) (uint64, error) {
	f.gotKeywords = keywords
	return f.heuristic, f.heuristicErr
}

func testWindow() (time.Time, time.Time) {
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return end.Add(-24 * time.Hour), end
}

func TestComprehensiveMissedCount(t *testing.T) {
	tests := []struct {
		name           string
		store          *fakeGroundTruth
		wantTotal      uint64
		wantConfidence string
		wantEstimated  bool
	}{
		{
			name:           "no evidence",
			store:          &fakeGroundTruth{},
			wantTotal:      0,
			wantConfidence: ConfidenceUnknown,
		},
		{
			name:           "single red team miss",
			store:          &fakeGroundTruth{redTeam: 1},
			wantTotal:      1,
			wantConfidence: ConfidenceVeryHigh,
		},
		{
			name:           "analyst only",
			store:          &fakeGroundTruth{analyst: 3},
			wantTotal:      3,
			wantConfidence: ConfidenceHigh,
		},
		{
			name:           "ioc only",
			store:          &fakeGroundTruth{ioc: 2},
			wantTotal:      2,
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "heuristic only is an estimate",
			store:          &fakeGroundTruth{heuristic: 40},
			wantTotal:      40,
			wantConfidence: ConfidenceLow,
			wantEstimated:  true,
		},
		{
			name:           "red team outranks everything",
			store:          &fakeGroundTruth{redTeam: 1, analyst: 5, ioc: 3, heuristic: 100},
			wantTotal:      109,
			wantConfidence: ConfidenceVeryHigh,
		},
		{
			name:           "heuristic alongside red team is not an estimate",
			store:          &fakeGroundTruth{redTeam: 2, heuristic: 10},
			wantTotal:      12,
			wantConfidence: ConfidenceVeryHigh,
			wantEstimated:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(Config{}, tt.store, testLogger())
			start, end := testWindow()

			report, err := e.ComprehensiveMissedCount(context.Background(), start, end)
			if err != nil {
				t.Fatalf("ComprehensiveMissedCount() error = %v", err)
			}

			if report.TotalMissed != tt.wantTotal {
				t.Errorf("TotalMissed = %d, want %d", report.TotalMissed, tt.wantTotal)
			}
			if report.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %q, want %q", report.Confidence, tt.wantConfidence)
			}
			if report.DataQuality.IsEstimated != tt.wantEstimated {
				t.Errorf("IsEstimated = %v, want %v", report.DataQuality.IsEstimated, tt.wantEstimated)
			}
			if report.Degraded {
				t.Error("Degraded = true, want false")
			}
		})
	}
}

func TestComprehensiveMissedCount_Breakdown(t *testing.T) {
	store := &fakeGroundTruth{redTeam: 1, analyst: 2, ioc: 3, heuristic: 4}
	e := NewEngine(Config{}, store, testLogger())
	start, end := testWindow()

	report, err := e.ComprehensiveMissedCount(context.Background(), start, end)
	if err != nil {
		t.Fatalf("ComprehensiveMissedCount() error = %v", err)
	}

	want := Breakdown{RedTeamAttacks: 1, AnalystConfirmed: 2, KnownIOCs: 3, HeuristicEstimate: 4}
	if report.Breakdown != want {
		t.Errorf("Breakdown = %+v, want %+v", report.Breakdown, want)
	}
	if !report.DataQuality.HasGroundTruth || !report.DataQuality.HasAnalystReviews || !report.DataQuality.HasThreatIntel {
		t.Errorf("DataQuality = %+v, want all evidence flags set", report.DataQuality)
	}
}

func TestComprehensiveMissedCount_DegradedReads(t *testing.T) {
	// Red-team and IOC reads fail; their counts zero out, the surviving
	// analyst evidence still sets the tier, and no error is raised.
	store := &fakeGroundTruth{
		redTeam:    7,
		redTeamErr: errors.New("table unreachable"),
		analyst:    2,
		iocErr:     errors.New("table unreachable"),
	}
	e := NewEngine(Config{}, store, testLogger())
	start, end := testWindow()

	report, err := e.ComprehensiveMissedCount(context.Background(), start, end)
	if err != nil {
		t.Fatalf("ComprehensiveMissedCount() error = %v, want degraded report", err)
	}

	if report.Breakdown.RedTeamAttacks != 0 {
		t.Errorf("RedTeamAttacks = %d, want 0 after failed read", report.Breakdown.RedTeamAttacks)
	}
	if report.TotalMissed != 2 {
		t.Errorf("TotalMissed = %d, want 2", report.TotalMissed)
	}
	if report.Confidence != ConfidenceHigh {
		t.Errorf("Confidence = %q, want %q", report.Confidence, ConfidenceHigh)
	}
	if !report.Degraded {
		t.Error("Degraded = false, want true")
	}
}

func TestComprehensiveMissedCount_AllReadsFail(t *testing.T) {
	failed := errors.New("storage down")
	store := &fakeGroundTruth{
		redTeamErr: failed, analystErr: failed, iocErr: failed, heuristicErr: failed,
	}
	e := NewEngine(Config{}, store, testLogger())
	start, end := testWindow()

	report, err := e.ComprehensiveMissedCount(context.Background(), start, end)
	if err != nil {
		t.Fatalf("ComprehensiveMissedCount() error = %v, want zeroed report", err)
	}
	if report.TotalMissed != 0 || report.Confidence != ConfidenceUnknown || !report.Degraded {
		t.Errorf("report = %+v, want total 0, unknown confidence, degraded", report)
	}
}

func TestComprehensiveMissedCount_InvalidWindow(t *testing.T) {
	e := NewEngine(Config{}, &fakeGroundTruth{}, testLogger())
	start, _ := testWindow()

	if _, err := e.ComprehensiveMissedCount(context.Background(), start, start); err == nil {
		t.Error("ComprehensiveMissedCount() error = nil for empty window, want error")
	}
}

func TestComprehensiveMissedCount_KeywordConfig(t *testing.T) {
	store := &fakeGroundTruth{}
	e := NewEngine(Config{HeuristicKeywords: []string{"pwned"}}, store, testLogger())
	start, end := testWindow()

	if _, err := e.ComprehensiveMissedCount(context.Background(), start, end); err != nil {
		t.Fatalf("ComprehensiveMissedCount() error = %v", err)
	}
	if len(store.gotKeywords) != 1 || store.gotKeywords[0] != "pwned" {
		t.Errorf("keywords = %v, want [pwned]", store.gotKeywords)
	}

	// Empty config falls back to the built-in list.
	store2 := &fakeGroundTruth{}
	e2 := NewEngine(Config{}, store2, testLogger())
	if _, err := e2.ComprehensiveMissedCount(context.Background(), start, end); err != nil {
		t.Fatalf("ComprehensiveMissedCount() error = %v", err)
	}
	if len(store2.gotKeywords) != len(DefaultHeuristicKeywords) {
		t.Errorf("got %d default keywords, want %d", len(store2.gotKeywords), len(DefaultHeuristicKeywords))
	}
}

func TestReportToMap(t *testing.T) {
	report := &MissedCountReport{
		TotalMissed: 5,
		Breakdown:   Breakdown{RedTeamAttacks: 1, AnalystConfirmed: 4},
		Confidence:  ConfidenceVeryHigh,
		GeneratedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	m := report.ToMap()
	if m["total_missed"] != uint64(5) {
		t.Errorf("total_missed = %v, want 5", m["total_missed"])
	}
	if m["confidence"] != ConfidenceVeryHigh {
		t.Errorf("confidence = %v, want %q", m["confidence"], ConfidenceVeryHigh)
	}
	breakdown, ok := m["breakdown"].(map[string]any)
	if !ok {
		t.Fatalf("breakdown is %T, want map", m["breakdown"])
	}
	if breakdown["red_team_attacks"] != uint64(1) {
		t.Errorf("breakdown.red_team_attacks = %v, want 1", breakdown["red_team_attacks"])
	}
}

func TestRecordRedTeamAttack(t *testing.T) {
	store := &fakeGroundTruth{}
	e := NewEngine(Config{}, store, testLogger())

	id, err := e.RecordRedTeamAttack(context.Background(), &schema.RedTeamAttack{
		ScenarioID:        "lateral-movement-07",
		AttackType:        "credential_dump",
		TargetAgentID:     "agent-042",
		ExpectedDetection: true,
	})
	if err != nil {
		t.Fatalf("RecordRedTeamAttack() error = %v", err)
	}
	if id == uuid.Nil {
		t.Error("returned nil id")
	}
	if len(store.attacks) != 1 {
		t.Fatalf("stored %d attacks, want 1", len(store.attacks))
	}
	if store.attacks[0].AttackTimestamp.IsZero() {
		t.Error("AttackTimestamp not defaulted")
	}
}

func TestMarkAttackDetected(t *testing.T) {
	store := &fakeGroundTruth{}
	e := NewEngine(Config{}, store, testLogger())

	attackID, detectionID := uuid.New(), uuid.New()
	if err := e.MarkAttackDetected(context.Background(), attackID, detectionID); err != nil {
		t.Fatalf("MarkAttackDetected() error = %v", err)
	}
	if len(store.detectedArgs) != 1 || store.detectedArgs[0] != [2]uuid.UUID{attackID, detectionID} {
		t.Errorf("detectedArgs = %v, want one call with both ids", store.detectedArgs)
	}
}

func TestRecordAnalystReview(t *testing.T) {
	tests := []struct {
		name    string
		review  *schema.AnalystReview
		wantErr bool
	}{
		{
			name: "valid threat review",
			review: &schema.AnalystReview{
				LogEntryID: uuid.New(),
				Verdict:    schema.VerdictThreat,
				Confidence: 4,
				ReviewedBy: "analyst-1",
			},
		},
		{
			name: "confidence out of range",
			review: &schema.AnalystReview{
				LogEntryID: uuid.New(),
				Verdict:    schema.VerdictThreat,
				Confidence: 6,
			},
			wantErr: true,
		},
		{
			name: "invalid verdict",
			review: &schema.AnalystReview{
				LogEntryID: uuid.New(),
				Verdict:    "maybe",
				Confidence: 3,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeGroundTruth{}
			e := NewEngine(Config{}, store, testLogger())

			id, err := e.RecordAnalystReview(context.Background(), tt.review)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RecordAnalystReview() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && id == uuid.Nil {
				t.Error("returned nil id")
			}
			if tt.wantErr && len(store.reviews) != 0 {
				t.Error("invalid review was stored")
			}
		})
	}
}

func TestAddAttackIndicator(t *testing.T) {
	store := &fakeGroundTruth{}
	e := NewEngine(Config{}, store, testLogger())

	id, err := e.AddAttackIndicator(context.Background(), &schema.AttackIndicator{
		IndicatorType:  schema.IndicatorDomain,
		IndicatorValue: "evil.example.com",
		ThreatType:     "phishing",
	})
	if err != nil {
		t.Fatalf("AddAttackIndicator() error = %v", err)
	}
	if id == uuid.Nil {
		t.Error("returned nil id")
	}

	ind := store.indicators[0]
	if ind.Severity != schema.SeverityMedium {
		t.Errorf("Severity = %v, want defaulted medium", ind.Severity)
	}
	if ind.Source != "manual" {
		t.Errorf("Source = %q, want defaulted manual", ind.Source)
	}
	if !ind.Active || ind.FirstSeen.IsZero() || ind.LastSeen.IsZero() {
		t.Errorf("indicator = %+v, want active with seen timestamps", ind)
	}

	if _, err := e.AddAttackIndicator(context.Background(), &schema.AttackIndicator{}); err == nil {
		t.Error("AddAttackIndicator() error = nil for empty value, want error")
	}
}
