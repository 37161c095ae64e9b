package mlmodels

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEntry() *schema.LogEntry {
	return &schema.LogEntry{
		ID:        uuid.New(),
		AgentID:   "agent-001",
		Source:    "windows.security",
		Timestamp: time.Date(2026, 3, 14, 2, 30, 0, 0, time.UTC),
		Level:     schema.LevelError,
		Message:   "suspicious process spawned",
	}
}

func writeArtifact(t *testing.T, dir, name string, art linearArtifact) {
	t.Helper()
	data, err := json.Marshal(art)
	if err != nil {
		t.Fatalf("marshal artifact: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

// fixedExtractors returns one-feature extractors for every known model.
func fixedExtractors(value float64) map[string]FeatureExtractor {
	out := make(map[string]FeatureExtractor, len(KnownModels))
	for _, name := range KnownModels {
		out[name] = func(*schema.LogEntry) []float64 { return []float64{value} }
	}
	return out
}

func TestRegistry_LoadMissingArtifacts(t *testing.T) {
	r := New(Config{Dir: t.TempDir()}, testLogger())

	if r.Available() != 0 {
		t.Errorf("Available() = %d, want 0", r.Available())
	}

	info := r.Info()
	if len(info) != len(KnownModels) {
		t.Fatalf("Info() returned %d entries, want %d", len(info), len(KnownModels))
	}
	for _, mi := range info {
		if mi.Status != StatusUnavailable {
			t.Errorf("model %s status = %s, want %s", mi.Name, mi.Status, StatusUnavailable)
		}
		if mi.Reason == "" {
			t.Errorf("model %s has no unavailability reason", mi.Name)
		}
	}

	if preds := r.Predict(testEntry()); preds != nil {
		t.Errorf("Predict() with empty ensemble = %v, want nil", preds)
	}
}

func TestRegistry_PartialLoad(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, ModelNetworkIntrusion, linearArtifact{
		Weights: []float64{2.0}, Means: []float64{0}, Stddevs: []float64{1}, Threshold: 0.5,
	})
	// Corrupt artifact for a second model.
	if err := os.WriteFile(filepath.Join(dir, ModelWebAttack+".json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(Config{Dir: dir, Extractors: fixedExtractors(1.0)}, testLogger())
	if r.Available() != 1 {
		t.Errorf("Available() = %d, want 1", r.Available())
	}

	for _, mi := range r.Info() {
		want := StatusUnavailable
		if mi.Name == ModelNetworkIntrusion {
			want = StatusAvailable
		}
		if mi.Status != want {
			t.Errorf("model %s status = %s, want %s", mi.Name, mi.Status, want)
		}
	}
}

func TestRegistry_Predict(t *testing.T) {
	dir := t.TempDir()
	// Bias 2 with zero weight yields sigmoid(2) ≈ 0.88 regardless of input.
	writeArtifact(t, dir, ModelInsiderThreat, linearArtifact{
		Weights: []float64{0}, Bias: 2, Means: []float64{0}, Stddevs: []float64{1}, Threshold: 0.5,
	})
	// Bias -2 yields sigmoid(-2) ≈ 0.12, below threshold.
	writeArtifact(t, dir, ModelTextLogAnomaly, linearArtifact{
		Weights: []float64{0}, Bias: -2, Means: []float64{0}, Stddevs: []float64{1}, Threshold: 0.5,
	})

	r := New(Config{Dir: dir, Extractors: fixedExtractors(0)}, testLogger())
	preds := r.Predict(testEntry())
	if len(preds) != 2 {
		t.Fatalf("Predict() returned %d predictions, want 2", len(preds))
	}

	byModel := make(map[string]Prediction)
	for _, p := range preds {
		byModel[p.Model] = p
	}

	hot := byModel[ModelInsiderThreat]
	if !hot.Anomalous {
		t.Errorf("%s anomalous = false, want true (score %v)", hot.Model, hot.Score)
	}
	if math.Abs(hot.Score-0.8808) > 0.001 {
		t.Errorf("%s score = %v, want ≈0.8808", hot.Model, hot.Score)
	}

	cold := byModel[ModelTextLogAnomaly]
	if cold.Anomalous {
		t.Errorf("%s anomalous = true, want false (score %v)", cold.Model, cold.Score)
	}
}

func TestMaxScore(t *testing.T) {
	tests := []struct {
		name      string
		preds     []Prediction
		wantScore float64
		wantTag   string
	}{
		{
			name:      "no predictions",
			preds:     nil,
			wantScore: 0,
			wantTag:   "",
		},
		{
			name: "nothing anomalous",
			preds: []Prediction{
				{Model: "a", Score: 0.9, Anomalous: false},
			},
			wantScore: 0,
			wantTag:   "",
		},
		{
			name: "highest anomalous wins",
			preds: []Prediction{
				{Model: "a", Score: 0.6, Anomalous: true},
				{Model: "b", Score: 0.95, Anomalous: false},
				{Model: "c", Score: 0.8, Anomalous: true},
			},
			wantScore: 0.8,
			wantTag:   "ml:c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, tag := MaxScore(tt.preds)
			if score != tt.wantScore || tag != tt.wantTag {
				t.Errorf("MaxScore() = (%v, %q), want (%v, %q)", score, tag, tt.wantScore, tt.wantTag)
			}
		})
	}
}

func TestLoadLinearModel_InvalidArtifacts(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		art  linearArtifact
	}{
		{"no weights", linearArtifact{Stddevs: []float64{1}}},
		{"dimension mismatch", linearArtifact{Weights: []float64{1, 2}, Means: []float64{0}, Stddevs: []float64{1}}},
		{"zero stddev", linearArtifact{Weights: []float64{1}, Means: []float64{0}, Stddevs: []float64{0}}},
		{"threshold out of range", linearArtifact{Weights: []float64{1}, Means: []float64{0}, Stddevs: []float64{1}, Threshold: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeArtifact(t, dir, "bad", tt.art)
			_, err := loadLinearModel("bad", filepath.Join(dir, "bad.json"), nil)
			if err == nil {
				t.Error("loadLinearModel() error = nil, want error")
			}
		})
	}
}
