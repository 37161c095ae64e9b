package mlmodels

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// linearArtifact is the on-disk form of a trained model: standardized
// logistic regression coefficients exported by the training pipeline.
type linearArtifact struct {
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Means     []float64 `json:"means"`
	Stddevs   []float64 `json:"stddevs"`
	Threshold float64   `json:"threshold"`
}

func (a *linearArtifact) validate() error {
	if len(a.Weights) == 0 {
		return fmt.Errorf("artifact has no weights")
	}
	if len(a.Means) != len(a.Weights) || len(a.Stddevs) != len(a.Weights) {
		return fmt.Errorf("artifact dimension mismatch: %d weights, %d means, %d stddevs",
			len(a.Weights), len(a.Means), len(a.Stddevs))
	}
	for i, sd := range a.Stddevs {
		if sd <= 0 {
			return fmt.Errorf("artifact stddev[%d] = %v, must be positive", i, sd)
		}
	}
	if a.Threshold < 0 || a.Threshold > 1 {
		return fmt.Errorf("artifact threshold %v out of [0,1]", a.Threshold)
	}
	return nil
}

// linearModel is a loaded logistic-regression model bound to a feature
// extractor. Immutable after load.
type linearModel struct {
	name     string
	artifact linearArtifact
	extract  FeatureExtractor
}

func loadLinearModel(name, path string, extract FeatureExtractor) (*linearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var art linearArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	if err := art.validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact: %w", err)
	}

	return &linearModel{name: name, artifact: art, extract: extract}, nil
}

// score computes the logistic probability for the entry's feature vector.
func (m *linearModel) score(features []float64) (float64, error) {
	if len(features) != len(m.artifact.Weights) {
		return 0, fmt.Errorf("model %s: got %d features, want %d",
			m.name, len(features), len(m.artifact.Weights))
	}

	z := m.artifact.Bias
	for i, f := range features {
		standardized := (f - m.artifact.Means[i]) / m.artifact.Stddevs[i]
		z += m.artifact.Weights[i] * standardized
	}
	return 1.0 / (1.0 + math.Exp(-z)), nil
}
