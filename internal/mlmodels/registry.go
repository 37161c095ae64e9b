// Package mlmodels adapts a fixed ensemble of trained anomaly models to
// the detection pipeline. Models are loaded once at startup from exported
// JSON artifacts; a model whose artifact is missing or corrupt stays
// unavailable for the life of the process and never blocks analysis.
package mlmodels

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"sentinel-soc/internal/schema"
)

// Status tags one model's load outcome.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
)

// ModelInfo describes one registry slot for operators.
type ModelInfo struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Prediction is one available model's verdict for an entry.
type Prediction struct {
	Model     string  `json:"model"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Anomalous bool    `json:"anomalous"`
}

// Registry holds the loaded ensemble. Immutable after New; safe for
// concurrent use.
type Registry struct {
	models map[string]*linearModel
	info   []ModelInfo
	logger *slog.Logger
}

// Config configures registry construction.
type Config struct {
	// Dir is the directory holding one <model name>.json artifact per model.
	Dir string
	// Extractors overrides the default feature extractors, keyed by model
	// name. Nil means DefaultExtractors().
	Extractors map[string]FeatureExtractor
}

// New loads every known model from cfg.Dir. Load failures are recorded,
// not returned: an empty ensemble is a degraded but legal state.
func New(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	extractors := cfg.Extractors
	if extractors == nil {
		extractors = DefaultExtractors()
	}

	r := &Registry{
		models: make(map[string]*linearModel),
		logger: logger,
	}

	for _, name := range KnownModels {
		extract, ok := extractors[name]
		if !ok {
			r.info = append(r.info, ModelInfo{
				Name:   name,
				Status: StatusUnavailable,
				Reason: "no feature extractor registered",
			})
			logger.Warn("model has no feature extractor", "model", name)
			continue
		}

		path := filepath.Join(cfg.Dir, name+".json")
		model, err := loadLinearModel(name, path, extract)
		if err != nil {
			r.info = append(r.info, ModelInfo{
				Name:   name,
				Status: StatusUnavailable,
				Reason: err.Error(),
			})
			logger.Warn("model unavailable", "model", name, "error", err)
			continue
		}

		r.models[name] = model
		r.info = append(r.info, ModelInfo{Name: name, Status: StatusAvailable})
		logger.Info("model loaded", "model", name, "path", path)
	}

	logger.Info("model registry initialized",
		"available", len(r.models),
		"total", len(KnownModels))
	return r
}

// Available returns the number of loaded models.
func (r *Registry) Available() int {
	return len(r.models)
}

// Info returns the load status of every known model, in stable order.
func (r *Registry) Info() []ModelInfo {
	out := make([]ModelInfo, len(r.info))
	copy(out, r.info)
	return out
}

// Predict runs every available model on the entry. Per-model scoring
// errors (feature dimension drift, mostly) are logged and that model is
// skipped; the remaining predictions are still returned.
func (r *Registry) Predict(entry *schema.LogEntry) []Prediction {
	if len(r.models) == 0 {
		return nil
	}

	var preds []Prediction
	for _, name := range KnownModels {
		model, ok := r.models[name]
		if !ok {
			continue
		}

		features := model.extract(entry)
		score, err := model.score(features)
		if err != nil {
			r.logger.Warn("model scoring failed",
				"model", name,
				"log_entry_id", entry.ID,
				"error", err)
			continue
		}

		preds = append(preds, Prediction{
			Model:     name,
			Score:     score,
			Threshold: model.artifact.Threshold,
			Anomalous: score >= model.artifact.Threshold,
		})
	}
	return preds
}

// MaxScore folds an ensemble's predictions into the single contribution
// the fusion engine consumes: the highest anomalous score, or 0 when no
// model crossed its threshold.
func MaxScore(preds []Prediction) (float64, string) {
	var best float64
	var bestModel string
	for _, p := range preds {
		if p.Anomalous && p.Score > best {
			best = p.Score
			bestModel = p.Model
		}
	}
	if bestModel == "" {
		return 0, ""
	}
	return best, fmt.Sprintf("ml:%s", bestModel)
}
