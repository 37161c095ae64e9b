// Package api exposes the analysis surface over HTTP: detection queries,
// missed-detection reports, ground-truth recording and baseline
// management. Log ingestion lives in the ingest package.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/baseline"
	"sentinel-soc/internal/mlmodels"
	"sentinel-soc/internal/reconcile"
	"sentinel-soc/internal/reportcache"
	"sentinel-soc/internal/schema"
	"sentinel-soc/internal/storage"
)

// DetectionQuerier reads detection verdicts. The ClickHouse detection
// store implements it.
type DetectionQuerier interface {
	Query(ctx context.Context, f storage.DetectionFilter) ([]*schema.DetectionResult, error)
}

// LogQuerier reads persisted log entries for analyst drill-down. The
// ClickHouse log-entry store implements it.
type LogQuerier interface {
	GetByID(ctx context.Context, id uuid.UUID) (*schema.LogEntry, error)
	QueryRange(ctx context.Context, agentID string, start, end time.Time, limit int) ([]*schema.LogEntry, error)
}

// ModelInfoProvider surfaces metadata for the loaded ML models. The
// model registry implements it.
type ModelInfoProvider interface {
	Info() []mlmodels.ModelInfo
}

// Server holds the HTTP handlers for the analysis API.
type Server struct {
	detections  DetectionQuerier
	logs        LogQuerier
	models      ModelInfoProvider
	reconciler  *reconcile.Engine
	reports     *reportcache.Cache
	learner     *baseline.Learner
	assessments *baseline.AssessmentCache
	logger      *slog.Logger
	now         func() time.Time
}

// NewServer creates an API server over the given components.
func NewServer(detections DetectionQuerier, reconciler *reconcile.Engine, reports *reportcache.Cache, learner *baseline.Learner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		detections: detections,
		reconciler: reconciler,
		reports:    reports,
		learner:    learner,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithAssessmentCache publishes baseline evaluations to the cache the
// behavior detector reads, so anomalous assessments influence verdicts
// on subsequent entries from the same agent.
func (s *Server) WithAssessmentCache(cache *baseline.AssessmentCache) *Server {
	s.assessments = cache
	return s
}

// WithLogStore enables the raw log-entry read endpoints.
func (s *Server) WithLogStore(logs LogQuerier) *Server {
	s.logs = logs
	return s
}

// WithModelRegistry enables the model metadata endpoint.
func (s *Server) WithModelRegistry(models ModelInfoProvider) *Server {
	s.models = models
	return s
}

// Routes returns the route table for the analysis API.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/detections", s.handleListDetections)

	if s.logs != nil {
		mux.HandleFunc("GET /v1/logs", s.handleQueryLogs)
		mux.HandleFunc("GET /v1/logs/{id}", s.handleGetLog)
	}
	if s.models != nil {
		mux.HandleFunc("GET /v1/models", s.handleListModels)
	}

	mux.HandleFunc("GET /v1/reports/missed-detections", s.handleMissedDetections)
	mux.HandleFunc("GET /v1/reports", s.handleListReports)
	mux.HandleFunc("DELETE /v1/reports", s.handleClearReports)
	mux.HandleFunc("GET /v1/reports/{type}", s.handleGetReport)
	mux.HandleFunc("POST /v1/reports/{type}", s.handleSaveReport)
	mux.HandleFunc("DELETE /v1/reports/{type}", s.handleClearReport)

	mux.HandleFunc("POST /v1/ground-truth/attacks", s.handleRecordAttack)
	mux.HandleFunc("POST /v1/ground-truth/attacks/{id}/detected", s.handleMarkDetected)
	mux.HandleFunc("POST /v1/ground-truth/reviews", s.handleRecordReview)
	mux.HandleFunc("POST /v1/ground-truth/indicators", s.handleAddIndicator)

	mux.HandleFunc("POST /v1/baseline/{agent_id}/establish", s.handleEstablishBaseline)
	mux.HandleFunc("POST /v1/baseline/{agent_id}/rebaseline", s.handleRebaseline)
	mux.HandleFunc("GET /v1/baseline/{agent_id}", s.handleGetBaseline)
	mux.HandleFunc("POST /v1/baseline/{agent_id}/evaluate", s.handleEvaluateBaseline)

	return mux
}

// parseWindow reads start/end query parameters (RFC3339), defaulting to
// the last 24 hours.
func (s *Server) parseWindow(r *http.Request) (time.Time, time.Time, error) {
	end := s.now()
	start := end.Add(-24 * time.Hour)

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %v", err)
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %v", err)
		}
		end = t
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
	}
	return start, end, nil
}

// handleListDetections handles GET /v1/detections.
func (s *Server) handleListDetections(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := storage.DetectionFilter{
		Start:       start,
		End:         end,
		AgentID:     r.URL.Query().Get("agent_id"),
		ThreatsOnly: r.URL.Query().Get("threats_only") == "true",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	results, err := s.detections.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("detection query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "detection query failed")
		return
	}
	if results == nil {
		results = []*schema.DetectionResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"detections": results,
		"count":      len(results),
	})
}

// handleQueryLogs handles GET /v1/logs. Results come back oldest first;
// an omitted agent_id spans all agents.
func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	entries, err := s.logs.QueryRange(r.Context(), r.URL.Query().Get("agent_id"), start, end, limit)
	if err != nil {
		s.logger.Error("log query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "log query failed")
		return
	}
	if entries == nil {
		entries = []*schema.LogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleGetLog handles GET /v1/logs/{id}.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid log entry id")
		return
	}

	entry, err := s.logs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "log entry not found")
			return
		}
		s.logger.Error("log read failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "log read failed")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleMissedDetections handles GET /v1/reports/missed-detections.
// The last computation is served from the report cache; refresh=true
// forces a recount.
func (s *Server) handleMissedDetections(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"

	if !refresh {
		cached, err := s.reports.Get(r.Context(), reportcache.TypeMissedDetections)
		if err != nil {
			s.logger.Warn("report cache read failed, recomputing", "error", err)
		} else if cached != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"cached":       true,
				"generated_at": cached.GeneratedAt,
				"report":       cached.ReportData,
			})
			return
		}
	}

	start, end, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.reconciler.ComprehensiveMissedCount(r.Context(), start, end)
	if err != nil {
		s.logger.Error("reconciliation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	payload := report.ToMap()
	metadata := map[string]any{
		"window_start": start.Format(time.RFC3339),
		"window_end":   end.Format(time.RFC3339),
	}
	if _, err := s.reports.Save(r.Context(), reportcache.TypeMissedDetections, payload, metadata); err != nil {
		// The report is still good; only the memoization failed.
		s.logger.Warn("failed to cache missed-detection report", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cached":       false,
		"generated_at": report.GeneratedAt,
		"report":       payload,
	})
}

// handleListReports handles GET /v1/reports.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	entries, err := s.reports.Info(r.Context())
	if err != nil {
		s.logger.Error("report cache list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "report cache list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": entries,
		"count":   len(entries),
	})
}

// handleListModels handles GET /v1/models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	info := s.models.Info()
	if info == nil {
		info = []mlmodels.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models": info,
		"count":  len(info),
	})
}

// handleGetReport handles GET /v1/reports/{type}.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	reportType := r.PathValue("type")

	cached, err := s.reports.Get(r.Context(), reportType)
	if err != nil {
		s.logger.Error("report cache read failed", "report_type", reportType, "error", err)
		writeError(w, http.StatusInternalServerError, "report cache read failed")
		return
	}
	if cached == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no cached report of type %q", reportType))
		return
	}
	resp := map[string]any{
		"generated_at": cached.GeneratedAt,
		"report":       cached.ReportData,
	}
	if cached.Metadata != nil {
		resp["metadata"] = cached.Metadata
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSaveReport handles POST /v1/reports/{type}. The payload is
// opaque; anything that computes a report can memoize it here, with
// optional metadata describing how it was produced.
func (s *Server) handleSaveReport(w http.ResponseWriter, r *http.Request) {
	reportType := r.PathValue("type")

	var body struct {
		Report   map[string]any `json:"report"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Report) == 0 {
		writeError(w, http.StatusBadRequest, "report payload is required")
		return
	}

	report, err := s.reports.Save(r.Context(), reportType, body.Report, body.Metadata)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidData) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("report cache save failed", "report_type", reportType, "error", err)
		writeError(w, http.StatusInternalServerError, "report cache save failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"report_type":  report.ReportType,
		"generated_at": report.GeneratedAt,
	})
}

// handleClearReport handles DELETE /v1/reports/{type}.
func (s *Server) handleClearReport(w http.ResponseWriter, r *http.Request) {
	reportType := r.PathValue("type")
	if err := s.reports.Clear(r.Context(), reportType); err != nil {
		s.logger.Error("report cache clear failed", "report_type", reportType, "error", err)
		writeError(w, http.StatusInternalServerError, "report cache clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": reportType})
}

// handleClearReports handles DELETE /v1/reports.
func (s *Server) handleClearReports(w http.ResponseWriter, r *http.Request) {
	if err := s.reports.ClearAll(r.Context()); err != nil {
		s.logger.Error("report cache clear failed", "error", err)
		writeError(w, http.StatusInternalServerError, "report cache clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": "all"})
}

// handleRecordAttack handles POST /v1/ground-truth/attacks.
func (s *Server) handleRecordAttack(w http.ResponseWriter, r *http.Request) {
	var attack schema.RedTeamAttack
	if err := decodeBody(r, &attack); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if attack.AttackType == "" {
		writeError(w, http.StatusBadRequest, "attack_type is required")
		return
	}

	id, err := s.reconciler.RecordRedTeamAttack(r.Context(), &attack)
	if err != nil {
		s.logger.Error("failed to record attack", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record attack")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// handleMarkDetected handles POST /v1/ground-truth/attacks/{id}/detected.
func (s *Server) handleMarkDetected(w http.ResponseWriter, r *http.Request) {
	attackID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attack id")
		return
	}

	var body struct {
		DetectionID uuid.UUID `json:"detection_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.DetectionID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "detection_id is required")
		return
	}

	if err := s.reconciler.MarkAttackDetected(r.Context(), attackID, body.DetectionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "attack not found")
			return
		}
		s.logger.Error("failed to mark attack detected", "attack_id", attackID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mark attack detected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attack_id":    attackID,
		"detection_id": body.DetectionID,
	})
}

// handleRecordReview handles POST /v1/ground-truth/reviews.
func (s *Server) handleRecordReview(w http.ResponseWriter, r *http.Request) {
	var review schema.AnalystReview
	if err := decodeBody(r, &review); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if review.LogEntryID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "log_entry_id is required")
		return
	}

	id, err := s.reconciler.RecordAnalystReview(r.Context(), &review)
	if err != nil {
		// Verdict and confidence violations come back as plain errors from
		// the engine, before any storage call.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// handleAddIndicator handles POST /v1/ground-truth/indicators.
func (s *Server) handleAddIndicator(w http.ResponseWriter, r *http.Request) {
	var ind schema.AttackIndicator
	if err := decodeBody(r, &ind); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ind.IndicatorType != "" && !ind.IndicatorType.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid indicator_type: %q", ind.IndicatorType))
		return
	}

	id, err := s.reconciler.AddAttackIndicator(r.Context(), &ind)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidData) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to add indicator", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add indicator")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// handleEstablishBaseline handles POST /v1/baseline/{agent_id}/establish.
// Establishment samples for SampleCount*SampleInterval, so the response
// is not immediate.
func (s *Server) handleEstablishBaseline(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")

	b, err := s.learner.Establish(r.Context(), agentID)
	if err != nil {
		s.logger.Error("baseline establishment failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "baseline establishment failed")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// handleRebaseline handles POST /v1/baseline/{agent_id}/rebaseline.
// Supersedes the live snapshot with a freshly sampled one.
func (s *Server) handleRebaseline(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")

	b, err := s.learner.UpdateBaseline(r.Context(), agentID)
	if err != nil {
		s.logger.Error("rebaseline failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "rebaseline failed")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleGetBaseline handles GET /v1/baseline/{agent_id}.
func (s *Server) handleGetBaseline(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")

	b, err := s.learner.Get(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, baseline.ErrNoBaseline) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("baseline read failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "baseline read failed")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleEvaluateBaseline handles POST /v1/baseline/{agent_id}/evaluate.
func (s *Server) handleEvaluateBaseline(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")

	var observed baseline.Metrics
	if err := decodeBody(r, &observed); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	assessment, err := s.learner.Evaluate(r.Context(), agentID, observed)
	if err != nil {
		if errors.Is(err, baseline.ErrNoBaseline) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("baseline evaluation failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "baseline evaluation failed")
		return
	}
	if s.assessments != nil {
		s.assessments.Put(assessment)
	}
	writeJSON(w, http.StatusOK, assessment)
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
