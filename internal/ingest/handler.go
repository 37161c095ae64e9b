// Package ingest handles HTTP ingestion of log entries.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/logging"
	"sentinel-soc/internal/metrics"
	"sentinel-soc/internal/queue"
	"sentinel-soc/internal/schema"
	"sentinel-soc/internal/storage"
)

// QuarantineSink receives invalid submissions for operator inspection.
// *storage.QuarantineWriter satisfies it.
type QuarantineSink interface {
	Write(ctx context.Context, entry *storage.QuarantineEntry) error
}

// Handler handles HTTP log-entry ingestion.
type Handler struct {
	validator    *schema.Validator
	queue        *queue.RingBuffer
	quarantine   QuarantineSink
	logger       *slog.Logger
	maxPayload   int
	maxBatch     int
	startTime    time.Time
	entriesTotal uint64
}

// NewHandler creates a new ingest Handler. quarantine may be nil, in
// which case invalid submissions are rejected without being retained.
func NewHandler(validator *schema.Validator, q *queue.RingBuffer, quarantine QuarantineSink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		validator:  validator,
		queue:      q,
		quarantine: quarantine,
		logger:     logger,
		maxPayload: 10 * 1024 * 1024, // 10MB default
		maxBatch:   1000,
		startTime:  time.Now(),
	}
}

// WithMaxPayload sets the maximum payload size.
func (h *Handler) WithMaxPayload(size int) *Handler {
	h.maxPayload = size
	return h
}

// WithMaxBatch sets the maximum batch size.
func (h *Handler) WithMaxBatch(size int) *Handler {
	h.maxBatch = size
	return h
}

// IngestRequest is the request body for log ingestion.
type IngestRequest struct {
	Entries []EntryInput `json:"entries"`
}

// EntryInput is the input format for log entries.
type EntryInput struct {
	ID          *uuid.UUID          `json:"id,omitempty"`
	AgentID     string              `json:"agent_id"`
	Source      string              `json:"source"`
	Timestamp   time.Time           `json:"timestamp"`
	Level       schema.LogLevel     `json:"level"`
	Message     string              `json:"message"`
	ProcessInfo *schema.ProcessInfo `json:"process_info,omitempty"`
	NetworkInfo *schema.NetworkInfo `json:"network_info,omitempty"`
	CommandLine string              `json:"command_line,omitempty"`
}

// IngestResponse is the response for log ingestion.
type IngestResponse struct {
	Success   bool     `json:"success"`
	Accepted  int      `json:"accepted"`
	Rejected  int      `json:"rejected"`
	Errors    []string `json:"errors,omitempty"`
	RequestID string   `json:"request_id"`
}

// HandleLogs handles POST /v1/logs.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large", requestID)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}

	var req IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}

	if len(req.Entries) == 0 {
		respondError(w, http.StatusBadRequest, "no entries provided", requestID)
		return
	}

	if len(req.Entries) > h.maxBatch {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("batch size exceeds maximum of %d", h.maxBatch), requestID)
		return
	}

	var accepted, rejected int
	var errs []string

	for i, input := range req.Entries {
		entry := h.convertInput(input)

		if err := h.validator.Validate(entry); err != nil {
			rejected++
			errs = append(errs, fmt.Sprintf("entry[%d]: %s", i, err.Error()))
			h.quarantineInvalid(r, input, err)
			continue
		}

		if err := h.queue.Push(entry); err != nil {
			rejected++
			if errors.Is(err, queue.ErrQueueFull) {
				metrics.EntriesDropped.Inc()
				errs = append(errs, fmt.Sprintf("entry[%d]: queue full", i))
			} else {
				errs = append(errs, fmt.Sprintf("entry[%d]: %s", i, err.Error()))
			}
			continue
		}

		accepted++
		atomic.AddUint64(&h.entriesTotal, 1)
		metrics.EntriesIngested.WithLabelValues("http").Inc()
	}

	metrics.QueueDepth.Set(float64(h.queue.Len()))

	resp := IngestResponse{
		Success:   rejected == 0,
		Accepted:  accepted,
		Rejected:  rejected,
		RequestID: requestID,
	}
	if len(errs) > 0 {
		resp.Errors = errs
	}

	status := http.StatusOK
	if accepted == 0 && rejected > 0 {
		status = http.StatusBadRequest
	} else if rejected > 0 {
		status = http.StatusMultiStatus // 207 for partial success
	}

	respondJSON(w, status, resp)
}

// convertInput converts an EntryInput to a canonical LogEntry.
func (h *Handler) convertInput(input EntryInput) *schema.LogEntry {
	entry := &schema.LogEntry{
		AgentID:     input.AgentID,
		Source:      input.Source,
		Timestamp:   input.Timestamp,
		Level:       input.Level,
		Message:     input.Message,
		ProcessInfo: input.ProcessInfo,
		NetworkInfo: input.NetworkInfo,
		CommandLine: input.CommandLine,
		ReceivedAt:  time.Now().UTC(),
	}

	if input.ID != nil {
		entry.ID = *input.ID
	} else {
		entry.ID = uuid.New()
	}

	return entry
}

// quarantineInvalid retains a rejected submission. Best effort: the
// client already gets the rejection in the response, so a quarantine
// write failure is only logged.
func (h *Handler) quarantineInvalid(r *http.Request, input EntryInput, valErr error) {
	metrics.EntriesQuarantined.WithLabelValues("http").Inc()
	if h.quarantine == nil {
		return
	}

	raw, err := json.Marshal(input)
	if err != nil {
		raw = []byte(fmt.Sprintf("%+v", input))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	qe := &storage.QuarantineEntry{
		RawEntry:         logging.SanitizeRawPayload(string(raw)),
		RemoteAddr:       r.RemoteAddr,
		Transport:        "http",
		ValidationErrors: []string{valErr.Error()},
		ErrorCode:        "VALIDATION_FAILED",
	}
	if err := h.quarantine.Write(ctx, qe); err != nil {
		h.logger.Warn("failed to quarantine invalid entry",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
	}
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	qm := h.queue.Metrics()

	status := "healthy"
	if qm.Depth > int(float64(qm.Capacity)*0.9) {
		status = "degraded"
	}

	resp := map[string]any{
		"status":         status,
		"queue_depth":    qm.Depth,
		"queue_capacity": qm.Capacity,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	}

	respondJSON(w, http.StatusOK, resp)
}

// EntriesTotal reports how many entries this handler has accepted.
func (h *Handler) EntriesTotal() uint64 {
	return atomic.LoadUint64(&h.entriesTotal)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string, requestID string) {
	resp := map[string]any{
		"success":    false,
		"error":      message,
		"request_id": requestID,
	}
	respondJSON(w, status, resp)
}
