package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/queue"
	"sentinel-soc/internal/schema"
	"sentinel-soc/internal/storage"
)

type fakeQuarantine struct {
	mu      sync.Mutex
	entries []*storage.QuarantineEntry
	err     error
}

func (f *fakeQuarantine) Write(_ context.Context, entry *storage.QuarantineEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeQuarantine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func newTestHandler(queueSize int, sink QuarantineSink) (*Handler, *queue.RingBuffer) {
	q := queue.NewRingBuffer(queueSize)
	h := NewHandler(schema.NewValidator(), q, sink, nil)
	return h, q
}

func validInput(agentID string) EntryInput {
	return EntryInput{
		AgentID:   agentID,
		Source:    "windows.security",
		Timestamp: time.Now().UTC(),
		Level:     schema.LevelWarning,
		Message:   "logon failure for administrator",
	}
}

func postLogs(t *testing.T, h *Handler, req IngestRequest) (*httptest.ResponseRecorder, IngestResponse) {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/logs", bytes.NewReader(body))
	r.RemoteAddr = "10.0.0.5:54321"
	h.HandleLogs(rec, r)

	var resp IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return rec, resp
}

func TestHandleLogs_AcceptsValidBatch(t *testing.T) {
	sink := &fakeQuarantine{}
	h, q := newTestHandler(10, sink)

	rec, resp := postLogs(t, h, IngestRequest{
		Entries: []EntryInput{validInput("agent-1"), validInput("agent-2")},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !resp.Success || resp.Accepted != 2 || resp.Rejected != 0 {
		t.Errorf("response = %+v, want 2 accepted", resp)
	}
	if q.Len() != 2 {
		t.Errorf("queue depth = %d, want 2", q.Len())
	}
	if sink.count() != 0 {
		t.Errorf("quarantined %d entries for a valid batch", sink.count())
	}

	entry, err := q.Pop()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if entry.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want agent-1 (FIFO)", entry.AgentID)
	}
	if entry.ID == uuid.Nil {
		t.Error("entry ID not assigned")
	}
	if entry.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
}

func TestHandleLogs_PartialFailureQuarantines(t *testing.T) {
	sink := &fakeQuarantine{}
	h, _ := newTestHandler(10, sink)

	bad := validInput("agent-1")
	bad.Source = "Windows.Security" // uppercase violates source format

	rec, resp := postLogs(t, h, IngestRequest{
		Entries: []EntryInput{validInput("agent-1"), bad},
	})

	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d, want 207", rec.Code)
	}
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Errorf("response = %+v, want 1 accepted 1 rejected", resp)
	}
	if len(resp.Errors) != 1 || !strings.Contains(resp.Errors[0], "entry[1]") {
		t.Errorf("Errors = %v, want one error naming entry[1]", resp.Errors)
	}

	if sink.count() != 1 {
		t.Fatalf("quarantined = %d, want 1", sink.count())
	}
	qe := sink.entries[0]
	if qe.Transport != "http" {
		t.Errorf("Transport = %q, want http", qe.Transport)
	}
	if qe.ErrorCode != "VALIDATION_FAILED" {
		t.Errorf("ErrorCode = %q", qe.ErrorCode)
	}
	if qe.RemoteAddr != "10.0.0.5:54321" {
		t.Errorf("RemoteAddr = %q", qe.RemoteAddr)
	}
	if !strings.Contains(qe.RawEntry, "Windows.Security") {
		t.Errorf("RawEntry does not carry the offending payload: %s", qe.RawEntry)
	}
}

func TestHandleLogs_AllInvalid(t *testing.T) {
	sink := &fakeQuarantine{}
	h, _ := newTestHandler(10, sink)

	bad := validInput("")

	rec, resp := postLogs(t, h, IngestRequest{Entries: []EntryInput{bad}})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if resp.Accepted != 0 || resp.Rejected != 1 {
		t.Errorf("response = %+v, want all rejected", resp)
	}
}

func TestHandleLogs_QuarantineFailureDoesNotFailRequest(t *testing.T) {
	sink := &fakeQuarantine{err: errors.New("clickhouse down")}
	h, _ := newTestHandler(10, sink)

	bad := validInput("agent-1")
	bad.Level = "loud"

	rec, resp := postLogs(t, h, IngestRequest{
		Entries: []EntryInput{validInput("agent-1"), bad},
	})

	if rec.Code != http.StatusMultiStatus {
		t.Errorf("status = %d, want 207", rec.Code)
	}
	if resp.Accepted != 1 {
		t.Errorf("Accepted = %d, want 1", resp.Accepted)
	}
}

func TestHandleLogs_QueueFull(t *testing.T) {
	h, q := newTestHandler(1, nil)

	rec, resp := postLogs(t, h, IngestRequest{
		Entries: []EntryInput{validInput("agent-1"), validInput("agent-2")},
	})

	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d, want 207", rec.Code)
	}
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Errorf("response = %+v, want 1 accepted 1 rejected", resp)
	}
	if len(resp.Errors) == 0 || !strings.Contains(resp.Errors[0], "queue full") {
		t.Errorf("Errors = %v, want queue full", resp.Errors)
	}
	if q.Len() != 1 {
		t.Errorf("queue depth = %d, want 1", q.Len())
	}
}

func TestHandleLogs_MalformedRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{not json", http.StatusBadRequest},
		{"empty batch", `{"entries":[]}`, http.StatusBadRequest},
		{"missing entries", `{}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(10, nil)

			rec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/v1/logs", strings.NewReader(tt.body))
			h.HandleLogs(rec, r)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandleLogs_BatchTooLarge(t *testing.T) {
	h, _ := newTestHandler(10, nil)
	h.WithMaxBatch(2)

	rec, _ := postLogs(t, h, IngestRequest{
		Entries: []EntryInput{validInput("a"), validInput("b"), validInput("c")},
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleLogs_PayloadTooLarge(t *testing.T) {
	h, _ := newTestHandler(10, nil)
	h.WithMaxPayload(64)

	big := validInput("agent-1")
	big.Message = strings.Repeat("x", 1024)

	rec, _ := postLogs(t, h, IngestRequest{Entries: []EntryInput{big}})

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	h, q := newTestHandler(10, nil)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}

	// Fill past 90% of capacity.
	for i := 0; i < 10; i++ {
		entry := &schema.LogEntry{AgentID: "a"}
		if err := q.Push(entry); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded at full queue", resp["status"])
	}
}
