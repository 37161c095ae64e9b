package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"sentinel-soc/internal/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"missing region", func(c *Config) { c.Region = "" }, true},
		{"missing bucket", func(c *Config) { c.Bucket = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetStorageClass(t *testing.T) {
	tests := []struct {
		in   string
		want types.StorageClass
	}{
		{"STANDARD", types.StorageClassStandard},
		{"intelligent_tiering", types.StorageClassIntelligentTiering},
		{"GLACIER", types.StorageClassGlacier},
		{"bogus", types.StorageClassStandard},
		{"", types.StorageClassStandard},
	}

	for _, tt := range tests {
		cfg := &Config{StorageClass: tt.in}
		if got := cfg.GetStorageClass(); got != tt.want {
			t.Errorf("GetStorageClass(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// memUploader records uploads in memory.
type memUploader struct {
	inputs []*UploadInput
	bodies [][]byte
	err    error
}

func (m *memUploader) Upload(_ context.Context, input *UploadInput) (*UploadOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.inputs = append(m.inputs, input)
	m.bodies = append(m.bodies, data)
	return &UploadOutput{Key: input.Key, Size: int64(len(data))}, nil
}

func testReport() *schema.CachedReport {
	return &schema.CachedReport{
		ReportType: "missed_detections",
		ReportData: map[string]any{
			"total_missed": float64(3),
			"confidence":   "high",
		},
		GeneratedAt: time.Date(2026, 4, 2, 15, 4, 5, 0, time.UTC),
	}
}

func TestArchiver_Archive(t *testing.T) {
	up := &memUploader{}
	a := NewArchiver(up, DefaultArchiverConfig(), testLogger())

	if err := a.Archive(context.Background(), testReport()); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	if len(up.inputs) != 1 {
		t.Fatalf("got %d uploads, want 1", len(up.inputs))
	}
	input := up.inputs[0]

	wantKey := "missed_detections/2026/04/02/150405.json.gz"
	if input.Key != wantKey {
		t.Errorf("key = %q, want %q", input.Key, wantKey)
	}
	if input.ContentType != "application/gzip" {
		t.Errorf("content type = %q, want application/gzip", input.ContentType)
	}

	// The body must gunzip back to the report payload.
	zr, err := gzip.NewReader(bytes.NewReader(up.bodies[0]))
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip body: %v", err)
	}

	var payload struct {
		ReportType string         `json:"report_type"`
		Report     map[string]any `json:"report"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ReportType != "missed_detections" {
		t.Errorf("payload report_type = %q, want missed_detections", payload.ReportType)
	}
	if payload.Report["total_missed"] != float64(3) {
		t.Errorf("payload total_missed = %v, want 3", payload.Report["total_missed"])
	}

	metrics := a.GetMetrics()
	if metrics.Archived != 1 || metrics.Failed != 0 {
		t.Errorf("metrics = %+v, want 1 archived, 0 failed", metrics)
	}
}

func TestArchiver_Uncompressed(t *testing.T) {
	up := &memUploader{}
	cfg := DefaultArchiverConfig()
	cfg.Compress = false
	a := NewArchiver(up, cfg, testLogger())

	if err := a.Archive(context.Background(), testReport()); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	input := up.inputs[0]
	if input.ContentType != "application/json" {
		t.Errorf("content type = %q, want application/json", input.ContentType)
	}
	wantKey := "missed_detections/2026/04/02/150405.json"
	if input.Key != wantKey {
		t.Errorf("key = %q, want %q", input.Key, wantKey)
	}
	if !json.Valid(up.bodies[0]) {
		t.Error("uncompressed body is not valid JSON")
	}
}

func TestArchiver_UploadFailure(t *testing.T) {
	up := &memUploader{err: io.ErrUnexpectedEOF}
	a := NewArchiver(up, DefaultArchiverConfig(), testLogger())

	if err := a.Archive(context.Background(), testReport()); err == nil {
		t.Error("Archive() error = nil, want error")
	}
	if metrics := a.GetMetrics(); metrics.Failed != 1 {
		t.Errorf("Failed = %d, want 1", metrics.Failed)
	}
}
