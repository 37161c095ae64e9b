package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEntry() *LogEntry {
	return &LogEntry{
		ID:        uuid.New(),
		AgentID:   "agent-001",
		Source:    "windows.security",
		Timestamp: time.Now().UTC(),
		Level:     LevelWarning,
		Message:   "failed login attempt for user admin",
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		mutate  func(*LogEntry)
		wantErr bool
	}{
		{
			name:    "valid entry",
			mutate:  func(e *LogEntry) {},
			wantErr: false,
		},
		{
			name:    "missing agent id",
			mutate:  func(e *LogEntry) { e.AgentID = "" },
			wantErr: true,
		},
		{
			name:    "missing message",
			mutate:  func(e *LogEntry) { e.Message = "" },
			wantErr: true,
		},
		{
			name:    "invalid level",
			mutate:  func(e *LogEntry) { e.Level = "fatal" },
			wantErr: true,
		},
		{
			name:    "invalid source format",
			mutate:  func(e *LogEntry) { e.Source = "Windows Security!" },
			wantErr: true,
		},
		{
			name:    "timestamp too old",
			mutate:  func(e *LogEntry) { e.Timestamp = time.Now().Add(-30 * 24 * time.Hour) },
			wantErr: true,
		},
		{
			name:    "timestamp in future",
			mutate:  func(e *LogEntry) { e.Timestamp = time.Now().Add(time.Hour) },
			wantErr: true,
		},
		{
			name: "invalid network info ip",
			mutate: func(e *LogEntry) {
				e.NetworkInfo = &NetworkInfo{SourceIP: "not-an-ip"}
			},
			wantErr: true,
		},
		{
			name: "valid network info",
			mutate: func(e *LogEntry) {
				e.NetworkInfo = &NetworkInfo{SourceIP: "10.0.0.5", DestPort: 4444, Direction: "outbound"}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := validEntry()
			tt.mutate(entry)
			err := v.Validate(entry)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSource(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"windows.security", true},
		{"linux-auditd", true},
		{"endpoint_process", true},
		{"system", true},
		{"Windows.Security", false},
		{"1endpoint", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ValidateSource(tt.source); got != tt.want {
			t.Errorf("ValidateSource(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestScoreToSeverity(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.95, SeverityCritical},
		{0.8, SeverityCritical},
		{0.7, SeverityHigh},
		{0.6, SeverityHigh},
		{0.5, SeverityMedium},
		{0.3, SeverityLow},
		{0.1, SeverityBenign},
		{0.0, SeverityBenign},
	}

	for _, tt := range tests {
		if got := ScoreToSeverity(tt.score); got != tt.want {
			t.Errorf("ScoreToSeverity(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestSeverity_Bump(t *testing.T) {
	tests := []struct {
		in   Severity
		want Severity
	}{
		{SeverityBenign, SeverityLow},
		{SeverityLow, SeverityMedium},
		{SeverityMedium, SeverityHigh},
		{SeverityHigh, SeverityCritical},
		{SeverityCritical, SeverityCritical},
	}

	for _, tt := range tests {
		if got := tt.in.Bump(); got != tt.want {
			t.Errorf("%v.Bump() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
