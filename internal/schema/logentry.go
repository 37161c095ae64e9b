// Package schema defines the canonical data model for Sentinel-SOC.
// All ingested log entries are normalized to this structure before analysis.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry represents one observed event from a monitored endpoint.
// Entries are immutable once ingested; the analysis core reads them but
// never rewrites them.
type LogEntry struct {
	// Required fields
	ID        uuid.UUID `json:"id" validate:"required"`
	AgentID   string    `json:"agent_id" validate:"required,max=128"`
	Source    string    `json:"source" validate:"required,source_format,max=256"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Level     LogLevel  `json:"level" validate:"required,oneof=debug info warning error critical"`
	Message   string    `json:"message" validate:"required,max=65536"`

	// Optional structured fields
	ProcessInfo *ProcessInfo `json:"process_info,omitempty"`
	NetworkInfo *NetworkInfo `json:"network_info,omitempty"`
	CommandLine string       `json:"command_line,omitempty" validate:"max=8192"`

	// Internal fields (set by the ingestion adapter)
	ReceivedAt time.Time `json:"received_at"`
}

// ProcessInfo carries process context for an entry, when the agent has it.
type ProcessInfo struct {
	PID        int    `json:"pid,omitempty"`
	Name       string `json:"name,omitempty" validate:"max=256"`
	Path       string `json:"path,omitempty" validate:"max=1024"`
	ParentPID  int    `json:"parent_pid,omitempty"`
	ParentName string `json:"parent_name,omitempty" validate:"max=256"`
	User       string `json:"user,omitempty" validate:"max=256"`
}

// NetworkInfo carries connection context for an entry, when the agent has it.
type NetworkInfo struct {
	SourceIP   string `json:"source_ip,omitempty" validate:"omitempty,ip"`
	DestIP     string `json:"dest_ip,omitempty" validate:"omitempty,ip"`
	SourcePort int    `json:"source_port,omitempty" validate:"omitempty,min=0,max=65535"`
	DestPort   int    `json:"dest_port,omitempty" validate:"omitempty,min=0,max=65535"`
	Protocol   string `json:"protocol,omitempty" validate:"max=32"`
	Direction  string `json:"direction,omitempty" validate:"omitempty,oneof=inbound outbound internal unknown"`
}

// LogLevel is the severity of the originating log line.
type LogLevel string

const (
	LevelDebug    LogLevel = "debug"
	LevelInfo     LogLevel = "info"
	LevelWarning  LogLevel = "warning"
	LevelError    LogLevel = "error"
	LevelCritical LogLevel = "critical"
)

// IsValid checks if the level is a valid value.
func (l LogLevel) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// SearchableText returns the concatenation of the entry's free-text fields,
// in the order the detectors scan them.
func (e *LogEntry) SearchableText() string {
	text := e.Message
	if e.CommandLine != "" {
		text += " " + e.CommandLine
	}
	if e.ProcessInfo != nil {
		if e.ProcessInfo.Name != "" {
			text += " " + e.ProcessInfo.Name
		}
		if e.ProcessInfo.Path != "" {
			text += " " + e.ProcessInfo.Path
		}
	}
	return text
}
