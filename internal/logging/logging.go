// Package logging provides logger construction and payload redaction.
// Quarantined submissions are stored verbatim for operator inspection,
// except for credential-bearing fields, which are masked first.
package logging

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// New builds a process logger. Unknown levels fall back to info, unknown
// formats to JSON.
func New(level, format string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: l}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// sensitiveFields are field names whose values never belong in the
// quarantine table or in logs. Matching is by substring on the lowered
// field name.
var sensitiveFields = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"private_key",
	"credential",
	"authorization",
	"bearer",
	"cookie",
}

// MaskedValue replaces redacted values.
const MaskedValue = "[REDACTED]"

// IsSensitiveField reports whether a field name should have its value
// masked.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskSensitiveValue masks value when the field name is sensitive.
func MaskSensitiveValue(fieldName, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveField(fieldName) {
		return MaskedValue
	}
	return value
}

// jsonFieldPattern matches `"key": "value"` pairs so raw payloads can be
// redacted without a full parse; malformed payloads are exactly the ones
// that end up quarantined.
var jsonFieldPattern = regexp.MustCompile(`"([^"]+)"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// SanitizeRawPayload masks the values of sensitive fields inside a raw
// JSON-ish payload before it is stored or logged. Non-sensitive content
// is preserved byte for byte.
func SanitizeRawPayload(raw string) string {
	return jsonFieldPattern.ReplaceAllStringFunc(raw, func(match string) string {
		sub := jsonFieldPattern.FindStringSubmatch(match)
		if sub == nil || !IsSensitiveField(sub[1]) {
			return match
		}
		return `"` + sub[1] + `": "` + MaskedValue + `"`
	})
}
