package logging

import (
	"strings"
	"testing"
)

func TestMaskSensitiveValue(t *testing.T) {
	tests := []struct {
		name      string
		fieldName string
		value     string
		expected  string
	}{
		{
			name:      "password field",
			fieldName: "password",
			value:     "hunter2",
			expected:  MaskedValue,
		},
		{
			name:      "api_key field",
			fieldName: "api_key",
			value:     "sk_live_12345",
			expected:  MaskedValue,
		},
		{
			name:      "field containing sensitive keyword",
			fieldName: "smtp_password",
			value:     "dbpass123",
			expected:  MaskedValue,
		},
		{
			name:      "normal field",
			fieldName: "agent_id",
			value:     "web-01",
			expected:  "web-01",
		},
		{
			name:      "empty value passes through",
			fieldName: "password",
			value:     "",
			expected:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskSensitiveValue(tt.fieldName, tt.value); got != tt.expected {
				t.Errorf("MaskSensitiveValue(%q, %q) = %q, want %q",
					tt.fieldName, tt.value, got, tt.expected)
			}
		})
	}
}

func TestSanitizeRawPayload(t *testing.T) {
	raw := `{"agent_id": "web-01", "message": "login failed", "api_key": "sk_live_12345", "nested": {"password": "hunter2"}}`

	got := SanitizeRawPayload(raw)

	if strings.Contains(got, "sk_live_12345") || strings.Contains(got, "hunter2") {
		t.Errorf("secrets survived sanitization: %s", got)
	}
	if !strings.Contains(got, `"agent_id": "web-01"`) {
		t.Errorf("non-sensitive content altered: %s", got)
	}
	if !strings.Contains(got, MaskedValue) {
		t.Errorf("no masking marker in output: %s", got)
	}
}

func TestSanitizeRawPayload_MalformedInput(t *testing.T) {
	// Truncated JSON still gets its complete pairs masked.
	raw := `{"token": "abc123", "message": "broken`

	got := SanitizeRawPayload(raw)
	if strings.Contains(got, "abc123") {
		t.Errorf("secret survived in malformed payload: %s", got)
	}
}

func TestNew_Levels(t *testing.T) {
	// Construction must not panic for any input; level parsing is lenient.
	for _, level := range []string{"debug", "info", "warn", "error", "bogus", ""} {
		for _, format := range []string{"json", "text", ""} {
			if logger := New(level, format); logger == nil {
				t.Fatalf("New(%q, %q) returned nil", level, format)
			}
		}
	}
}
