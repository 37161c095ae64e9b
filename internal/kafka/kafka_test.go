package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/schema"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"no brokers", func(c *Config) { c.Brokers = nil }, true},
		{"no topic", func(c *Config) { c.Topic = "" }, true},
		{"bad security protocol", func(c *Config) { c.SecurityProtocol = "KERBEROS" }, true},
		{
			"sasl without credentials",
			func(c *Config) {
				c.SecurityProtocol = "SASL_PLAINTEXT"
				c.SASLMechanism = "PLAIN"
			},
			true,
		},
		{
			"sasl plain with credentials",
			func(c *Config) {
				c.SecurityProtocol = "SASL_PLAINTEXT"
				c.SASLMechanism = "PLAIN"
				c.SASLUsername = "svc-sentinel"
				c.SASLPassword = "secret"
			},
			false,
		},
		{
			"sasl with bad mechanism",
			func(c *Config) {
				c.SecurityProtocol = "SASL_SSL"
				c.SASLMechanism = "DIGEST-MD5"
				c.SASLUsername = "u"
				c.SASLPassword = "p"
			},
			true,
		},
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

func TestConfig_GetCompression(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gzip", "gzip"},
		{"snappy", "snappy"},
		{"lz4", "lz4"},
		{"zstd", "zstd"},
		{"none", "uncompressed"},
		{"", "uncompressed"},
	}

	for _, tt := range tests {
		cfg := &Config{CompressionType: tt.in}
		codec := cfg.GetCompression()
		if tt.want == "uncompressed" {
			if codec != 0 {
				t.Errorf("GetCompression(%q) = %v, want no compression", tt.in, codec)
			}
			continue
		}
		if codec == 0 {
			t.Errorf("GetCompression(%q) = no compression, want %s", tt.in, tt.want)
		}
	}
}

func TestConfig_GetDialer(t *testing.T) {
	t.Run("plaintext has no tls or sasl", func(t *testing.T) {
		dialer, err := DefaultConfig().GetDialer()
		if err != nil {
			t.Fatalf("GetDialer() error = %v", err)
		}
		if dialer.TLS != nil {
			t.Error("TLS configured for PLAINTEXT")
		}
		if dialer.SASLMechanism != nil {
			t.Error("SASL configured for PLAINTEXT")
		}
	})

	t.Run("sasl plain", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SecurityProtocol = "SASL_PLAINTEXT"
		cfg.SASLMechanism = "PLAIN"
		cfg.SASLUsername = "svc-sentinel"
		cfg.SASLPassword = "secret"

		dialer, err := cfg.GetDialer()
		if err != nil {
			t.Fatalf("GetDialer() error = %v", err)
		}
		if dialer.SASLMechanism == nil {
			t.Error("SASL mechanism not configured")
		}
	})

	t.Run("ssl enables tls", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SecurityProtocol = "SSL"

		dialer, err := cfg.GetDialer()
		if err != nil {
			t.Fatalf("GetDialer() error = %v", err)
		}
		if dialer.TLS == nil {
			t.Error("TLS not configured for SSL protocol")
		}
	})
}

func TestDecodeEntry(t *testing.T) {
	valid := &schema.LogEntry{
		ID:        uuid.New(),
		AgentID:   "agent-007",
		Source:    "windows.security",
		Timestamp: time.Now().UTC(),
		Level:     schema.LevelWarning,
		Message:   "logon failure",
	}
	raw, err := json.Marshal(valid)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	tests := []struct {
		name    string
		raw     []byte
		wantErr bool
	}{
		{"valid entry", raw, false},
		{"invalid json", []byte("{not json"), true},
		{"missing agent id", []byte(`{"message":"x"}`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := decodeEntry(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeEntry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && entry.AgentID != valid.AgentID {
				t.Errorf("AgentID = %q, want %q", entry.AgentID, valid.AgentID)
			}
		})
	}
}

func TestNewConsumer_RequiresHandler(t *testing.T) {
	if _, err := NewConsumer(DefaultConfig(), nil, nil, nil); err == nil {
		t.Error("NewConsumer() error = nil without handler, want error")
	}
}

func TestIsNonRetryableError(t *testing.T) {
	if isNonRetryableError(nil) {
		t.Error("nil error reported as non-retryable")
	}
}
