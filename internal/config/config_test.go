package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Queue.Size != 100000 {
		t.Errorf("Queue.Size = %d, want 100000", cfg.Queue.Size)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
	if cfg.Storage.ClickHouse.Database != "sentinel" {
		t.Errorf("ClickHouse.Database = %q, want sentinel", cfg.Storage.ClickHouse.Database)
	}
	if cfg.Kafka.Enabled {
		t.Error("Kafka enabled by default")
	}
	if cfg.Kafka.Topic != "sentinel-logs" {
		t.Errorf("Kafka.Topic = %q, want sentinel-logs", cfg.Kafka.Topic)
	}
	if cfg.Baseline.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want localhost:6379", cfg.Baseline.Redis.Addr)
	}
	if cfg.Reports.ArchiveEnabled {
		t.Error("report archival enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"zero port", func(c *Config) { c.Server.HTTPPort = 0 }, true},
		{"port too large", func(c *Config) { c.Server.HTTPPort = 70000 }, true},
		{"zero queue size", func(c *Config) { c.Queue.Size = 0 }, true},
		{"zero batch size", func(c *Config) { c.Ingest.MaxBatchSize = 0 }, true},
		{"zero workers", func(c *Config) { c.Consumer.Workers = 0 }, true},
		{
			"kafka enabled without brokers",
			func(c *Config) {
				c.Kafka.Enabled = true
				c.Kafka.Brokers = nil
			},
			true,
		},
		{
			"kafka disabled ignores broker config",
			func(c *Config) {
				c.Kafka.Enabled = false
				c.Kafka.Brokers = nil
			},
			false,
		},
		{
			"archive enabled without bucket",
			func(c *Config) {
				c.Reports.ArchiveEnabled = true
				c.Reports.S3.Bucket = ""
			},
			true,
		},
		{
			"archive enabled with bucket",
			func(c *Config) {
				c.Reports.ArchiveEnabled = true
				c.Reports.S3.Bucket = "sentinel-reports"
			},
			false,
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

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("SENTINEL_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want default 8080", cfg.Server.HTTPPort)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  http_port: 9090
logging:
  level: debug
storage:
  clickhouse:
    database: sentinel_test
detection:
  indicator_refresh: 30s
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SENTINEL_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Storage.ClickHouse.Database != "sentinel_test" {
		t.Errorf("ClickHouse.Database = %q, want sentinel_test", cfg.Storage.ClickHouse.Database)
	}
	if cfg.Detection.IndicatorRefresh != 30*time.Second {
		t.Errorf("IndicatorRefresh = %v, want 30s", cfg.Detection.IndicatorRefresh)
	}
	// Values the file does not mention keep their defaults.
	if cfg.Queue.Size != 100000 {
		t.Errorf("Queue.Size = %d, want default 100000", cfg.Queue.Size)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SENTINEL_CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Error("Load() error = nil for malformed yaml, want error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("SENTINEL_HTTP_PORT", "9191")
	t.Setenv("SENTINEL_LOG_LEVEL", "warn")
	t.Setenv("SENTINEL_API_KEY", "sk-test-key")
	t.Setenv("CLICKHOUSE_HOST", "ch1.internal:9000")
	t.Setenv("KAFKA_BROKERS", "kafka1:9092, kafka2:9092")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("SENTINEL_REPORTS_BUCKET", "sentinel-archive")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 9191 {
		t.Errorf("HTTPPort = %d, want 9191", cfg.Server.HTTPPort)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	if !cfg.Auth.Enabled || len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0] != "sk-test-key" {
		t.Errorf("Auth = %+v, want enabled with one key", cfg.Auth)
	}
	if len(cfg.Storage.ClickHouse.Hosts) != 1 || cfg.Storage.ClickHouse.Hosts[0] != "ch1.internal:9000" {
		t.Errorf("ClickHouse.Hosts = %v", cfg.Storage.ClickHouse.Hosts)
	}
	if !cfg.Kafka.Enabled {
		t.Error("KAFKA_BROKERS did not enable kafka")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka2:9092" {
		t.Errorf("Kafka.Brokers = %v, want two trimmed brokers", cfg.Kafka.Brokers)
	}
	if cfg.Baseline.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Baseline.Redis.Addr)
	}
	if !cfg.Reports.ArchiveEnabled || cfg.Reports.S3.Bucket != "sentinel-archive" {
		t.Errorf("Reports = %+v, want archival to sentinel-archive", cfg.Reports)
	}
}
