// Package config handles configuration loading for Sentinel-SOC.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel-soc/internal/baseline"
	"sentinel-soc/internal/fusion"
	"sentinel-soc/internal/kafka"
	"sentinel-soc/internal/reconcile"
	"sentinel-soc/internal/storage"
	"sentinel-soc/internal/storage/s3"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Queue      QueueConfig      `yaml:"queue"`
	Validation ValidationConfig `yaml:"validation"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Detection  DetectionConfig  `yaml:"detection"`
	Baseline   BaselineConfig   `yaml:"baseline"`
	Reconcile  reconcile.Config `yaml:"reconcile"`
	Reports    ReportsConfig    `yaml:"reports"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	MaxBatchSize   int `yaml:"max_batch_size"`
	MaxPayloadSize int `yaml:"max_payload_size"`
}

// QueueConfig holds queue settings.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// ValidationConfig holds validation settings.
type ValidationConfig struct {
	MaxEntryAge time.Duration `yaml:"max_entry_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
	Enabled      bool     `yaml:"enabled"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"`
	WindowSize    time.Duration `yaml:"window_size"`
	BurstSize     int           `yaml:"burst_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	ExemptPaths   []string      `yaml:"exempt_paths"`
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	ClickHouse  storage.ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter storage.BatchWriterConfig `yaml:"batch_writer"`
	Retention   storage.RetentionConfig   `yaml:"retention"`
}

// ConsumerConfig holds analysis worker pool settings.
type ConsumerConfig struct {
	Workers      int           `yaml:"workers"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// KafkaConfig wraps the streaming transport settings with an enable flag;
// HTTP ingestion works without a broker.
type KafkaConfig struct {
	Enabled bool `yaml:"enabled"`
	kafka.Config `yaml:",inline"`
}

// DetectionConfig holds fusion engine and detector settings.
type DetectionConfig struct {
	Fusion fusion.Config `yaml:"fusion"`
	// RulesPath optionally overrides the built-in signature rule table.
	RulesPath string `yaml:"rules_path"`
	// ModelsDir is where ML model artifacts are loaded from at startup.
	ModelsDir string `yaml:"models_dir"`
	// IndicatorRefresh bounds staleness of the threat-intel indicator set.
	IndicatorRefresh time.Duration `yaml:"indicator_refresh"`
}

// BaselineConfig holds baseline learner settings.
type BaselineConfig struct {
	Learner baseline.Config      `yaml:"learner"`
	Redis   baseline.RedisConfig `yaml:"redis"`
	// AssessmentMaxAge bounds how long a baseline assessment keeps
	// influencing verdicts.
	AssessmentMaxAge time.Duration `yaml:"assessment_max_age"`
	// SelfAgentID names the server's own agent for periodic
	// self-evaluation; empty disables the scheduler.
	SelfAgentID string `yaml:"self_agent_id"`
	// EvaluateInterval is how often the scheduler re-evaluates.
	EvaluateInterval time.Duration `yaml:"evaluate_interval"`
}

// ReportsConfig holds report cache and archival settings.
type ReportsConfig struct {
	// ArchiveEnabled turns on S3 archival of saved reports.
	ArchiveEnabled bool              `yaml:"archive_enabled"`
	S3             s3.Config         `yaml:"s3"`
	Archiver       s3.ArchiverConfig `yaml:"archiver"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBatchSize:   1000,
			MaxPayloadSize: 10 * 1024 * 1024, // 10MB
		},
		Queue: QueueConfig{
			Size: 100000,
		},
		Validation: ValidationConfig{
			MaxEntryAge: 7 * 24 * time.Hour,
			MaxFuture:   5 * time.Minute,
		},
		Auth: AuthConfig{
			APIKeyHeader: "X-API-Key",
			Enabled:      false,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 1000,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health", "/metrics"},
			TrustProxy:    false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			ClickHouse:  storage.DefaultClickHouseConfig(),
			BatchWriter: storage.DefaultBatchWriterConfig(),
			Retention:   storage.DefaultRetentionConfig(),
		},
		Consumer: ConsumerConfig{
			Workers:      4,
			BatchSize:    200,
			PollInterval: 10 * time.Millisecond,
			ShutdownWait: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Config:  *kafka.DefaultConfig(),
		},
		Detection: DetectionConfig{
			Fusion:           fusion.DefaultConfig(),
			ModelsDir:        "models",
			IndicatorRefresh: time.Minute,
		},
		Baseline: BaselineConfig{
			Learner:          baseline.DefaultConfig(),
			Redis:            baseline.DefaultRedisConfig(),
			AssessmentMaxAge: time.Hour,
			EvaluateInterval: time.Minute,
		},
		Reports: ReportsConfig{
			ArchiveEnabled: false,
			S3:             *s3.DefaultConfig(),
			Archiver:       *s3.DefaultArchiverConfig(),
		},
	}
}

// Load loads configuration from a file or returns defaults. The file
// path comes from SENTINEL_CONFIG_PATH, falling back to
// configs/config.yaml; a missing file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SENTINEL_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SENTINEL_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("SENTINEL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if apiKey := os.Getenv("SENTINEL_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Baseline.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Baseline.Redis.Password = pass
	}

	if dir := os.Getenv("SENTINEL_MODELS_DIR"); dir != "" {
		c.Detection.ModelsDir = dir
	}

	if bucket := os.Getenv("SENTINEL_REPORTS_BUCKET"); bucket != "" {
		c.Reports.ArchiveEnabled = true
		c.Reports.S3.Bucket = bucket
	}
}

func splitAndTrim(s, sep string) []string {
	var parts []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}
	if c.Consumer.Workers <= 0 {
		return fmt.Errorf("consumer workers must be positive")
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Config.Validate(); err != nil {
			return err
		}
	}
	if c.Reports.ArchiveEnabled {
		if err := c.Reports.S3.Validate(); err != nil {
			return err
		}
	}
	return nil
}
