// Package main is the entry point for the Sentinel-SOC analysis server:
// ingestion, storage, detection fusion and the analysis API in one
// process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/api"
	"sentinel-soc/internal/baseline"
	"sentinel-soc/internal/config"
	"sentinel-soc/internal/consumer"
	"sentinel-soc/internal/fusion"
	"sentinel-soc/internal/ingest"
	"sentinel-soc/internal/kafka"
	"sentinel-soc/internal/logging"
	"sentinel-soc/internal/metrics"
	"sentinel-soc/internal/mlmodels"
	"sentinel-soc/internal/queue"
	"sentinel-soc/internal/reconcile"
	"sentinel-soc/internal/reportcache"
	"sentinel-soc/internal/schema"
	"sentinel-soc/internal/signature"
	"sentinel-soc/internal/storage"
	"sentinel-soc/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"queue_size", cfg.Queue.Size,
		"auth_enabled", cfg.Auth.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
		"archive_enabled", cfg.Reports.ArchiveEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	slog.Info("connecting to ClickHouse",
		"hosts", cfg.Storage.ClickHouse.Hosts,
		"database", cfg.Storage.ClickHouse.Database,
	)
	chClient, err := storage.NewClickHouseClient(cfg.Storage.ClickHouse)
	if err != nil {
		slog.Error("failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}

	slog.Info("running database migrations")
	if err := storage.NewMigrator(chClient).Run(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	retention := storage.NewRetentionManager(chClient, cfg.Storage.Retention)
	if err := retention.ApplyTTLs(ctx); err != nil {
		// Retention is housekeeping; the pipeline works without it.
		slog.Warn("failed to apply retention TTLs", "error", err)
	}

	batchWriter := storage.NewBatchWriter(chClient, cfg.Storage.BatchWriter)
	detectionStore := storage.NewDetectionStore(chClient)
	truthStore := storage.NewGroundTruthStore(chClient)
	reportStore := storage.NewReportStore(chClient)
	logStore := storage.NewLogEntryStore(chClient)
	quarantine := storage.NewQuarantineWriter(chClient)

	// Detection pipeline
	table := signature.DefaultRuleTable()
	if cfg.Detection.RulesPath != "" {
		data, err := os.ReadFile(cfg.Detection.RulesPath)
		if err != nil {
			slog.Error("failed to read rules file", "path", cfg.Detection.RulesPath, "error", err)
			os.Exit(1)
		}
		table, err = signature.ParseRuleTable(data)
		if err != nil {
			slog.Error("invalid rules file", "path", cfg.Detection.RulesPath, "error", err)
			os.Exit(1)
		}
		slog.Info("signature rules loaded", "path", cfg.Detection.RulesPath)
	}
	matcher, err := signature.NewMatcher(table, logger)
	if err != nil {
		slog.Error("failed to compile signature rules", "error", err)
		os.Exit(1)
	}

	registry := mlmodels.New(mlmodels.Config{Dir: cfg.Detection.ModelsDir}, logger)
	assessments := baseline.NewAssessmentCache(cfg.Baseline.AssessmentMaxAge)

	detectors := []fusion.Detector{
		fusion.NewSignatureDetector(matcher),
		fusion.NewMLDetector(registry),
		fusion.NewIndicatorDetector(truthStore, cfg.Detection.IndicatorRefresh),
		fusion.NewBehaviorDetector(assessments),
	}
	engine, err := fusion.NewEngine(cfg.Detection.Fusion, detectors, detectionStore, logger)
	if err != nil {
		slog.Error("failed to create fusion engine", "error", err)
		os.Exit(1)
	}

	// Queue and analysis workers
	entryQueue := queue.NewRingBuffer(cfg.Queue.Size)
	workers := consumer.New(entryQueue, batchWriter, engine, consumer.Config{
		Workers:      cfg.Consumer.Workers,
		BatchSize:    cfg.Consumer.BatchSize,
		PollInterval: cfg.Consumer.PollInterval,
		ShutdownWait: cfg.Consumer.ShutdownWait,
	}, logger)
	workers.Start(ctx)

	// Baseline learner; Redis is preferred, memory keeps a single node
	// working without one.
	var baselineStore baseline.Store
	var redisStore *baseline.RedisStore
	redisStore, err = baseline.NewRedisStore(cfg.Baseline.Redis)
	if err != nil {
		slog.Warn("redis unavailable, baselines held in memory", "addr", cfg.Baseline.Redis.Addr, "error", err)
		baselineStore = baseline.NewMemoryStore()
		redisStore = nil
	} else {
		baselineStore = redisStore
	}
	learner := baseline.NewLearner(cfg.Baseline.Learner, baseline.NewHostSampler(), baselineStore, logger)

	var scheduler *baseline.Scheduler
	if cfg.Baseline.SelfAgentID != "" {
		scheduler = baseline.NewScheduler(learner, baseline.NewHostSampler(), assessments,
			cfg.Baseline.SelfAgentID, cfg.Baseline.EvaluateInterval, logger)
		scheduler.Start(ctx)
	}

	// Reconciliation and report cache
	reconciler := reconcile.NewEngine(cfg.Reconcile, truthStore, logger)

	var archiver reportcache.Archiver
	if cfg.Reports.ArchiveEnabled {
		s3Client, err := s3.NewClient(ctx, &cfg.Reports.S3, logger)
		if err != nil {
			slog.Error("failed to create S3 client", "error", err)
			os.Exit(1)
		}
		archiver = s3.NewArchiver(s3Client, &cfg.Reports.Archiver, logger)
		slog.Info("report archival enabled", "bucket", cfg.Reports.S3.Bucket)
	}
	reports := reportcache.New(reportStore, archiver, logger)

	validator := schema.NewValidatorWithConfig(schema.ValidatorConfig{
		MaxAge:    cfg.Validation.MaxEntryAge,
		MaxFuture: cfg.Validation.MaxFuture,
	})

	// Kafka ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka.Config,
			kafkaEntryHandler(entryQueue, validator, quarantine),
			kafkaDecodeHandler(quarantine),
			logger)
		if err != nil {
			slog.Error("failed to create kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := kafkaConsumer.StartAsync(); err != nil {
			slog.Error("failed to start kafka consumer", "error", err)
			os.Exit(1)
		}
	}

	// HTTP surface
	ingestHandler := ingest.NewHandler(validator, entryQueue, quarantine, logger).
		WithMaxPayload(cfg.Ingest.MaxPayloadSize).
		WithMaxBatch(cfg.Ingest.MaxBatchSize)

	apiServer := api.NewServer(detectionStore, reconciler, reports, learner, logger).
		WithAssessmentCache(assessments).
		WithLogStore(logStore).
		WithModelRegistry(registry)

	mux := apiServer.Routes()
	mux.HandleFunc("POST /v1/logs", ingestHandler.HandleLogs)
	mux.HandleFunc("GET /health", ingestHandler.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      ingest.WithMiddleware(mux, cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests, then drain back to front: transport,
	// workers, writer, storage.
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			slog.Error("kafka consumer stop error", "error", err)
		}
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	cancel()
	workers.Stop()

	if err := batchWriter.Close(); err != nil {
		slog.Error("batch writer close error", "error", err)
	}
	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}
	if err := chClient.Close(); err != nil {
		slog.Error("clickhouse close error", "error", err)
	}

	entryQueue.Close()

	qm := entryQueue.Metrics()
	cm := workers.Metrics()
	bw := batchWriter.Metrics()
	slog.Info("shutdown complete",
		"entries_pushed", qm.Pushed,
		"entries_popped", qm.Popped,
		"entries_dropped", qm.Dropped,
		"entries_consumed", cm.Consumed,
		"write_errors", cm.WriteErrors,
		"analyze_errors", cm.AnalyzeErrors,
		"entries_written", bw.Written,
	)
}

// kafkaEntryHandler validates and enqueues decoded stream entries.
// Invalid entries are quarantined and the message committed; a full
// queue returns an error so the message is redelivered once there is
// room again.
func kafkaEntryHandler(q *queue.RingBuffer, validator *schema.Validator, quarantine *storage.QuarantineWriter) kafka.EntryHandler {
	return func(ctx context.Context, entry *schema.LogEntry) error {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if entry.ReceivedAt.IsZero() {
			entry.ReceivedAt = time.Now().UTC()
		}

		if err := validator.Validate(entry); err != nil {
			metrics.EntriesQuarantined.WithLabelValues("kafka").Inc()
			if werr := quarantine.Write(ctx, &storage.QuarantineEntry{
				RawEntry:         fmt.Sprintf("agent_id=%s source=%s message=%s", entry.AgentID, entry.Source, entry.Message),
				Transport:        "kafka",
				ValidationErrors: []string{err.Error()},
				ErrorCode:        "VALIDATION_FAILED",
			}); werr != nil {
				slog.Warn("failed to quarantine stream entry", "error", werr)
			}
			return nil
		}

		if err := q.Push(entry); err != nil {
			metrics.EntriesDropped.Inc()
			return fmt.Errorf("queue push failed: %w", err)
		}
		metrics.EntriesIngested.WithLabelValues("kafka").Inc()
		return nil
	}
}

// kafkaDecodeHandler quarantines payloads that never became entries.
func kafkaDecodeHandler(quarantine *storage.QuarantineWriter) kafka.DecodeFailureHandler {
	return func(ctx context.Context, raw []byte, decodeErr error) {
		metrics.EntriesQuarantined.WithLabelValues("kafka").Inc()
		if err := quarantine.Write(ctx, &storage.QuarantineEntry{
			RawEntry:         logging.SanitizeRawPayload(string(raw)),
			Transport:        "kafka",
			ValidationErrors: []string{decodeErr.Error()},
			ErrorCode:        "DECODE_FAILED",
		}); err != nil {
			slog.Warn("failed to quarantine undecodable message", "error", err)
		}
	}
}
