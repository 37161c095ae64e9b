// Package consumer drains the ingest queue: every entry is persisted
// through the batch writer and handed to the detection fusion engine.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-soc/internal/metrics"
	"sentinel-soc/internal/queue"
	"sentinel-soc/internal/schema"
)

// EntryWriter persists raw log entries. *storage.BatchWriter satisfies it.
type EntryWriter interface {
	Write(entry *schema.LogEntry) error
	Flush() error
}

// Analyzer produces a detection verdict for one entry. *fusion.Engine
// satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, entry *schema.LogEntry) (*schema.DetectionResult, error)
}

// Config holds the consumer configuration.
type Config struct {
	Workers      int           `yaml:"workers"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DefaultConfig returns the default consumer configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		BatchSize:    200,
		PollInterval: 10 * time.Millisecond,
		ShutdownWait: 30 * time.Second,
	}
}

// Consumer reads entries from the queue, writes them to storage and runs
// detection on each one. Analysis failures do not block persistence.
type Consumer struct {
	queue    *queue.RingBuffer
	writer   EntryWriter
	analyzer Analyzer
	config   Config
	logger   *slog.Logger

	wg   sync.WaitGroup
	done chan struct{}

	consumed      uint64
	writeErrors   uint64
	analyzeErrors uint64
}

// New creates a new Consumer. analyzer may be nil, in which case entries
// are only persisted.
func New(q *queue.RingBuffer, writer EntryWriter, analyzer Analyzer, cfg Config, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Consumer{
		queue:    q,
		writer:   writer,
		analyzer: analyzer,
		config:   cfg,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start starts the consumer workers.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	c.logger.Info("queue consumer started",
		"workers", c.config.Workers,
		"batch_size", c.config.BatchSize,
	)
}

// worker is a single consumer worker goroutine.
func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	c.logger.Debug("consumer worker started", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("consumer worker stopping (context)", "worker_id", id)
			return
		case <-c.done:
			c.logger.Debug("consumer worker stopping (done)", "worker_id", id)
			return
		default:
		}

		entries, err := c.queue.PopBatch(c.config.BatchSize)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				c.logger.Debug("consumer worker stopping (queue closed)", "worker_id", id)
				return
			}
			c.logger.Warn("unexpected queue error", "worker_id", id, "error", err)
			continue
		}
		if len(entries) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(c.config.PollInterval):
			}
			continue
		}

		for _, entry := range entries {
			c.process(ctx, id, entry)
		}
		metrics.QueueDepth.Set(float64(c.queue.Len()))
	}
}

// process persists one entry, then analyzes it. An analysis failure is
// counted but never loses the entry; it is already on its way to storage.
func (c *Consumer) process(ctx context.Context, workerID int, entry *schema.LogEntry) {
	if err := c.writer.Write(entry); err != nil {
		c.logger.Error("failed to write entry",
			"worker_id", workerID,
			"log_entry_id", entry.ID,
			"error", err,
		)
		atomic.AddUint64(&c.writeErrors, 1)
		return
	}
	atomic.AddUint64(&c.consumed, 1)

	if c.analyzer == nil {
		return
	}
	if _, err := c.analyzer.Analyze(ctx, entry); err != nil {
		c.logger.Error("failed to analyze entry",
			"worker_id", workerID,
			"log_entry_id", entry.ID,
			"error", err,
		)
		atomic.AddUint64(&c.analyzeErrors, 1)
	}
}

// Stop stops the consumer gracefully and flushes pending writes.
func (c *Consumer) Stop() {
	close(c.done)

	// Wait for workers with timeout
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("queue consumer stopped gracefully")
	case <-time.After(c.config.ShutdownWait):
		c.logger.Warn("queue consumer shutdown timed out")
	}

	// Final flush
	if err := c.writer.Flush(); err != nil {
		c.logger.Error("final flush failed", "error", err)
	}
}

// Metrics returns consumer statistics.
func (c *Consumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Consumed:      atomic.LoadUint64(&c.consumed),
		WriteErrors:   atomic.LoadUint64(&c.writeErrors),
		AnalyzeErrors: atomic.LoadUint64(&c.analyzeErrors),
	}
}

// ConsumerMetrics holds consumer statistics.
type ConsumerMetrics struct {
	Consumed      uint64 `json:"consumed"`
	WriteErrors   uint64 `json:"write_errors"`
	AnalyzeErrors uint64 `json:"analyze_errors"`
}
