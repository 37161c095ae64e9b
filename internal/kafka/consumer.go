package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"sentinel-soc/internal/schema"
)

// EntryHandler processes one decoded log entry. Returning an error
// leaves the message uncommitted so it is redelivered.
type EntryHandler func(ctx context.Context, entry *schema.LogEntry) error

// DecodeFailureHandler receives messages that could not be decoded into
// a log entry. The message is committed regardless; redelivering a
// malformed payload can never fix it.
type DecodeFailureHandler func(ctx context.Context, raw []byte, decodeErr error)

// Consumer reads JSON log entries from the topic and feeds them to the
// handler.
type Consumer struct {
	reader   *kafka.Reader
	config   *Config
	logger   *slog.Logger
	handler  EntryHandler
	onDecode DecodeFailureHandler
	metrics  *consumerMetrics
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   atomic.Bool
	started  atomic.Bool
}

type consumerMetrics struct {
	entriesConsumed atomic.Int64
	bytesConsumed   atomic.Int64
	decodeFailures  atomic.Int64
	errors          atomic.Int64
	lastOffset      atomic.Int64
	lastError       atomic.Value
	lastErrorTime   atomic.Value
}

// NewConsumer creates a log-entry consumer. onDecodeFailure may be nil,
// in which case malformed messages are logged and dropped.
func NewConsumer(config *Config, handler EntryHandler, onDecodeFailure DecodeFailureHandler, logger *slog.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("kafka: entry handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer, err := config.GetDialer()
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		GroupID:        config.ConsumerGroup,
		Topic:          config.Topic,
		Dialer:         dialer,
		MinBytes:       config.ConsumerMinBytes,
		MaxBytes:       config.ConsumerMaxBytes,
		MaxWait:        config.ConsumerMaxWait,
		CommitInterval: config.CommitInterval,
		StartOffset:    config.StartOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		reader:   reader,
		config:   config,
		logger:   logger,
		handler:  handler,
		onDecode: onDecodeFailure,
		metrics:  &consumerMetrics{},
		ctx:      ctx,
		cancel:   cancel,
	}

	logger.Info("kafka consumer initialized",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"group", config.ConsumerGroup,
	)

	return c, nil
}

// StartAsync begins consuming in a goroutine. Use Stop() to shut down.
func (c *Consumer) StartAsync() error {
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumeLoop(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("consumer loop exited with error", "error", err)
		}
	}()

	c.logger.Info("kafka consumer started",
		"topic", c.config.Topic,
		"group", c.config.ConsumerGroup,
	)
	return nil
}

func (c *Consumer) consumeLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			c.recordError(err)
			c.logger.Error("failed to fetch message",
				"error", err,
				"topic", c.config.Topic,
			)

			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		entry, decodeErr := decodeEntry(msg.Value)
		if decodeErr != nil {
			c.metrics.decodeFailures.Add(1)
			if c.onDecode != nil {
				c.onDecode(c.ctx, msg.Value, decodeErr)
			} else {
				c.logger.Warn("dropping undecodable message",
					"error", decodeErr,
					"offset", msg.Offset,
				)
			}
			c.commit(msg)
			continue
		}

		if err := c.processEntry(entry); err != nil {
			c.logger.Error("failed to process entry",
				"error", err,
				"log_entry_id", entry.ID,
				"offset", msg.Offset,
			)
			// Left uncommitted for redelivery.
			continue
		}

		c.commit(msg)
		c.metrics.entriesConsumed.Add(1)
		c.metrics.bytesConsumed.Add(int64(len(msg.Value) + len(msg.Key)))
		c.metrics.lastOffset.Store(msg.Offset)
	}
}

// decodeEntry parses and minimally sanity-checks a message payload.
func decodeEntry(raw []byte) (*schema.LogEntry, error) {
	var entry schema.LogEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if entry.AgentID == "" {
		return nil, errors.New("missing agent_id")
	}
	return &entry, nil
}

func (c *Consumer) processEntry(entry *schema.LogEntry) error {
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	if err := c.handler(ctx, entry); err != nil {
		c.metrics.errors.Add(1)
		return err
	}
	return nil
}

func (c *Consumer) commit(msg kafka.Message) {
	if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
		c.logger.Error("failed to commit offset",
			"error", err,
			"offset", msg.Offset,
		)
	}
}

func (c *Consumer) recordError(err error) {
	c.metrics.errors.Add(1)
	c.metrics.lastError.Store(err)
	c.metrics.lastErrorTime.Store(time.Now())
}

// GetMetrics returns current consumer metrics.
func (c *Consumer) GetMetrics() Metrics {
	m := Metrics{
		EntriesConsumed: c.metrics.entriesConsumed.Load(),
		BytesConsumed:   c.metrics.bytesConsumed.Load(),
		DecodeFailures:  c.metrics.decodeFailures.Load(),
		Errors:          c.metrics.errors.Load(),
	}
	if err := c.metrics.lastError.Load(); err != nil {
		m.LastError = err.(error)
	}
	if t := c.metrics.lastErrorTime.Load(); t != nil {
		m.LastErrorTime = t.(time.Time)
	}
	return m
}

// Stats returns internal reader statistics.
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.logger.Info("stopping kafka consumer",
		"entries_consumed", c.metrics.entriesConsumed.Load(),
		"decode_failures", c.metrics.decodeFailures.Load(),
	)

	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close consumer: %w", err)
	}
	return nil
}
