// Package kafka forwards alert events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"sentinel/internal/config"
	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/models"
)

// SinkName labels this sink in logs and metrics
const SinkName = "kafka"

// maxBackoff caps the doubling retry delay
const maxBackoff = 5 * time.Second

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize alert")
)

// Producer publishes alert batches through a small pool of writers. It
// implements alerts.Sink.
type Producer struct {
	cfg     config.ProducerConfig
	topic   string
	writers []*kafka.Writer
	idle    chan *kafka.Writer
	closed  atomic.Bool

	sent   atomic.Uint64
	failed atomic.Uint64
	bytes  atomic.Uint64
}

// NewProducer creates a producer for topic. No connection is made until
// the first publish.
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig) (*Producer, error) {
	switch {
	case len(brokers) == 0:
		return nil, errors.New("at least one broker is required")
	case topic == "":
		return nil, errors.New("topic is required")
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	p := &Producer{
		cfg:   cfg,
		topic: topic,
		idle:  make(chan *kafka.Writer, cfg.PoolSize),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		w := newWriter(brokers, topic, cfg)
		p.writers = append(p.writers, w)
		p.idle <- w
	}
	return p, nil
}

func newWriter(brokers []string, topic string, cfg config.ProducerConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // one partition per sample key keeps alerts for a key ordered
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  getCompression(cfg.Compression),
		MaxAttempts:  1, // retried by Publish
	}
}

// getCompression maps a config name to a codec; unknown names disable compression
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

func (p *Producer) Name() string  { return SinkName }
func (p *Producer) Topic() string { return p.topic }

// buildMessage encodes evt keyed by its sample key
func buildMessage(evt models.AlertEvent) (kafka.Message, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	return kafka.Message{
		Key:   []byte(evt.Key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "rule_id", Value: []byte(evt.Rule.ID)},
			{Key: "owner", Value: []byte(evt.Rule.Owner)},
			{Key: "content_type", Value: []byte("application/json")},
		},
		Time: evt.TriggeredAt,
	}, nil
}

// Publish writes one tick's events as a single batch. Events that fail to
// encode are logged and skipped.
func (p *Producer) Publish(ctx context.Context, events []models.AlertEvent) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if len(events) == 0 {
		return nil
	}

	log := logger.WithComponent("kafka_producer")
	start := time.Now()

	batch := make([]kafka.Message, 0, len(events))
	var size uint64
	for _, evt := range events {
		msg, err := buildMessage(evt)
		if err != nil {
			log.Error().Err(err).Str("key", evt.Key).Str("rule_id", evt.Rule.ID).Msg("dropping alert")
			p.failed.Add(1)
			continue
		}
		batch = append(batch, msg)
		size += uint64(len(msg.Value))
	}
	if len(batch) == 0 {
		return ErrSerializeFailed
	}

	err := p.withWriter(ctx, func(w *kafka.Writer) error {
		return p.retry(ctx, len(batch), func() error {
			return w.WriteMessages(ctx, batch...)
		})
	})
	if err != nil {
		p.failed.Add(uint64(len(batch)))
		log.Error().
			Err(err).
			Int("batch_size", len(batch)).
			Dur("duration", time.Since(start)).
			Msg("failed to publish alerts to kafka")
		return err
	}

	p.sent.Add(uint64(len(batch)))
	p.bytes.Add(size)
	log.Debug().
		Str("topic", p.topic).
		Int("batch_size", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("alerts published to kafka")
	return nil
}

// withWriter leases an idle writer for the duration of fn
func (p *Producer) withWriter(ctx context.Context, fn func(*kafka.Writer) error) error {
	select {
	case w := <-p.idle:
		defer func() { p.idle <- w }()
		return fn(w)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry runs op up to MaxRetries+1 times with doubling backoff. Context
// errors end it immediately.
func (p *Producer) retry(ctx context.Context, batchSize int, op func() error) error {
	log := logger.WithComponent("kafka_producer")
	attempts := p.cfg.MaxRetries + 1
	backoff := p.cfg.RetryBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == attempts {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("batch_size", batchSize).
			Dur("backoff", backoff).
			Msg("kafka publish failed, retrying")
		metrics.SinkPublishRetries.WithLabelValues(SinkName).Inc()

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

// Close closes every writer. Later calls are no-ops.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing writers: %w", errors.Join(errs...))
	}
	return nil
}

// ProducerStats holds producer counters
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
	BytesWritten   uint64 `json:"bytes_written"`
}

func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.sent.Load(),
		MessagesFailed: p.failed.Load(),
		BytesWritten:   p.bytes.Load(),
	}
}
