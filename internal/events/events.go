// Package events publishes run completion events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/leapstack-labs/fitetl/internal/load"
)

// DefaultTopic receives completion events when no topic is configured.
const DefaultTopic = "fitetl.runs"

// RunCompleted is published once per pipeline run, successful or not.
type RunCompleted struct {
	RunID       string          `json:"run_id"`
	Environment string          `json:"environment"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	RowsIn      int             `json:"rows_in"`
	RowsOut     int             `json:"rows_out"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Outputs     []load.Manifest `json:"outputs,omitempty"`
}

// Publisher delivers completion events.
type Publisher interface {
	Publish(ctx context.Context, ev RunCompleted) error
	Close() error
}

// Config configures the Kafka publisher.
type Config struct {
	Brokers      []string      `koanf:"brokers"`
	Topic        string        `koanf:"topic"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// New returns a Kafka publisher, or a no-op publisher when no brokers are configured.
func New(cfg Config, logger *slog.Logger) Publisher {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		WriteTimeout: cfg.WriteTimeout,
		Balancer:     &kafka.Hash{},
	}
	return newKafkaPublisher(w, cfg.Topic, logger)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per event, keyed by environment.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

func newKafkaPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

// Publish encodes ev and writes it synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, ev RunCompleted) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Environment),
		Value: payload,
		Time:  ev.CompletedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("run_completed")},
			{Key: "run_id", Value: []byte(ev.RunID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run event to %s: %w", p.topic, err)
	}
	p.logger.Debug("run event published", slog.String("topic", p.topic), slog.String("run_id", ev.RunID))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, RunCompleted) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
