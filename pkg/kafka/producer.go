package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Producer wraps kafka-go Writer with guard defaults. A Producer built without
// brokers accepts and drops every message.
type Producer struct {
	writer *kafkago.Writer
	topic  string
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafkago.Compression
	RequiredAcks kafkago.RequiredAcks
	MaxAttempts  int
}

// NewProducer constructs a Producer from the given configuration.
func NewProducer(cfg ProducerConfig) *Producer {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 || cfg.Topic == "" {
		return &Producer{topic: cfg.Topic}
	}

	return &Producer{
		topic: cfg.Topic,
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: cfg.RequiredAcks,
			Compression:  cfg.Compression,
			MaxAttempts:  cfg.MaxAttempts,
		},
	}
}

// Enabled reports whether messages actually leave the process.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// Topic returns the configured topic.
func (p *Producer) Topic() string {
	return p.topic
}

// Publish sends a Kafka message with optional headers.
func (p *Producer) Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error {
	if p.writer == nil {
		return nil
	}

	msg := kafkago.Message{
		Key:   key,
		Value: value,
		Time:  time.Now().UTC(),
	}

	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	return p.writer.WriteMessages(ctx, msg)
}

// PublishJSON marshals payload and publishes it under key with an event_type header.
func (p *Producer) PublishJSON(ctx context.Context, key, eventType string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return p.Publish(ctx, []byte(key), value, map[string]string{"event_type": eventType})
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close(ctx context.Context) error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// CompressionFromString maps textual codec to kafka-go value.
func CompressionFromString(name string) kafkago.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return kafkago.Gzip
	case "snappy":
		return kafkago.Snappy
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Snappy
	}
}
