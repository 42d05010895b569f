package broker

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lucaslui/hems/sensor-node/internal/config"
)

// KafkaClient holds one writer for accepted readings and one for the
// dead-letter topic.
type KafkaClient struct {
	Readings *kafka.Writer
	DLQ      *kafka.Writer
}

func NewKafkaClient(cfg *config.CollectorConfig) *KafkaClient {
	return &KafkaClient{
		Readings: newWriter(cfg, cfg.KafkaTopic),
		DLQ:      newWriter(cfg, cfg.KafkaDLQTopic),
	}
}

func newWriter(cfg *config.CollectorConfig, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},

		BatchSize:    cfg.KafkaBatchSize,
		BatchBytes:   cfg.KafkaBatchBytes,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeoutMs) * time.Millisecond,

		RequiredAcks: parseAcks(cfg.KafkaRequiredAcks),
		MaxAttempts:  cfg.KafkaMaxAttempts,
		Async:        true,
		Compression:  parseCompression(cfg.KafkaCompression),
	}
}

func (c *KafkaClient) Close() {
	_ = c.Readings.Close()
	_ = c.DLQ.Close()
}

func (c *KafkaClient) SendDLQ(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	return c.DLQ.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Headers: headers})
}

func parseCompression(s string) kafka.Compression {
	switch strings.ToLower(s) {
	case "", "none", "no", "off", "0":
		return kafka.Compression(0)
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}

func parseAcks(s string) kafka.RequiredAcks {
	switch strings.ToLower(s) {
	case "none":
		return kafka.RequireNone
	case "all":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}
