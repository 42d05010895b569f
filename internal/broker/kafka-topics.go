package broker

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/lucaslui/hems/sensor-node/internal/config"
)

// EnsureKafkaTopics creates the readings and DLQ topics when missing.
func EnsureKafkaTopics(ctx context.Context, cfg *config.CollectorConfig, logger *log.Logger) error {
	bootstrap := cfg.KafkaBrokers[0]
	logger.Printf("[kafka] ensuring topics on bootstrap %s", bootstrap)

	conn, err := kafka.DialContext(ctx, "tcp", bootstrap)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	ctrlAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := kafka.DialContext(ctx, "tcp", ctrlAddr)
	if err != nil {
		return err
	}
	defer ctrlConn.Close()

	topics := []struct {
		name       string
		partitions int
	}{
		{cfg.KafkaTopic, cfg.KafkaTopicPartitions},
		{cfg.KafkaDLQTopic, cfg.KafkaDLQPartitions},
	}
	for _, tp := range topics {
		if parts, err := conn.ReadPartitions(tp.name); err == nil && len(parts) > 0 {
			logger.Printf("[kafka] topic %s already exists, skipping", tp.name)
			continue
		}
		logger.Printf("[kafka] creating topic %s (partitions=%d rf=%d)", tp.name, tp.partitions, cfg.KafkaReplicationFactor)
		err := ctrlConn.CreateTopics(kafka.TopicConfig{
			Topic:             tp.name,
			NumPartitions:     tp.partitions,
			ReplicationFactor: cfg.KafkaReplicationFactor,
			ConfigEntries: []kafka.ConfigEntry{
				{ConfigName: "compression.type", ConfigValue: cfg.KafkaCompression},
				{ConfigName: "retention.ms", ConfigValue: fmt.Sprintf("%d", cfg.KafkaRetentionMs)},
			},
		})
		if err != nil {
			return fmt.Errorf("create topic %s: %w", tp.name, err)
		}
	}
	return nil
}
