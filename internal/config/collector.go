package config

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// CollectorConfig configures the backend collector: it bridges node
// reading messages from MQTT into Kafka and acknowledges them.
type CollectorConfig struct {
	// MQTT
	MQTTBrokerURL    string
	MQTTClientID     string
	MQTTUsername     string
	MQTTPassword     string
	MQTTTopic        string
	MQTTQoS          byte
	MQTTChannelDepth uint

	// Kafka
	KafkaBrokers           []string
	KafkaTopic             string
	KafkaDLQTopic          string
	KafkaTopicPartitions   int
	KafkaDLQPartitions     int
	KafkaReplicationFactor int
	KafkaBatchSize         int
	KafkaBatchBytes        int64
	KafkaBatchTimeoutMs    int
	KafkaCompression       string
	KafkaRequiredAcks      string
	KafkaMaxAttempts       int
	KafkaRetentionMs       int64

	// Dispatcher
	DispatcherCapacity int
	DispatcherMaxBatch int
	DispatcherTickMs   int

	// InfluxDB (optional; disabled when InfluxURL is empty)
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Archive (optional; disabled when S3Endpoint is empty)
	S3Endpoint         string
	S3AccessKey        string
	S3SecretKey        string
	S3UseTLS           bool
	S3Bucket           string
	S3BasePath         string
	ArchiveMaxRecords  int
	ArchiveMaxInterval time.Duration
	ParquetCompression string
}

func (c *CollectorConfig) InfluxEnabled() bool  { return c.InfluxURL != "" }
func (c *CollectorConfig) ArchiveEnabled() bool { return c.S3Endpoint != "" }

func (c *CollectorConfig) String() string {
	return fmt.Sprintf(`
MQTT:
  BrokerURL:     %s
  ClientID:      %s
  Username:      %s
  Topic:         %s
  QoS:           %d
  ChannelDepth:  %d

Kafka:
  Brokers:           %v
  Topic:             %s
  DLQTopic:          %s
  Partitions:        %d
  DLQPartitions:     %d
  ReplicationFactor: %d
  BatchSize:         %d
  BatchBytes:        %d
  BatchTimeoutMs:    %d
  Compression:       %s
  RequiredAcks:      %s
  MaxAttempts:       %d
  RetentionMs:       %d

Dispatcher:
  Capacity:          %d
  MaxBatch:          %d
  TickMs:            %d

InfluxDB:
  URL:               %s
  Org:               %s
  Bucket:            %s

Archive:
  Endpoint:          %s
  Bucket:            %s
  BasePath:          %s
  MaxRecords:        %d
  MaxInterval:       %s
  Compression:       %s
`, c.MQTTBrokerURL, c.MQTTClientID, c.MQTTUsername, c.MQTTTopic, c.MQTTQoS, c.MQTTChannelDepth,
		c.KafkaBrokers, c.KafkaTopic, c.KafkaDLQTopic, c.KafkaTopicPartitions, c.KafkaDLQPartitions, c.KafkaReplicationFactor,
		c.KafkaBatchSize, c.KafkaBatchBytes, c.KafkaBatchTimeoutMs, c.KafkaCompression, c.KafkaRequiredAcks, c.KafkaMaxAttempts,
		c.KafkaRetentionMs, c.DispatcherCapacity, c.DispatcherMaxBatch, c.DispatcherTickMs,
		c.InfluxURL, c.InfluxOrg, c.InfluxBucket,
		c.S3Endpoint, c.S3Bucket, c.S3BasePath, c.ArchiveMaxRecords, c.ArchiveMaxInterval, c.ParquetCompression)
}

type mqttCfg struct {
	brokerURL    string
	clientID     string
	username     string
	password     string
	topic        string
	qos          byte
	channelDepth uint
}

func loadMQTT(errs *errList) mqttCfg {
	return mqttCfg{
		brokerURL:    getRequired("MQTT_BROKER_URL", errs),
		clientID:     getenv("MQTT_CLIENT_ID", "sensor-collector"),
		username:     os.Getenv("MQTT_USERNAME"),
		password:     os.Getenv("MQTT_PASSWORD"),
		topic:        getenv("MQTT_TOPIC", "nodes/+/readings"),
		qos:          getenvQoS("MQTT_QOS", 1, errs),
		channelDepth: uint(getenvInt("MQTT_CHANNEL_DEPTH", 1000, errs)),
	}
}

type kafkaCfg struct {
	brokers           []string
	topic             string
	dlqTopic          string
	partitions        int
	dlqPartitions     int
	replicationFactor int
	batchSize         int
	batchBytes        int64
	batchTimeoutMs    int
	compression       string
	requiredAcks      string
	maxAttempts       int
	retentionMs       int64
}

func loadKafka(errs *errList) kafkaCfg {
	brokers := parseBrokers(getRequired("KAFKA_BROKERS", errs), errs)
	comp := getenv("KAFKA_COMPRESSION", "snappy")
	acks := getenv("KAFKA_REQUIRED_ACKS", "one")
	ensureOneOf("KAFKA_COMPRESSION", comp, []string{"none", "gzip", "snappy", "lz4", "zstd"}, errs)
	ensureOneOf("KAFKA_REQUIRED_ACKS", acks, []string{"none", "one", "all"}, errs)

	return kafkaCfg{
		brokers:           brokers,
		topic:             getenv("KAFKA_TOPIC", "presence-readings"),
		dlqTopic:          getenv("KAFKA_DLQ_TOPIC", "presence-readings-dlq"),
		partitions:        getenvInt("KAFKA_TOPIC_PARTITIONS", 3, errs),
		dlqPartitions:     getenvInt("KAFKA_DLQ_PARTITIONS", 1, errs),
		replicationFactor: getenvInt("KAFKA_REPLICATION_FACTOR", 1, errs),
		batchSize:         getenvInt("KAFKA_BATCH_SIZE", 1000, errs),
		batchBytes:        getenvInt64("KAFKA_BATCH_BYTES", 1<<20, errs),
		batchTimeoutMs:    getenvInt("KAFKA_BATCH_TIMEOUT_MS", 5, errs),
		compression:       comp,
		requiredAcks:      acks,
		maxAttempts:       getenvInt("KAFKA_MAX_ATTEMPTS", 10, errs),
		retentionMs:       getenvInt64("KAFKA_RETENTION_MS", 7*24*3600*1000, errs),
	}
}

type dispatchCfg struct {
	capacity int
	maxBatch int
	tickMs   int
}

func loadDispatcher(errs *errList) dispatchCfg {
	return dispatchCfg{
		capacity: getenvInt("DISPATCHER_CAPACITY", 10_000, errs),
		maxBatch: getenvInt("DISPATCHER_MAX_BATCH", 500, errs),
		tickMs:   getenvInt("DISPATCHER_TICK_MS", 50, errs),
	}
}

func validateSanity(m mqttCfg, k kafkaCfg, d dispatchCfg, errs *errList) {
	if d.capacity <= 0 {
		errs.addf("DISPATCHER_CAPACITY must be > 0 (suggested: %d)", runtime.NumCPU()*1000)
	}
	if d.maxBatch <= 0 {
		errs.add("DISPATCHER_MAX_BATCH must be > 0")
	}
	if d.tickMs <= 0 {
		errs.add("DISPATCHER_TICK_MS must be > 0")
	}
	if m.channelDepth == 0 {
		errs.add("MQTT_CHANNEL_DEPTH must be > 0")
	}
	if k.partitions <= 0 {
		errs.add("KAFKA_TOPIC_PARTITIONS must be > 0")
	}
	if k.dlqPartitions <= 0 {
		errs.add("KAFKA_DLQ_PARTITIONS must be > 0")
	}
	if k.replicationFactor <= 0 {
		errs.add("KAFKA_REPLICATION_FACTOR must be > 0")
	}
	if len(k.brokers) > 0 && k.replicationFactor > len(k.brokers) {
		errs.add("KAFKA_REPLICATION_FACTOR cannot exceed the number of brokers in KAFKA_BROKERS")
	}
	if k.batchSize <= 0 {
		errs.add("KAFKA_BATCH_SIZE must be > 0")
	}
	if k.batchBytes <= 0 {
		errs.add("KAFKA_BATCH_BYTES must be > 0")
	}
	if k.batchTimeoutMs <= 0 {
		errs.add("KAFKA_BATCH_TIMEOUT_MS must be > 0")
	}
	if k.maxAttempts <= 0 {
		errs.add("KAFKA_MAX_ATTEMPTS must be > 0")
	}
}

func LoadCollectorConfig() (*CollectorConfig, error) {
	loadDotEnv()
	var errs errList

	m := loadMQTT(&errs)
	k := loadKafka(&errs)
	d := loadDispatcher(&errs)

	validateSanity(m, k, d, &errs)

	influxURL := os.Getenv("INFLUX_URL")
	cfg := &CollectorConfig{
		MQTTBrokerURL:    m.brokerURL,
		MQTTClientID:     m.clientID,
		MQTTUsername:     m.username,
		MQTTPassword:     m.password,
		MQTTTopic:        m.topic,
		MQTTQoS:          m.qos,
		MQTTChannelDepth: m.channelDepth,

		KafkaBrokers:           k.brokers,
		KafkaTopic:             k.topic,
		KafkaDLQTopic:          k.dlqTopic,
		KafkaTopicPartitions:   k.partitions,
		KafkaDLQPartitions:     k.dlqPartitions,
		KafkaReplicationFactor: k.replicationFactor,
		KafkaBatchSize:         k.batchSize,
		KafkaBatchBytes:        k.batchBytes,
		KafkaBatchTimeoutMs:    k.batchTimeoutMs,
		KafkaCompression:       k.compression,
		KafkaRequiredAcks:      k.requiredAcks,
		KafkaMaxAttempts:       k.maxAttempts,
		KafkaRetentionMs:       k.retentionMs,

		DispatcherCapacity: d.capacity,
		DispatcherMaxBatch: d.maxBatch,
		DispatcherTickMs:   d.tickMs,

		InfluxURL: influxURL,
	}
	if influxURL != "" {
		cfg.InfluxToken = getRequired("INFLUX_TOKEN", &errs)
		cfg.InfluxOrg = getRequired("INFLUX_ORG", &errs)
		cfg.InfluxBucket = getenv("INFLUX_BUCKET", "presence")
	}

	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		loadArchive(cfg, endpoint, &errs)
	}

	if errs.has() {
		return nil, errs.err()
	}
	return cfg, nil
}

func loadArchive(cfg *CollectorConfig, endpoint string, errs *errList) {
	cfg.S3Endpoint = endpoint
	cfg.S3AccessKey = getRequired("S3_ACCESS_KEY", errs)
	cfg.S3SecretKey = getRequired("S3_SECRET_KEY", errs)
	cfg.S3UseTLS = getenvBool("S3_USE_TLS", false)
	cfg.S3Bucket = getenv("S3_BUCKET", "presence-archive")
	cfg.S3BasePath = getenv("S3_BASE_PATH", "readings")
	cfg.ArchiveMaxRecords = getenvInt("ARCHIVE_MAX_RECORDS", 5000, errs)
	cfg.ArchiveMaxInterval = getenvSeconds("ARCHIVE_MAX_INTERVAL_S", 300, errs)
	cfg.ParquetCompression = getenv("PARQUET_COMPRESSION", "SNAPPY")
	ensureOneOf("PARQUET_COMPRESSION", cfg.ParquetCompression, []string{"SNAPPY", "ZSTD", "GZIP"}, errs)

	if cfg.ArchiveMaxRecords <= 0 {
		errs.add("ARCHIVE_MAX_RECORDS must be > 0")
	}
	if cfg.ArchiveMaxInterval <= 0 {
		errs.add("ARCHIVE_MAX_INTERVAL_S must be > 0")
	}
}
