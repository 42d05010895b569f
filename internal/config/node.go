package config

import (
	"fmt"
	"os"
	"time"
)

// NodeConfig holds everything the sensor-node binary reads from the
// environment at boot. Values that live in persisted records (hours,
// thresholds, power modes) are not here.
type NodeConfig struct {
	DeviceID       string
	ProductID      string
	DataDir        string
	StorageBackend string

	MQTT  MQTTConfig
	Redis RedisConfig

	LoopInterval      time.Duration
	WakeBoundary      time.Duration
	StayAwake         time.Duration
	ResponseWait      time.Duration
	ErrorDwell        time.Duration
	ConnectTimeout    time.Duration
	ReconcileInterval time.Duration
	ReconcileRetry    time.Duration
	MemoryLimitBytes  uint64
	OutboxLimit       int

	ForceConnect    bool
	SensorSimulated bool
	SensorSeed      int64
}

type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	Timeout   time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
	Timeout   time.Duration
}

func (c *NodeConfig) String() string {
	return fmt.Sprintf(`
Node:
  DeviceID:        %s
  ProductID:       %s
  DataDir:         %s
  StorageBackend:  %s
  SensorSimulated: %t

MQTT:
  BrokerURL:       %s
  ClientID:        %s
  Username:        %s
  QoS:             %d

Redis:
  Addr:            %s
  DB:              %d
  Namespace:       %s

Timing:
  Loop:            %s
  WakeBoundary:    %s
  StayAwake:       %s
  ResponseWait:    %s
  ErrorDwell:      %s
  ConnectTimeout:  %s
  Reconcile:       %s (retry %s)
  MemoryLimit:     %d bytes
  OutboxLimit:     %d
`, c.DeviceID, c.ProductID, c.DataDir, c.StorageBackend, c.SensorSimulated,
		c.MQTT.BrokerURL, c.MQTT.ClientID, c.MQTT.Username, c.MQTT.QoS,
		c.Redis.Addr, c.Redis.DB, c.Redis.Namespace,
		c.LoopInterval, c.WakeBoundary, c.StayAwake, c.ResponseWait, c.ErrorDwell,
		c.ConnectTimeout, c.ReconcileInterval, c.ReconcileRetry, c.MemoryLimitBytes, c.OutboxLimit)
}

func loadNodeMQTT(deviceID string, errs *errList) MQTTConfig {
	return MQTTConfig{
		BrokerURL: getenv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		ClientID:  getenv("MQTT_CLIENT_ID", "node-"+deviceID),
		Username:  os.Getenv("MQTT_USERNAME"),
		Password:  os.Getenv("MQTT_PASSWORD"),
		QoS:       getenvQoS("MQTT_QOS", 1, errs),
		Timeout:   getenvMillis("MQTT_TIMEOUT_MS", 5000, errs),
	}
}

func loadRedis(errs *errList) RedisConfig {
	return RedisConfig{
		Addr:      getenv("REDIS_ADDR", "localhost:6379"),
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        getenvInt("REDIS_DB", 0, errs),
		Namespace: getenv("REDIS_NAMESPACE", "config"),
		Timeout:   getenvMillis("REDIS_TIMEOUT_MS", 5000, errs),
	}
}

func validateNode(c *NodeConfig, errs *errList) {
	positive := map[string]time.Duration{
		"LOOP_INTERVAL_MS":     c.LoopInterval,
		"WAKE_BOUNDARY_S":      c.WakeBoundary,
		"STAY_AWAKE_S":         c.StayAwake,
		"RESPONSE_WAIT_S":      c.ResponseWait,
		"ERROR_DWELL_S":        c.ErrorDwell,
		"CONNECT_TIMEOUT_S":    c.ConnectTimeout,
		"RECONCILE_INTERVAL_S": c.ReconcileInterval,
		"RECONCILE_RETRY_S":    c.ReconcileRetry,
		"MQTT_TIMEOUT_MS":      c.MQTT.Timeout,
		"REDIS_TIMEOUT_MS":     c.Redis.Timeout,
	}
	for key, d := range positive {
		if d <= 0 {
			errs.addf("%s must be > 0", key)
		}
	}
	if c.Redis.DB < 0 {
		errs.add("REDIS_DB must be >= 0")
	}
}

func LoadNodeConfig() (*NodeConfig, error) {
	loadDotEnv()
	var errs errList

	deviceID := getRequired("DEVICE_ID", &errs)
	backend := getenv("STORAGE_BACKEND", "bolt")
	ensureOneOf("STORAGE_BACKEND", backend, []string{"bolt", "file"}, &errs)

	cfg := &NodeConfig{
		DeviceID:       deviceID,
		ProductID:      getenv("PRODUCT_ID", "presence-node"),
		DataDir:        getenv("DATA_DIR", "./data"),
		StorageBackend: backend,

		MQTT:  loadNodeMQTT(deviceID, &errs),
		Redis: loadRedis(&errs),

		LoopInterval:      getenvMillis("LOOP_INTERVAL_MS", 100, &errs),
		WakeBoundary:      getenvSeconds("WAKE_BOUNDARY_S", 3600, &errs),
		StayAwake:         getenvSeconds("STAY_AWAKE_S", 90, &errs),
		ResponseWait:      getenvSeconds("RESPONSE_WAIT_S", 30, &errs),
		ErrorDwell:        getenvSeconds("ERROR_DWELL_S", 30, &errs),
		ConnectTimeout:    getenvSeconds("CONNECT_TIMEOUT_S", 600, &errs),
		ReconcileInterval: getenvSeconds("RECONCILE_INTERVAL_S", 3600, &errs),
		ReconcileRetry:    getenvSeconds("RECONCILE_RETRY_S", 60, &errs),
		MemoryLimitBytes:  memoryLimit(&errs),
		OutboxLimit:       getenvInt("OUTBOX_LIMIT", 1000, &errs),

		ForceConnect:    getenvBool("FORCE_CONNECT", false),
		SensorSimulated: getenvBool("SENSOR_SIMULATED", true),
		SensorSeed:      getenvInt64("SENSOR_SEED", time.Now().UnixNano(), &errs),
	}

	validateNode(cfg, &errs)
	if errs.has() {
		return nil, errs.err()
	}
	return cfg, nil
}

func memoryLimit(errs *errList) uint64 {
	mb := getenvInt64("MEMORY_LIMIT_MB", 0, errs)
	if mb < 0 {
		errs.add("MEMORY_LIMIT_MB must be >= 0")
		return 0
	}
	return uint64(mb) << 20
}

// LoadRedisConfig is used by tools that only talk to the configuration
// store.
func LoadRedisConfig() (RedisConfig, error) {
	loadDotEnv()
	var errs errList
	cfg := loadRedis(&errs)
	if cfg.Timeout <= 0 {
		errs.add("REDIS_TIMEOUT_MS must be > 0")
	}
	if errs.has() {
		return RedisConfig{}, errs.err()
	}
	return cfg, nil
}
