package mqtt

import (
	"context"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lucaslui/hems/sensor-node/internal/config"
)

// BuildCollectorClient subscribes to node readings on every connect and
// hands each message to handle.
func BuildCollectorClient(cfg *config.CollectorConfig, logger *log.Logger, handle func(c mqtt.Client, msg mqtt.Message)) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL).
		SetClientID(cfg.MQTTClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetMessageChannelDepth(cfg.MQTTChannelDepth).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}

	opts.OnConnect = func(c mqtt.Client) {
		logger.Printf("[mqtt] connected to %s", cfg.MQTTBrokerURL)
		if token := c.Subscribe(cfg.MQTTTopic, cfg.MQTTQoS, handle); token.Wait() && token.Error() != nil {
			logger.Printf("[mqtt] subscribe error: %v", token.Error())
		} else {
			logger.Printf("[mqtt] subscribed to topic: %s (QoS %d)", cfg.MQTTTopic, cfg.MQTTQoS)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { logger.Printf("[mqtt] connection lost: %v", err) }

	return mqtt.NewClient(opts)
}

func ConnectWithBackoff(ctx context.Context, client mqtt.Client, logger *log.Logger, start, max time.Duration) error {
	backoff := start
	for {
		token := client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		logger.Printf("[mqtt] connect error: %v; retrying in %s", token.Error(), backoff)
		select {
		case <-time.After(backoff):
			if backoff < max {
				backoff *= 2
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
