package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type TransportOpts struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	Timeout   time.Duration
}

// Transport is the node's cloud channel. The state machine owns
// connection timing, so automatic reconnects are off and Connect only
// starts an attempt.
type Transport struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  *log.Logger

	connecting atomic.Bool

	mu   sync.Mutex
	subs map[string]func([]byte)
}

func NewTransport(o TransportOpts, logger *log.Logger) *Transport {
	t := &Transport{qos: o.QoS, timeout: o.Timeout, logger: logger, subs: map[string]func([]byte){}}

	opts := mqtt.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(o.ClientID).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(o.Timeout).
		SetAutoReconnect(false).
		SetConnectRetry(false)

	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}

	opts.OnConnect = func(c mqtt.Client) {
		logger.Printf("[mqtt] connected to %s", o.BrokerURL)
		t.mu.Lock()
		defer t.mu.Unlock()
		for topic, h := range t.subs {
			t.subscribe(c, topic, h)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { logger.Printf("[mqtt] connection lost: %v", err) }

	t.client = mqtt.NewClient(opts)
	return t
}

func (t *Transport) subscribe(c mqtt.Client, topic string, h func([]byte)) {
	token := c.Subscribe(topic, t.qos, func(_ mqtt.Client, msg mqtt.Message) { h(msg.Payload()) })
	if token.WaitTimeout(t.timeout) && token.Error() != nil {
		t.logger.Printf("[mqtt] subscribe %s error: %v", topic, token.Error())
		return
	}
	t.logger.Printf("[mqtt] subscribed to %s (QoS %d)", topic, t.qos)
}

func (t *Transport) IsConnected() bool { return t.client.IsConnectionOpen() }

// Connect starts a connection attempt in the background. Calls while an
// attempt is in flight or the link is up are ignored.
func (t *Transport) Connect() {
	if t.client.IsConnectionOpen() || !t.connecting.CompareAndSwap(false, true) {
		return
	}
	token := t.client.Connect()
	go func() {
		defer t.connecting.Store(false)
		token.Wait()
		if err := token.Error(); err != nil {
			t.logger.Printf("[mqtt] connect error: %v", err)
		}
	}()
}

func (t *Transport) Disconnect(ctx context.Context) error {
	if !t.client.IsConnected() {
		return nil
	}
	t.client.Disconnect(250)
	for t.client.IsConnectionOpen() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("disconnect: %w", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.logger.Printf("[mqtt] disconnected")
	return nil
}

func (t *Transport) Publish(topic string, payload []byte) error {
	if !t.client.IsConnectionOpen() {
		return errors.New("mqtt: not connected")
	}
	token := t.client.Publish(topic, t.qos, false, payload)
	if !token.WaitTimeout(t.timeout) {
		return fmt.Errorf("mqtt: publish %s timed out after %s", topic, t.timeout)
	}
	return token.Error()
}

// Subscribe registers h for topic and subscribes now if connected;
// registrations are replayed on every connect.
func (t *Transport) Subscribe(topic string, h func([]byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[topic] = h
	if t.client.IsConnectionOpen() {
		t.subscribe(t.client, topic, h)
	}
	return nil
}
