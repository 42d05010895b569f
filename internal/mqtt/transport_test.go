package mqtt

import (
	"context"
	"io"
	"log"
	"testing"
	"time"
)

func newOffline(t *testing.T) *Transport {
	t.Helper()
	return NewTransport(TransportOpts{
		BrokerURL: "tcp://127.0.0.1:1",
		ClientID:  "test-node",
		QoS:       1,
		Timeout:   500 * time.Millisecond,
	}, log.New(io.Discard, "", 0))
}

func TestOfflineTransport(t *testing.T) {
	tr := newOffline(t)
	if tr.IsConnected() {
		t.Fatal("connected without a broker")
	}
	if err := tr.Publish("nodes/x/readings", []byte("{}")); err == nil {
		t.Fatal("publish succeeded while offline")
	}
	if err := tr.Subscribe("nodes/x/ack", func([]byte) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, ok := tr.subs["nodes/x/ack"]; !ok {
		t.Fatal("subscription not remembered for replay")
	}
	if err := tr.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect while offline: %v", err)
	}
}

func TestConnectFailureIsAsynchronous(t *testing.T) {
	tr := newOffline(t)

	start := time.Now()
	tr.Connect()
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Connect blocked")
	}
	deadline := time.Now().Add(5 * time.Second)
	for tr.connecting.Load() {
		if time.Now().After(deadline) {
			t.Fatal("connect attempt never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if tr.IsConnected() {
		t.Fatal("connected to a closed port")
	}
}
