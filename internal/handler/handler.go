package handler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"

	"github.com/lucaslui/hems/sensor-node/internal/model"
	"github.com/lucaslui/hems/sensor-node/internal/validate"
)

const ackAccepted = "201"

type Enqueuer interface {
	Enqueue(m kafka.Message)
}

type DeadLetterSender interface {
	SendDLQ(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

type PointWriter interface {
	WriteReading(ctx context.Context, p model.ReadingPayload) error
}

type Archive interface {
	Add(ctx context.Context, p model.ReadingPayload, receivedAt time.Time)
}

// Handler bridges node readings from MQTT into Kafka and acknowledges
// accepted ones back to the node. Points and Archive are optional.
type Handler struct {
	Readings Enqueuer
	DLQ      DeadLetterSender
	Points   PointWriter
	Archive  Archive
	Ack      func(topic string, payload []byte) error
	Logger   *log.Logger
	Now      func() time.Time
}

func (h *Handler) HandleMessage(ctx context.Context, msg mqtt.Message) {
	receivedAt := h.Now().UTC()
	payload := msg.Payload()

	h.Logger.Printf(
		"[mqtt] rx: topic=%s qos=%d mid=%d bytes=%d payload=%s",
		msg.Topic(), msg.Qos(), msg.MessageID(), len(payload), validate.Truncate(payload, 512),
	)

	p, err := validate.ValidateReading(payload)
	if err == nil {
		err = validate.MatchesTopic(p, msg.Topic())
	}
	if err != nil {
		h.deadLetter(ctx, msg, err, receivedAt)
		return
	}

	h.Readings.Enqueue(kafka.Message{
		Key:   []byte(p.DeviceID),
		Value: payload,
		Time:  receivedAt,
		Headers: []kafka.Header{
			{Key: "receivedAt", Value: []byte(receivedAt.Format(time.RFC3339Nano))},
			{Key: "eventId", Value: []byte(p.EventID)},
		},
	})

	if h.Points != nil {
		if err := h.Points.WriteReading(ctx, p); err != nil {
			h.Logger.Printf("[influx] write error: %v", err)
		}
	}

	if h.Archive != nil {
		h.Archive.Add(ctx, p, receivedAt)
	}

	if err := h.Ack(model.AckTopic(p.DeviceID), []byte(ackAccepted)); err != nil {
		h.Logger.Printf("[mqtt] ack to %s failed: %v", p.DeviceID, err)
		return
	}
	h.Logger.Printf("[kafka] queued: key=%s event=%s bytes=%d", p.DeviceID, p.EventID, len(payload))
}

func (h *Handler) deadLetter(ctx context.Context, msg mqtt.Message, cause error, receivedAt time.Time) {
	payload := msg.Payload()
	h.Logger.Printf("[handler] invalid payload, sending to DLQ: %v | message: %s", cause, validate.Truncate(payload, 512))

	original := json.RawMessage(payload)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(payload))
		original = quoted
	}
	buf, _ := json.Marshal(map[string]any{
		"error":      cause.Error(),
		"original":   original,
		"topic":      msg.Topic(),
		"receivedAt": receivedAt.Format(time.RFC3339Nano),
	})
	key := []byte("invalid")
	if dev, ok := model.DeviceFromTopic(msg.Topic()); ok {
		key = []byte(dev)
	}
	if err := h.DLQ.SendDLQ(ctx, key, buf); err != nil {
		h.Logger.Printf("[kafka] write error (dlq): %v", err)
	}
}
