package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lucaslui/hems/sensor-node/internal/model"
)

// ValidateReading decodes a node reading and rejects anything the
// downstream consumers could not use.
func ValidateReading(raw []byte) (model.ReadingPayload, error) {
	var p model.ReadingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.ReadingPayload{}, err
	}
	if strings.TrimSpace(p.DeviceID) == "" {
		return model.ReadingPayload{}, errors.New("missing field: deviceId")
	}
	if strings.TrimSpace(p.EventID) == "" {
		return model.ReadingPayload{}, errors.New("missing field: eventId")
	}
	if p.Timestamp.IsZero() {
		return model.ReadingPayload{}, errors.New("missing field: timestamp")
	}
	if p.FaceNumber > model.MaxFaces {
		return model.ReadingPayload{}, fmt.Errorf("faceNumber=%d exceeds %d", p.FaceNumber, model.MaxFaces)
	}
	if p.FaceScore > model.MaxConfidence {
		return model.ReadingPayload{}, fmt.Errorf("faceScore=%d exceeds %d", p.FaceScore, model.MaxConfidence)
	}
	if p.GestureScore > model.MaxConfidence {
		return model.ReadingPayload{}, fmt.Errorf("gestureScore=%d exceeds %d", p.GestureScore, model.MaxConfidence)
	}
	return p, nil
}

// MatchesTopic checks that a reading was published under its own device.
func MatchesTopic(p model.ReadingPayload, topic string) error {
	dev, ok := model.DeviceFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	if dev != p.DeviceID {
		return fmt.Errorf("deviceId %q does not match topic device %q", p.DeviceID, dev)
	}
	return nil
}

func Truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
