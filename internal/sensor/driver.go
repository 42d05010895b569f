package sensor

import "github.com/lucaslui/hems/sensor-node/internal/model"

// Sample is one reading of both sensor channels.
type Sample struct {
	FaceCount    uint16
	FaceScore    uint16
	GestureCode  uint16
	GestureScore uint16
}

// Driver is the presence/gesture sensor.
type Driver interface {
	Initialize(th model.ThresholdsData) error
	Read() (Sample, error)
}

// Battery reports the fuel gauge.
type Battery interface {
	Charge() (soc float32, state uint8, err error)
}
