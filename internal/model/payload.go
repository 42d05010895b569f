package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReadingPayload is the message a node publishes for every detected
// change and the collector forwards downstream.
type ReadingPayload struct {
	EventID      string    `json:"eventId"`
	DeviceID     string    `json:"deviceId"`
	Timestamp    time.Time `json:"timestamp"`
	GestureType  uint16    `json:"gestureType"`
	GestureName  string    `json:"gestureName"`
	GestureScore uint16    `json:"gestureScore"`
	FaceNumber   uint16    `json:"faceNumber"`
	FaceScore    uint16    `json:"faceScore"`
}

func NewReadingPayload(deviceID string, r ReadingsData, now time.Time) ReadingPayload {
	return ReadingPayload{
		EventID:      uuid.NewString(),
		DeviceID:     deviceID,
		Timestamp:    now.UTC(),
		GestureType:  r.GestureType,
		GestureName:  ParseGesture(r.GestureType).String(),
		GestureScore: r.GestureScore,
		FaceNumber:   r.FaceCount,
		FaceScore:    r.FaceScore,
	}
}

func (p ReadingPayload) Marshal() ([]byte, error) { return json.Marshal(p) }

// StatusPayload is published on state transitions in verbose mode.
type StatusPayload struct {
	DeviceID  string    `json:"deviceId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}
