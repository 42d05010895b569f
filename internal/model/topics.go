package model

import "strings"

const topicRoot = "nodes"

func ReadingsTopic(deviceID string) string { return topicRoot + "/" + deviceID + "/readings" }
func AckTopic(deviceID string) string      { return topicRoot + "/" + deviceID + "/ack" }
func StatusTopic(deviceID string) string   { return topicRoot + "/" + deviceID + "/status" }

// DeviceFromTopic extracts the device id from nodes/<id>/<leaf>.
func DeviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicRoot || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// IsPositiveAck reports whether an ack payload confirms delivery.
func IsPositiveAck(payload []byte) bool {
	switch strings.TrimSpace(string(payload)) {
	case "200", "201":
		return true
	}
	return false
}
