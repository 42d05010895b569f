package archive

import (
	"time"

	"github.com/lucaslui/hems/sensor-node/internal/model"
)

// Row is one archived reading.
type Row struct {
	EventID      string `parquet:"name=event_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	DeviceID     string `parquet:"name=device_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Timestamp    int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ReceivedAt   int64  `parquet:"name=received_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	GestureType  int32  `parquet:"name=gesture_type, type=INT32"`
	GestureName  string `parquet:"name=gesture_name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	GestureScore int32  `parquet:"name=gesture_score, type=INT32"`
	FaceNumber   int32  `parquet:"name=face_number, type=INT32"`
	FaceScore    int32  `parquet:"name=face_score, type=INT32"`
}

func FromReading(p model.ReadingPayload, receivedAt time.Time) Row {
	return Row{
		EventID:      p.EventID,
		DeviceID:     p.DeviceID,
		Timestamp:    p.Timestamp.UTC().UnixMilli(),
		ReceivedAt:   receivedAt.UTC().UnixMilli(),
		GestureType:  int32(p.GestureType),
		GestureName:  p.GestureName,
		GestureScore: int32(p.GestureScore),
		FaceNumber:   int32(p.FaceNumber),
		FaceScore:    int32(p.FaceScore),
	}
}
