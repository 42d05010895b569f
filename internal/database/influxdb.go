package database

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/lucaslui/hems/sensor-node/internal/config"
	"github.com/lucaslui/hems/sensor-node/internal/model"
)

const measurement = "presence_reading"

type InfluxDB struct {
	Client   influxdb2.Client
	WriteAPI api.WriteAPIBlocking
}

func NewInfluxDB(cfg *config.CollectorConfig) *InfluxDB {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &InfluxDB{
		Client:   client,
		WriteAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
	}
}

func (db *InfluxDB) Close() {
	if db != nil && db.Client != nil {
		db.Client.Close()
	}
}

func (db *InfluxDB) WriteReading(ctx context.Context, p model.ReadingPayload) error {
	return db.WriteAPI.WritePoint(ctx, buildPoint(p))
}

func buildPoint(p model.ReadingPayload) *write.Point {
	tags := map[string]string{
		"deviceId":    p.DeviceID,
		"gestureName": p.GestureName,
	}
	fields := map[string]interface{}{
		"faceNumber":   int64(p.FaceNumber),
		"faceScore":    int64(p.FaceScore),
		"gestureType":  int64(p.GestureType),
		"gestureScore": int64(p.GestureScore),
		"eventId":      p.EventID,
	}
	return write.NewPoint(measurement, tags, fields, p.Timestamp)
}
