package model

import (
	"errors"
	"log"
	"time"

	"github.com/lucaslui/hems/sensor-node/internal/store"
)

const (
	thresholdsPath  = "sensor"
	thresholdsMagic = 0x20a47e74

	DefaultFaceThreshold    = 60
	DefaultGestureThreshold = 60
	DefaultPollingRate      = 1
)

type ThresholdsData struct {
	FaceThreshold    uint16
	GestureThreshold uint16
	// PollingRate is in seconds; 0 means the driver interrupt paces reads.
	PollingRate uint16
}

func defaultThresholds(time.Time) ThresholdsData {
	return ThresholdsData{
		FaceThreshold:    DefaultFaceThreshold,
		GestureThreshold: DefaultGestureThreshold,
		PollingRate:      DefaultPollingRate,
	}
}

func validateThresholds(d *ThresholdsData) error {
	return errors.Join(
		ThresholdRange.check("faceThreshold", int(d.FaceThreshold)),
		ThresholdRange.check("gestureThreshold", int(d.GestureThreshold)),
		PollingRateRange.check("pollingRate", int(d.PollingRate)),
	)
}

func ThresholdsLayout() store.Layout[ThresholdsData] {
	return store.Layout[ThresholdsData]{
		Path:      thresholdsPath,
		Magic:     thresholdsMagic,
		Version:   1,
		SaveDelay: 250 * time.Millisecond,
		Defaults:  defaultThresholds,
		Validate:  validateThresholds,
	}
}

// Thresholds is the sensor confidence and pacing record.
type Thresholds struct {
	rec *store.Record[ThresholdsData]
}

func NewThresholds(m store.Medium, logger *log.Logger, now func() time.Time) (*Thresholds, error) {
	rec, err := store.NewRecord(ThresholdsLayout(), m, logger, now)
	if err != nil {
		return nil, err
	}
	return &Thresholds{rec: rec}, nil
}

func (t *Thresholds) Load() store.LoadResult   { return t.rec.Load() }
func (t *Thresholds) Initialize()              { t.rec.Initialize() }
func (t *Thresholds) Flush(force bool) error   { return t.rec.Flush(force) }
func (t *Thresholds) Snapshot() ThresholdsData { return t.rec.Get() }
func (t *Thresholds) Dirty() bool              { return t.rec.Dirty() }

func (t *Thresholds) FaceThreshold() int    { return int(t.rec.Get().FaceThreshold) }
func (t *Thresholds) GestureThreshold() int { return int(t.rec.Get().GestureThreshold) }

// PollingRate returns the poll period; zero means interrupt driven.
func (t *Thresholds) PollingRate() time.Duration {
	return time.Duration(t.rec.Get().PollingRate) * time.Second
}

func (t *Thresholds) SetFaceThreshold(v int) error {
	if err := ThresholdRange.check("faceThreshold", v); err != nil {
		return err
	}
	t.rec.Update(func(d *ThresholdsData) { d.FaceThreshold = uint16(v) })
	return nil
}

func (t *Thresholds) SetGestureThreshold(v int) error {
	if err := ThresholdRange.check("gestureThreshold", v); err != nil {
		return err
	}
	t.rec.Update(func(d *ThresholdsData) { d.GestureThreshold = uint16(v) })
	return nil
}

func (t *Thresholds) SetPollingRate(sec int) error {
	if err := PollingRateRange.check("pollingRate", sec); err != nil {
		return err
	}
	t.rec.Update(func(d *ThresholdsData) { d.PollingRate = uint16(sec) })
	return nil
}
