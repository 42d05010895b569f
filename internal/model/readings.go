package model

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/lucaslui/hems/sensor-node/internal/store"
)

const (
	readingsPath  = "current"
	readingsMagic = 0x20a99e74
)

type ReadingsData struct {
	FaceCount     uint16
	FaceScore     uint16
	GestureType   uint16
	GestureScore  uint16
	LastCountTime int64
	InternalTempC float32
	ExternalTempC float32
	AlertCode     int8
	LastAlertTime int64
	StateOfCharge float32
	BatteryState  uint8
}

func defaultReadings(now time.Time) ReadingsData {
	return ReadingsData{LastCountTime: now.Unix()}
}

func validateReadings(d *ReadingsData) error {
	var errs []error
	if d.FaceCount > MaxFaces {
		errs = append(errs, fmt.Errorf("faceCount=%d exceeds %d", d.FaceCount, MaxFaces))
	}
	if d.FaceScore > MaxConfidence || d.GestureScore > MaxConfidence {
		errs = append(errs, fmt.Errorf("confidence out of range (%d/%d)", d.FaceScore, d.GestureScore))
	}
	soc := float64(d.StateOfCharge)
	if math.IsNaN(soc) || soc < float64(StateOfChargeRange.Min) || soc > float64(StateOfChargeRange.Max) {
		errs = append(errs, errors.New("stateOfCharge out of range"))
	}
	return errors.Join(errs...)
}

func ReadingsLayout() store.Layout[ReadingsData] {
	return store.Layout[ReadingsData]{
		Path:      readingsPath,
		Magic:     readingsMagic,
		Version:   1,
		SaveDelay: 250 * time.Millisecond,
		Defaults:  defaultReadings,
		Validate:  validateReadings,
	}
}

// Readings holds the latest sensor and battery values.
type Readings struct {
	rec *store.Record[ReadingsData]
}

func NewReadings(m store.Medium, logger *log.Logger, now func() time.Time) (*Readings, error) {
	rec, err := store.NewRecord(ReadingsLayout(), m, logger, now)
	if err != nil {
		return nil, err
	}
	return &Readings{rec: rec}, nil
}

func (r *Readings) Load() store.LoadResult { return r.rec.Load() }
func (r *Readings) Initialize()            { r.rec.Initialize() }
func (r *Readings) Flush(force bool) error { return r.rec.Flush(force) }
func (r *Readings) Snapshot() ReadingsData { return r.rec.Get() }
func (r *Readings) Dirty() bool            { return r.rec.Dirty() }

func (r *Readings) FaceCount() int           { return int(r.rec.Get().FaceCount) }
func (r *Readings) Gesture() Gesture         { return ParseGesture(r.rec.Get().GestureType) }
func (r *Readings) StateOfCharge() float32   { return r.rec.Get().StateOfCharge }
func (r *Readings) LastCountTime() time.Time { return unixOrZero(r.rec.Get().LastCountTime) }

func clampConfidence(v uint16) uint16 {
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}

func (r *Readings) SetFace(count, score uint16) {
	if count > MaxFaces {
		count = MaxFaces
	}
	r.rec.Update(func(d *ReadingsData) {
		d.FaceCount = count
		d.FaceScore = clampConfidence(score)
	})
}

func (r *Readings) SetGesture(code, score uint16) {
	r.rec.Update(func(d *ReadingsData) {
		d.GestureType = code
		d.GestureScore = clampConfidence(score)
	})
}

func (r *Readings) SetLastCountTime(t time.Time) {
	r.rec.Update(func(d *ReadingsData) { d.LastCountTime = unixOf(t) })
}

func (r *Readings) SetTemperatures(internal, external float32) {
	r.rec.Update(func(d *ReadingsData) {
		d.InternalTempC = internal
		d.ExternalTempC = external
	})
}

func (r *Readings) SetAlert(code int8, at time.Time) {
	r.rec.Update(func(d *ReadingsData) {
		d.AlertCode = code
		d.LastAlertTime = unixOf(at)
	})
}

func (r *Readings) SetBattery(soc float32, state uint8) {
	if soc < 0 || math.IsNaN(float64(soc)) {
		soc = 0
	}
	if soc > 100 {
		soc = 100
	}
	r.rec.Update(func(d *ReadingsData) {
		d.StateOfCharge = soc
		d.BatteryState = state
	})
}

// ResetDaily starts a new counting day.
func (r *Readings) ResetDaily(now time.Time) {
	r.rec.Update(func(d *ReadingsData) {
		d.LastCountTime = now.Unix()
		d.AlertCode = 0
	})
}
