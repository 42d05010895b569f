package sensor

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/lucaslui/hems/sensor-node/internal/model"
)

// Poller reads the driver and records a change only when a channel
// differs from the last value seen on that channel.
type Poller struct {
	driver     Driver
	readings   *model.Readings
	thresholds *model.Thresholds
	logger     *log.Logger

	lastPoll    time.Time
	lastFace    uint16
	lastGesture uint16

	dataReady atomic.Bool
}

func NewPoller(driver Driver, readings *model.Readings, thresholds *model.Thresholds, logger *log.Logger) *Poller {
	return &Poller{driver: driver, readings: readings, thresholds: thresholds, logger: logger}
}

// Initialize pushes the current thresholds to the driver.
func (p *Poller) Initialize() error {
	if err := p.driver.Initialize(p.thresholds.Snapshot()); err != nil {
		return fmt.Errorf("initialize sensor: %w", err)
	}
	return nil
}

// DataReady is called from the driver's interrupt context.
func (p *Poller) DataReady() { p.dataReady.Store(true) }

// Poll reads the sensor when the polling period elapsed, a data-ready
// interrupt is pending, or the polling rate is zero. It reports whether
// either channel changed.
func (p *Poller) Poll(now time.Time) (bool, error) {
	forced := p.dataReady.Swap(false)
	rate := p.thresholds.PollingRate()
	if !forced && rate > 0 && !p.lastPoll.IsZero() && now.Sub(p.lastPoll) < rate {
		return false, nil
	}
	p.lastPoll = now

	s, err := p.driver.Read()
	if err != nil {
		return false, fmt.Errorf("read sensor: %w", err)
	}

	changed := false
	if s.FaceCount != p.lastFace {
		p.logger.Printf("[sensor] faces %d -> %d (score %d)", p.lastFace, s.FaceCount, s.FaceScore)
		p.lastFace = s.FaceCount
		p.readings.SetFace(s.FaceCount, s.FaceScore)
		changed = true
	}
	if s.GestureCode != p.lastGesture {
		g := model.ParseGesture(s.GestureCode)
		if !g.Known() {
			p.logger.Printf("[sensor] unrecognized gesture code %d", s.GestureCode)
		}
		p.logger.Printf("[sensor] gesture %s -> %s (score %d)", model.ParseGesture(p.lastGesture), g, s.GestureScore)
		p.lastGesture = s.GestureCode
		p.readings.SetGesture(s.GestureCode, s.GestureScore)
		changed = true
	}
	if changed {
		p.readings.SetLastCountTime(now)
	}
	return changed, nil
}
