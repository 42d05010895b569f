package sensor

import (
	"errors"
	"log"
	"math/rand"
	"sync"

	"github.com/lucaslui/hems/sensor-node/internal/model"
)

// Simulated is a deterministic stand-in for the sensor and fuel gauge,
// used when no hardware is attached.
type Simulated struct {
	mu     sync.Mutex
	rng    *rand.Rand
	logger *log.Logger

	th          model.ThresholdsData
	initialized bool
	last        Sample
	soc         float32
}

func NewSimulated(seed int64, logger *log.Logger) *Simulated {
	return &Simulated{rng: rand.New(rand.NewSource(seed)), logger: logger, soc: 80}
}

func (s *Simulated) Initialize(th model.ThresholdsData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.th = th
	s.initialized = true
	s.logger.Printf("[sensor] simulated driver ready (face>=%d gesture>=%d)", th.FaceThreshold, th.GestureThreshold)
	return nil
}

// Read walks the previous sample: most reads repeat it, some change one
// channel. Detections below the configured thresholds are suppressed.
func (s *Simulated) Read() (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return Sample{}, errors.New("sensor not initialized")
	}

	next := s.last
	switch r := s.rng.Intn(10); {
	case r < 2:
		next.FaceCount = uint16(s.rng.Intn(model.MaxFaces + 1))
		next.FaceScore = uint16(s.rng.Intn(model.MaxConfidence + 1))
	case r < 3:
		next.GestureCode = uint16(s.rng.Intn(int(model.GestureUnknown)))
		next.GestureScore = uint16(s.rng.Intn(model.MaxConfidence + 1))
	}
	if next.FaceCount > 0 && next.FaceScore < s.th.FaceThreshold {
		next.FaceCount, next.FaceScore = 0, 0
	}
	if next.GestureCode != 0 && next.GestureScore < s.th.GestureThreshold {
		next.GestureCode, next.GestureScore = 0, 0
	}
	s.last = next
	return next, nil
}

// Charge drains slowly and recovers when it bottoms out.
func (s *Simulated) Charge() (float32, uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.soc -= s.rng.Float32()
	if s.soc < 10 {
		s.soc = 95
	}
	return s.soc, 1, nil
}
