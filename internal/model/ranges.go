package model

import "fmt"

// Range is an inclusive integer bound.
type Range struct {
	Min, Max int
}

func (r Range) Contains(v int) bool { return v >= r.Min && v <= r.Max }

func (r Range) check(name string, v int) error {
	if !r.Contains(v) {
		return fmt.Errorf("%s=%d out of range [%d,%d]", name, v, r.Min, r.Max)
	}
	return nil
}

var (
	HourRange              = Range{0, 23}
	ReportingIntervalRange = Range{300, 86400}
	ThresholdRange         = Range{1, 100}
	PollingRateRange       = Range{0, 3600}
	SensorTypeRange        = Range{0, 2}
	StateOfChargeRange     = Range{0, 100}
)

const (
	MaxTimeZoneLen        = 39
	MaxConnectionDuration = 900
	MaxFaces              = 10
	MaxConfidence         = 100
)
