package remoteconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/lucaslui/hems/sensor-node/internal/model"
)

type Kind int

const (
	Bool Kind = iota
	Int
	String
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int:
		return "int"
	default:
		return "string"
	}
}

// Target is the live configuration fields are applied to.
type Target struct {
	Settings   *model.Settings
	Thresholds *model.Thresholds
}

// Field is one row of the declarative configuration table.
type Field struct {
	Section string
	Key     string
	Kind    Kind
	Range   model.Range
	check   func(string) error
	apply   func(t Target, v any) error
	read    func(t Target) any
}

// FieldError describes one rejected field; the previous value is kept.
type FieldError struct {
	Section string
	Key     string
	Value   any
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s=%v rejected: %v", e.Section, e.Key, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func boolField(section, key string, set func(Target, bool), get func(Target) bool) Field {
	return Field{
		Section: section, Key: key, Kind: Bool,
		apply: func(t Target, v any) error { set(t, v.(bool)); return nil },
		read:  func(t Target) any { return get(t) },
	}
}

func intField(section, key string, r model.Range, set func(Target, int) error, get func(Target) int) Field {
	return Field{
		Section: section, Key: key, Kind: Int, Range: r,
		apply: func(t Target, v any) error { return set(t, v.(int)) },
		read:  func(t Target) any { return get(t) },
	}
}

func checkTimeZone(name string) error {
	if name == "" || len(name) > model.MaxTimeZoneLen {
		return fmt.Errorf("length must be 1..%d", model.MaxTimeZoneLen)
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("unknown zone: %w", err)
	}
	return nil
}

// Fields lists every configurable value, grouped by section in apply order.
var Fields = []Field{
	boolField("messaging", "verbose",
		func(t Target, v bool) { t.Settings.SetVerboseMode(v) },
		func(t Target) bool { return t.Settings.VerboseMode() }),
	boolField("messaging", "disconnected",
		func(t Target, v bool) { t.Settings.SetDisconnectedMode(v) },
		func(t Target) bool { return t.Settings.DisconnectedMode() }),
	boolField("messaging", "serial",
		func(t Target, v bool) { t.Settings.SetSerialEnabled(v) },
		func(t Target) bool { return t.Settings.SerialEnabled() }),

	intField("timing", "openHour", model.HourRange,
		func(t Target, v int) error { return t.Settings.SetOpenHour(v) },
		func(t Target) int { return t.Settings.OpenHour() }),
	intField("timing", "closeHour", model.HourRange,
		func(t Target, v int) error { return t.Settings.SetCloseHour(v) },
		func(t Target) int { return t.Settings.CloseHour() }),
	intField("timing", "reportingInterval", model.ReportingIntervalRange,
		func(t Target, v int) error { return t.Settings.SetReportingInterval(v) },
		func(t Target) int { return int(t.Settings.ReportingInterval() / time.Second) }),
	{
		Section: "timing", Key: "timezone", Kind: String,
		check: checkTimeZone,
		apply: func(t Target, v any) error { return t.Settings.SetTimeZone(v.(string)) },
		read:  func(t Target) any { return t.Settings.TimeZone() },
	},

	boolField("power", "lowPower",
		func(t Target, v bool) { t.Settings.SetLowPowerMode(v) },
		func(t Target) bool { return t.Settings.LowPowerMode() }),
	boolField("power", "solarPower",
		func(t Target, v bool) { t.Settings.SetSolarPowerMode(v) },
		func(t Target) bool { return t.Settings.SolarPowerMode() }),
	boolField("power", "lowBattery",
		func(t Target, v bool) { t.Settings.SetLowBatteryMode(v) },
		func(t Target) bool { return t.Settings.LowBatteryMode() }),

	intField("sensor", "faceThreshold", model.ThresholdRange,
		func(t Target, v int) error { return t.Thresholds.SetFaceThreshold(v) },
		func(t Target) int { return t.Thresholds.FaceThreshold() }),
	intField("sensor", "gestureThreshold", model.ThresholdRange,
		func(t Target, v int) error { return t.Thresholds.SetGestureThreshold(v) },
		func(t Target) int { return t.Thresholds.GestureThreshold() }),
	intField("sensor", "pollingRate", model.PollingRateRange,
		func(t Target, v int) error { return t.Thresholds.SetPollingRate(v) },
		func(t Target) int { return int(t.Thresholds.PollingRate() / time.Second) }),
	intField("sensor", "sensorType", model.SensorTypeRange,
		func(t Target, v int) error { return t.Settings.SetSensorType(v) },
		func(t Target) int { return t.Settings.SensorType() }),
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i > math.MaxInt32 || i < math.MinInt32 {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

// Validate coerces raw into the field's Go type and range-checks it.
func (f Field) Validate(raw any) (any, error) {
	switch f.Kind {
	case Bool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case Int:
		if n, ok := asInt(raw); ok {
			if !f.Range.Contains(n) {
				return nil, fmt.Errorf("out of range [%d,%d]", f.Range.Min, f.Range.Max)
			}
			return n, nil
		}
	case String:
		if s, ok := raw.(string); ok {
			if f.check != nil {
				if err := f.check(s); err != nil {
					return nil, err
				}
			}
			return s, nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", f.Kind, raw)
}

// Applied is one accepted field.
type Applied struct {
	Key   string
	Value any
}

// ApplySection applies every field of section present in values. Rejected
// fields keep their previous value and are reported as *FieldError,
// joined; the other fields still apply. Unknown keys are ignored.
func ApplySection(t Target, section string, values map[string]any) ([]Applied, error) {
	var (
		applied []Applied
		errs    []error
	)
	for _, f := range Fields {
		if f.Section != section {
			continue
		}
		raw, ok := values[f.Key]
		if !ok {
			continue
		}
		v, err := f.Validate(raw)
		if err == nil {
			err = f.apply(t, v)
		}
		if err != nil {
			errs = append(errs, &FieldError{Section: section, Key: f.Key, Value: raw, Err: err})
			continue
		}
		applied = append(applied, Applied{Key: f.Key, Value: v})
	}
	return applied, errors.Join(errs...)
}

// Snapshot renders the live configuration as a complete document.
func Snapshot(t Target) Document {
	doc := Document{}
	for _, f := range Fields {
		if doc[f.Section] == nil {
			doc[f.Section] = map[string]any{}
		}
		doc[f.Section][f.Key] = f.read(t)
	}
	return doc
}

// CheckDocument validates every known field present in doc without
// applying anything and returns the keys it does not recognise.
func CheckDocument(doc Document) (unknown []string, err error) {
	known := map[string]Field{}
	for _, f := range Fields {
		known[f.Section+"."+f.Key] = f
	}
	var errs []error
	for _, section := range Sections {
		for key, raw := range doc[section] {
			f, ok := known[section+"."+key]
			if !ok {
				unknown = append(unknown, section+"."+key)
				continue
			}
			if _, err := f.Validate(raw); err != nil {
				errs = append(errs, &FieldError{Section: section, Key: key, Value: raw, Err: err})
			}
		}
	}
	for name := range doc {
		if !slices.Contains(Sections, name) {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown, errors.Join(errs...)
}
