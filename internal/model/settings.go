package model

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"time"
	_ "time/tzdata"

	"github.com/lucaslui/hems/sensor-node/internal/store"
)

const (
	settingsPath  = "sysStatus"
	settingsMagic = 0x20a15e75

	DefaultTimeZone = "America/New_York"
)

// SettingsData is the persisted device schedule and mode. Field order is
// the on-medium layout.
type SettingsData struct {
	VerboseMode            bool
	SolarPowerMode         bool
	LowPowerMode           bool
	LowBatteryMode         bool
	ResetCount             uint8
	TimeZone               [MaxTimeZoneLen + 1]byte
	OpenHour               uint8
	CloseHour              uint8
	LastReport             int64
	LastConnection         int64
	LastConnectionDuration uint16
	LastRemoteAck          int64
	SensorType             uint8
	UpdatesPending         bool
	ReportingInterval      uint32
	DisconnectedMode       bool
	SerialEnabled          bool
}

func defaultSettings(time.Time) SettingsData {
	d := SettingsData{
		SolarPowerMode:    true,
		OpenHour:          0,
		CloseHour:         23,
		ReportingInterval: 3600,
	}
	copy(d.TimeZone[:], DefaultTimeZone)
	return d
}

func validateSettings(d *SettingsData) error {
	var errs []error
	errs = append(errs,
		HourRange.check("openHour", int(d.OpenHour)),
		HourRange.check("closeHour", int(d.CloseHour)),
		ReportingIntervalRange.check("reportingInterval", int(d.ReportingInterval)),
		SensorTypeRange.check("sensorType", int(d.SensorType)),
	)
	if d.LastConnectionDuration > MaxConnectionDuration {
		errs = append(errs, fmt.Errorf("lastConnectionDuration=%d exceeds %d", d.LastConnectionDuration, MaxConnectionDuration))
	}
	if tz := zoneName(d.TimeZone); tz == "" || d.TimeZone[MaxTimeZoneLen] != 0 {
		errs = append(errs, errors.New("timezone missing or unterminated"))
	}
	return errors.Join(errs...)
}

func SettingsLayout() store.Layout[SettingsData] {
	return store.Layout[SettingsData]{
		Path:      settingsPath,
		Magic:     settingsMagic,
		Version:   1,
		SaveDelay: 100 * time.Millisecond,
		Defaults:  defaultSettings,
		Validate:  validateSettings,
	}
}

func zoneName(b [MaxTimeZoneLen + 1]byte) string {
	if i := bytes.IndexByte(b[:], 0); i >= 0 {
		return string(b[:i])
	}
	return string(b[:])
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func unixOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Settings is the device schedule/mode record.
type Settings struct {
	rec    *store.Record[SettingsData]
	logger *log.Logger

	locName string
	loc     *time.Location
}

func NewSettings(m store.Medium, logger *log.Logger, now func() time.Time) (*Settings, error) {
	rec, err := store.NewRecord(SettingsLayout(), m, logger, now)
	if err != nil {
		return nil, err
	}
	return &Settings{rec: rec, logger: logger}, nil
}

func (s *Settings) Load() store.LoadResult { return s.rec.Load() }
func (s *Settings) Initialize()            { s.rec.Initialize() }
func (s *Settings) Flush(force bool) error { return s.rec.Flush(force) }
func (s *Settings) Snapshot() SettingsData { return s.rec.Get() }
func (s *Settings) Dirty() bool            { return s.rec.Dirty() }

func (s *Settings) VerboseMode() bool      { return s.rec.Get().VerboseMode }
func (s *Settings) SolarPowerMode() bool   { return s.rec.Get().SolarPowerMode }
func (s *Settings) LowPowerMode() bool     { return s.rec.Get().LowPowerMode }
func (s *Settings) LowBatteryMode() bool   { return s.rec.Get().LowBatteryMode }
func (s *Settings) ResetCount() uint8      { return s.rec.Get().ResetCount }
func (s *Settings) OpenHour() int          { return int(s.rec.Get().OpenHour) }
func (s *Settings) CloseHour() int         { return int(s.rec.Get().CloseHour) }
func (s *Settings) SensorType() int        { return int(s.rec.Get().SensorType) }
func (s *Settings) UpdatesPending() bool   { return s.rec.Get().UpdatesPending }
func (s *Settings) DisconnectedMode() bool { return s.rec.Get().DisconnectedMode }
func (s *Settings) SerialEnabled() bool    { return s.rec.Get().SerialEnabled }
func (s *Settings) TimeZone() string       { return zoneName(s.rec.Get().TimeZone) }

func (s *Settings) ReportingInterval() time.Duration {
	return time.Duration(s.rec.Get().ReportingInterval) * time.Second
}

func (s *Settings) LastReport() time.Time     { return unixOrZero(s.rec.Get().LastReport) }
func (s *Settings) LastConnection() time.Time { return unixOrZero(s.rec.Get().LastConnection) }
func (s *Settings) LastRemoteAck() time.Time  { return unixOrZero(s.rec.Get().LastRemoteAck) }

func (s *Settings) LastConnectionDuration() time.Duration {
	return time.Duration(s.rec.Get().LastConnectionDuration) * time.Second
}

// Location resolves the stored timezone, falling back to UTC when the
// zone database does not know it.
func (s *Settings) Location() *time.Location {
	name := s.TimeZone()
	if s.loc != nil && s.locName == name {
		return s.loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		s.logger.Printf("[settings] unknown timezone %q, using UTC: %v", name, err)
		loc = time.UTC
	}
	s.locName, s.loc = name, loc
	return loc
}

func (s *Settings) SetVerboseMode(v bool) {
	s.rec.Update(func(d *SettingsData) { d.VerboseMode = v })
}

func (s *Settings) SetSolarPowerMode(v bool) {
	s.rec.Update(func(d *SettingsData) { d.SolarPowerMode = v })
}

func (s *Settings) SetLowPowerMode(v bool) {
	s.rec.Update(func(d *SettingsData) { d.LowPowerMode = v })
}

func (s *Settings) SetLowBatteryMode(v bool) {
	s.rec.Update(func(d *SettingsData) { d.LowBatteryMode = v })
}

func (s *Settings) SetResetCount(v uint8) {
	s.rec.Update(func(d *SettingsData) { d.ResetCount = v })
}

func (s *Settings) IncrementResetCount() {
	s.rec.Update(func(d *SettingsData) {
		if d.ResetCount < 0xff {
			d.ResetCount++
		}
	})
}

func (s *Settings) SetUpdatesPending(v bool) {
	s.rec.Update(func(d *SettingsData) { d.UpdatesPending = v })
}

func (s *Settings) SetDisconnectedMode(v bool) {
	s.rec.Update(func(d *SettingsData) { d.DisconnectedMode = v })
}

func (s *Settings) SetSerialEnabled(v bool) {
	s.rec.Update(func(d *SettingsData) { d.SerialEnabled = v })
}

func (s *Settings) SetOpenHour(h int) error {
	if err := HourRange.check("openHour", h); err != nil {
		return err
	}
	s.rec.Update(func(d *SettingsData) { d.OpenHour = uint8(h) })
	return nil
}

func (s *Settings) SetCloseHour(h int) error {
	if err := HourRange.check("closeHour", h); err != nil {
		return err
	}
	s.rec.Update(func(d *SettingsData) { d.CloseHour = uint8(h) })
	return nil
}

func (s *Settings) SetReportingInterval(sec int) error {
	if err := ReportingIntervalRange.check("reportingInterval", sec); err != nil {
		return err
	}
	s.rec.Update(func(d *SettingsData) { d.ReportingInterval = uint32(sec) })
	return nil
}

func (s *Settings) SetSensorType(v int) error {
	if err := SensorTypeRange.check("sensorType", v); err != nil {
		return err
	}
	s.rec.Update(func(d *SettingsData) { d.SensorType = uint8(v) })
	return nil
}

func (s *Settings) SetTimeZone(name string) error {
	if name == "" || len(name) > MaxTimeZoneLen {
		return fmt.Errorf("timezone %q must be 1..%d bytes", name, MaxTimeZoneLen)
	}
	s.rec.Update(func(d *SettingsData) {
		d.TimeZone = [MaxTimeZoneLen + 1]byte{}
		copy(d.TimeZone[:], name)
	})
	return nil
}

func (s *Settings) SetLastReport(t time.Time) {
	s.rec.Update(func(d *SettingsData) { d.LastReport = unixOf(t) })
}

func (s *Settings) SetLastConnection(t time.Time) {
	s.rec.Update(func(d *SettingsData) { d.LastConnection = unixOf(t) })
}

func (s *Settings) SetLastRemoteAck(t time.Time) {
	s.rec.Update(func(d *SettingsData) { d.LastRemoteAck = unixOf(t) })
}

// SetLastConnectionDuration saturates at MaxConnectionDuration so the
// record always stays loadable.
func (s *Settings) SetLastConnectionDuration(dur time.Duration) {
	sec := int(dur / time.Second)
	if sec < 0 {
		sec = 0
	}
	if sec > MaxConnectionDuration {
		sec = MaxConnectionDuration
	}
	s.rec.Update(func(d *SettingsData) { d.LastConnectionDuration = uint16(sec) })
}
