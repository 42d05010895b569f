package model

import (
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucaslui/hems/sensor-node/internal/store"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func fixedNow() time.Time { return time.Date(2024, 5, 14, 10, 16, 40, 0, time.UTC) }

func openMedium(t *testing.T) store.Medium {
	t.Helper()
	m, err := store.OpenBolt(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestThresholdOutOfRangeResetsToDefaults(t *testing.T) {
	m := openMedium(t)

	loose := ThresholdsLayout()
	loose.Validate = nil
	rec, err := store.NewRecord(loose, m, quietLogger(), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	rec.Load()
	rec.Update(func(d *ThresholdsData) { d.FaceThreshold = 255 })
	if err := rec.Flush(true); err != nil {
		t.Fatal(err)
	}

	th, err := NewThresholds(m, quietLogger(), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	if got := th.Load(); got != store.Initialized {
		t.Fatalf("Load = %s, want initialized", got)
	}
	if th.FaceThreshold() != DefaultFaceThreshold {
		t.Fatalf("FaceThreshold = %d, want %d", th.FaceThreshold(), DefaultFaceThreshold)
	}
}

func TestSettingsDefaultsAndRoundTrip(t *testing.T) {
	m := openMedium(t)
	s, err := NewSettings(m, quietLogger(), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Load(); got != store.Initialized {
		t.Fatalf("first Load = %s", got)
	}
	if s.TimeZone() != DefaultTimeZone || !s.SolarPowerMode() || s.CloseHour() != 23 {
		t.Fatalf("unexpected defaults: %+v", s.Snapshot())
	}

	if err := s.SetOpenHour(6); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTimeZone("Europe/Lisbon"); err != nil {
		t.Fatal(err)
	}
	s.SetLowPowerMode(true)
	s.SetLastReport(fixedNow())
	s.SetLastConnectionDuration(2 * time.Hour)
	if err := s.Flush(true); err != nil {
		t.Fatal(err)
	}

	again, _ := NewSettings(m, quietLogger(), fixedNow)
	if got := again.Load(); got != store.Loaded {
		t.Fatalf("second Load = %s", got)
	}
	if again.OpenHour() != 6 || again.TimeZone() != "Europe/Lisbon" || !again.LowPowerMode() {
		t.Fatalf("round trip mismatch: %+v", again.Snapshot())
	}
	if !again.LastReport().Equal(fixedNow()) {
		t.Fatalf("LastReport = %s", again.LastReport())
	}
	if again.LastConnectionDuration() != MaxConnectionDuration*time.Second {
		t.Fatalf("duration not saturated: %s", again.LastConnectionDuration())
	}
}

func TestSettingsSettersRejectOutOfRange(t *testing.T) {
	s, _ := NewSettings(openMedium(t), quietLogger(), fixedNow)
	s.Load()

	if err := s.SetOpenHour(30); err == nil {
		t.Fatal("openHour=30 accepted")
	}
	if err := s.SetReportingInterval(60); err == nil {
		t.Fatal("reportingInterval=60 accepted")
	}
	if err := s.SetTimeZone(strings.Repeat("x", MaxTimeZoneLen+1)); err == nil {
		t.Fatal("oversized timezone accepted")
	}
	if s.OpenHour() != 0 || s.ReportingInterval() != time.Hour {
		t.Fatalf("rejected values leaked: %+v", s.Snapshot())
	}
}

func TestSettingsLocationFallsBackToUTC(t *testing.T) {
	s, _ := NewSettings(openMedium(t), quietLogger(), fixedNow)
	s.Load()
	if err := s.SetTimeZone("Mars/Olympus"); err != nil {
		t.Fatal(err)
	}
	if s.Location() != time.UTC {
		t.Fatalf("Location = %s", s.Location())
	}
	if err := s.SetTimeZone("America/Sao_Paulo"); err != nil {
		t.Fatal(err)
	}
	if s.Location().String() != "America/Sao_Paulo" {
		t.Fatalf("Location = %s", s.Location())
	}
}

func TestReadingsClampAndReset(t *testing.T) {
	r, _ := NewReadings(openMedium(t), quietLogger(), fixedNow)
	r.Load()

	r.SetFace(42, 250)
	if snap := r.Snapshot(); snap.FaceCount != MaxFaces || snap.FaceScore != MaxConfidence {
		t.Fatalf("not clamped: %+v", snap)
	}
	r.SetAlert(3, fixedNow())
	later := fixedNow().Add(24 * time.Hour)
	r.ResetDaily(later)
	if snap := r.Snapshot(); snap.AlertCode != 0 || snap.LastCountTime != later.Unix() {
		t.Fatalf("daily reset incomplete: %+v", snap)
	}
}

func TestParseGesture(t *testing.T) {
	cases := []struct {
		code uint16
		kind GestureKind
		name string
	}{
		{0, GestureNone, "NONE"},
		{1, GestureLike, "LIKE"},
		{2, GestureOk, "OK"},
		{3, GestureStop, "STOP"},
		{4, GesturePeace, "PEACE"},
		{5, GestureHangLoose, "HANG LOOSE"},
		{6, GestureUnknown, "UNKNOWN(6)"},
		{300, GestureUnknown, "UNKNOWN(300)"},
	}
	for _, tc := range cases {
		g := ParseGesture(tc.code)
		if g.Kind != tc.kind || g.String() != tc.name || g.Code != tc.code {
			t.Errorf("ParseGesture(%d) = %+v %q", tc.code, g, g)
		}
	}
}

func TestReadingPayloadKeys(t *testing.T) {
	p := NewReadingPayload("node-1", ReadingsData{FaceCount: 2, FaceScore: 80, GestureType: 4, GestureScore: 70}, fixedNow())
	raw, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"eventId", "deviceId", "timestamp", "gestureType", "gestureName", "gestureScore", "faceNumber", "faceScore"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %q in %s", k, raw)
		}
	}
	if m["gestureName"] != "PEACE" {
		t.Fatalf("gestureName = %v", m["gestureName"])
	}
}

func TestTopics(t *testing.T) {
	if got := ReadingsTopic("abc"); got != "nodes/abc/readings" {
		t.Fatalf("ReadingsTopic = %q", got)
	}
	if id, ok := DeviceFromTopic("nodes/abc/readings"); !ok || id != "abc" {
		t.Fatalf("DeviceFromTopic = %q %v", id, ok)
	}
	if _, ok := DeviceFromTopic("other/abc"); ok {
		t.Fatal("foreign topic accepted")
	}
	if !IsPositiveAck([]byte("201")) || !IsPositiveAck([]byte(" 200\n")) || IsPositiveAck([]byte("500")) {
		t.Fatal("ack classification wrong")
	}
}
