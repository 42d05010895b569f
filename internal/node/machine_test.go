package node

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/lucaslui/hems/sensor-node/internal/model"
	"github.com/lucaslui/hems/sensor-node/internal/remoteconfig"
	"github.com/lucaslui/hems/sensor-node/internal/sensor"
	"github.com/lucaslui/hems/sensor-node/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type message struct {
	topic   string
	payload []byte
}

type fakeTransport struct {
	connected    bool
	connectWorks bool
	connectCalls int
	disconnects  int
	published    []message
	subs         map[string]func([]byte)
}

func (f *fakeTransport) IsConnected() bool { return f.connected }

func (f *fakeTransport) Connect() {
	f.connectCalls++
	if f.connectWorks {
		f.connected = true
	}
}

func (f *fakeTransport) Disconnect(context.Context) error {
	f.disconnects++
	f.connected = false
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	if !f.connected {
		return errors.New("not connected")
	}
	f.published = append(f.published, message{topic, payload})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, h func([]byte)) error {
	if f.subs == nil {
		f.subs = map[string]func([]byte){}
	}
	f.subs[topic] = h
	return nil
}

type fakeOutbox struct{ queue []message }

func (o *fakeOutbox) Enqueue(topic string, payload []byte) error {
	o.queue = append(o.queue, message{topic, payload})
	return nil
}

func (o *fakeOutbox) Drain(publish func(string, []byte) error, max int) (int, error) {
	n := 0
	for len(o.queue) > 0 && n < max {
		if err := publish(o.queue[0].topic, o.queue[0].payload); err != nil {
			return n, err
		}
		o.queue = o.queue[1:]
		n++
	}
	return n, nil
}

func (o *fakeOutbox) Len() int { return len(o.queue) }

type fakeSleeper struct {
	clk    *clock
	slept  []time.Duration
	reason WakeReason
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) (WakeReason, error) {
	s.slept = append(s.slept, d)
	s.clk.advance(d)
	return s.reason, nil
}

type fakeSync struct {
	due        bool
	nudges     int
	reconciles int
	result     remoteconfig.Result
}

func (s *fakeSync) Due(time.Time, bool, bool) bool { return s.due }

func (s *fakeSync) Nudge() { s.nudges++ }

func (s *fakeSync) Reconcile(context.Context) (remoteconfig.Result, error) {
	s.reconciles++
	s.due = false
	return s.result, nil
}

type fakeDriver struct {
	sample sensor.Sample
	inits  int
}

func (d *fakeDriver) Initialize(model.ThresholdsData) error { d.inits++; return nil }
func (d *fakeDriver) Read() (sensor.Sample, error)          { return d.sample, nil }

type fakeBattery struct{ soc float32 }

func (b *fakeBattery) Charge() (float32, uint8, error) { return b.soc, 1, nil }

type rig struct {
	m         *Machine
	clk       *clock
	transport *fakeTransport
	outbox    *fakeOutbox
	sleeper   *fakeSleeper
	sync      *fakeSync
	driver    *fakeDriver
	battery   *fakeBattery
}

var timing = Timing{
	LoopInterval:   time.Millisecond,
	WakeBoundary:   time.Hour,
	StayAwake:      90 * time.Second,
	ResponseWait:   30 * time.Second,
	ErrorDwell:     30 * time.Second,
	ConnectTimeout: 600 * time.Second,
}

func newRig(t *testing.T, boot Boot) *rig {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	clk := &clock{t: time.Date(2024, 5, 14, 10, 16, 40, 0, time.UTC)}
	medium, err := store.OpenBolt(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { medium.Close() })

	settings, _ := model.NewSettings(medium, logger, clk.now)
	thresholds, _ := model.NewThresholds(medium, logger, clk.now)
	readings, _ := model.NewReadings(medium, logger, clk.now)
	settings.Load()
	thresholds.Load()
	readings.Load()
	if err := settings.SetTimeZone("UTC"); err != nil {
		t.Fatal(err)
	}
	if err := thresholds.SetPollingRate(0); err != nil {
		t.Fatal(err)
	}

	r := &rig{
		clk:       clk,
		transport: &fakeTransport{connectWorks: true},
		outbox:    &fakeOutbox{},
		sleeper:   &fakeSleeper{clk: clk},
		sync:      &fakeSync{},
		driver:    &fakeDriver{},
		battery:   &fakeBattery{soc: 90},
	}
	r.m = New(Deps{
		DeviceID:   "dev-1",
		Settings:   settings,
		Thresholds: thresholds,
		Readings:   readings,
		Poller:     sensor.NewPoller(r.driver, readings, thresholds, logger),
		Battery:    r.battery,
		Transport:  r.transport,
		Outbox:     r.outbox,
		Sync:       r.sync,
		Sleeper:    r.sleeper,
		Logger:     logger,
		Now:        clk.now,
	}, timing, boot)
	if err := r.m.Start(); err != nil {
		t.Fatal(err)
	}
	return r
}

// at places the machine in s as if it had been there since the last step.
func (r *rig) at(s State) {
	r.m.state, r.m.oldState = s, s
}

func (r *rig) step(t *testing.T) {
	t.Helper()
	if err := r.m.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

func TestWakeIn(t *testing.T) {
	base := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		offset time.Duration
		want   time.Duration
	}{
		{1000 * time.Second, 2600 * time.Second},
		{0, time.Hour},
		{3599 * time.Second, time.Second},
		{59 * time.Minute, time.Minute},
	}
	for _, tc := range cases {
		if got := WakeIn(base.Add(tc.offset), time.Hour); got != tc.want {
			t.Errorf("WakeIn(+%s) = %s, want %s", tc.offset, got, tc.want)
		}
	}
}

func TestInitializingTransitions(t *testing.T) {
	cases := []struct {
		name string
		boot Boot
		when time.Time
		want State
	}{
		{"first boot", Boot{FirstBoot: true}, time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC), Connecting},
		{"forced", Boot{ForceConnect: true}, time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC), Connecting},
		{"invalid time", Boot{}, time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC), Connecting},
		{"normal", Boot{}, time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC), Sleeping},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, tc.boot)
			r.clk.t = tc.when
			r.m.initializing(r.clk.now())
			if r.m.State() != tc.want {
				t.Fatalf("state = %s, want %s", r.m.State(), tc.want)
			}
		})
	}
}

func TestForcedBootRequestsConfiguration(t *testing.T) {
	r := newRig(t, Boot{ForceConnect: true})
	r.m.Settings.SetLowPowerMode(true)
	r.step(t)
	if r.m.Settings.LowPowerMode() {
		t.Fatal("settings not restored to defaults")
	}
	if !r.m.Settings.UpdatesPending() {
		t.Fatal("updates-pending not raised")
	}
}

func TestIdleReportsOncePerHour(t *testing.T) {
	r := newRig(t, Boot{})
	r.transport.connected = true
	r.m.Settings.SetLastReport(r.clk.now().Add(-time.Hour))
	r.at(Idle)

	reports := 0
	for i := 0; i < 20; i++ {
		r.step(t)
		if r.m.State() == Reporting {
			reports++
		}
		r.clk.advance(time.Minute)
	}
	if reports != 1 {
		t.Fatalf("reported %d times within the hour, want 1", reports)
	}

	r.clk.t = time.Date(2024, 5, 14, 11, 0, 1, 0, time.UTC)
	r.step(t)
	if r.m.State() != Reporting {
		t.Fatalf("state = %s after hour boundary, want Reporting", r.m.State())
	}
}

func TestReportWithChangeWaitsForAck(t *testing.T) {
	r := newRig(t, Boot{})
	r.transport.connected = true
	r.driver.sample = sensor.Sample{FaceCount: 2, FaceScore: 90}
	r.at(Reporting)

	r.step(t)
	if r.m.State() != ResponseWait {
		t.Fatalf("state = %s, want ResponseWait", r.m.State())
	}
	if len(r.transport.published) != 1 || r.transport.published[0].topic != "nodes/dev-1/readings" {
		t.Fatalf("published = %+v", r.transport.published)
	}

	r.step(t)
	r.transport.subs["nodes/dev-1/ack"]([]byte("500"))
	r.step(t)
	if r.m.State() != ResponseWait {
		t.Fatal("negative ack accepted")
	}

	r.transport.subs["nodes/dev-1/ack"]([]byte("201"))
	r.step(t)
	if r.m.State() != Idle {
		t.Fatalf("state = %s after ack, want Idle", r.m.State())
	}
	if r.m.Settings.LastRemoteAck().IsZero() {
		t.Fatal("last remote ack not recorded")
	}
}

func TestResponseTimeoutEscalatesToError(t *testing.T) {
	r := newRig(t, Boot{})
	r.transport.connected = true
	r.driver.sample = sensor.Sample{GestureCode: 4, GestureScore: 90}
	r.at(Reporting)

	r.step(t)
	r.step(t)
	r.clk.advance(31 * time.Second)
	r.step(t)
	if r.m.State() != Error {
		t.Fatalf("state = %s, want Error", r.m.State())
	}
}

func TestConnectTimeoutEscalatesAndRestarts(t *testing.T) {
	r := newRig(t, Boot{FirstBoot: true})
	r.transport.connectWorks = false

	r.step(t)
	r.step(t)
	if r.m.State() != Connecting || r.transport.connectCalls != 1 {
		t.Fatalf("state = %s, connects = %d", r.m.State(), r.transport.connectCalls)
	}
	for i := 0; i < 5; i++ {
		r.clk.advance(100 * time.Second)
		r.step(t)
	}
	if r.transport.connectCalls != 1 {
		t.Fatalf("connect retried in place: %d calls", r.transport.connectCalls)
	}
	r.clk.advance(101 * time.Second)
	r.step(t)
	if r.m.State() != Error {
		t.Fatalf("state = %s after timeout, want Error", r.m.State())
	}

	r.step(t)
	if got := r.m.Settings.ResetCount(); got != 1 {
		t.Fatalf("reset count = %d, want 1", got)
	}
	r.clk.advance(31 * time.Second)
	if err := r.m.Step(context.Background()); !errors.Is(err, ErrRestart) {
		t.Fatalf("Step err = %v, want ErrRestart", err)
	}
}

func TestConnectSuccessRecordsConnection(t *testing.T) {
	r := newRig(t, Boot{FirstBoot: true})
	r.m.Settings.SetResetCount(3)

	r.step(t)
	r.clk.advance(12 * time.Second)
	r.step(t)
	if r.m.State() != Idle {
		t.Fatalf("state = %s, want Idle", r.m.State())
	}
	if r.m.Settings.ResetCount() != 0 || r.m.Settings.LastConnection().IsZero() {
		t.Fatalf("connection not recorded: %+v", r.m.Settings.Snapshot())
	}
}

func TestSleepingDisconnectsAndWakesAtBoundary(t *testing.T) {
	r := newRig(t, Boot{})
	r.transport.connected = true
	r.clk.t = time.Date(2024, 5, 14, 10, 16, 40, 0, time.UTC)
	r.at(Idle)
	r.m.state = Sleeping

	r.step(t)
	if r.transport.disconnects != 1 || r.transport.connected {
		t.Fatal("transport not powered down before sleep")
	}
	if len(r.sleeper.slept) != 1 || r.sleeper.slept[0] != 2600*time.Second {
		t.Fatalf("slept %v, want [2600s]", r.sleeper.slept)
	}
	if r.m.State() != Idle {
		t.Fatalf("state = %s, want Idle", r.m.State())
	}
}

func TestOverrideWakeReports(t *testing.T) {
	r := newRig(t, Boot{})
	r.m.Settings.SetLowPowerMode(true)
	r.m.Settings.SetLowBatteryMode(true)
	r.sleeper.reason = WakeOverride
	r.at(Sleeping)
	r.m.oldState = Idle

	r.step(t)
	if r.m.State() != Reporting || r.m.Settings.LowPowerMode() {
		t.Fatalf("state = %s lowPower = %v", r.m.State(), r.m.Settings.LowPowerMode())
	}
	r.step(t)
	if r.m.State() != Connecting {
		t.Fatalf("override report skipped connecting: %s", r.m.State())
	}
}

func TestLowPowerIdleSleepsAfterStayAwake(t *testing.T) {
	r := newRig(t, Boot{})
	r.m.Settings.SetLowPowerMode(true)
	r.m.Settings.SetLastReport(r.clk.now())
	r.m.resetStayAwake(r.clk.now())
	r.at(Idle)

	r.step(t)
	if r.m.State() != Idle {
		t.Fatalf("slept inside stay-awake window: %s", r.m.State())
	}
	r.clk.advance(91 * time.Second)
	r.step(t)
	if r.m.State() != Sleeping {
		t.Fatalf("state = %s, want Sleeping", r.m.State())
	}
}

func TestLowBatterySkipsConnect(t *testing.T) {
	r := newRig(t, Boot{})
	r.m.Settings.SetLowBatteryMode(true)
	r.at(Reporting)

	r.step(t)
	if r.m.State() != Idle || r.transport.connectCalls != 0 {
		t.Fatalf("state = %s, connects = %d", r.m.State(), r.transport.connectCalls)
	}
}

func TestStateOfChargeTiers(t *testing.T) {
	cases := []struct {
		soc  float32
		hour int
		want State
	}{
		{80, 5, Connecting},
		{60, 5, Idle},
		{60, 6, Connecting},
		{40, 6, Idle},
		{40, 8, Connecting},
	}
	for _, tc := range cases {
		r := newRig(t, Boot{})
		r.m.Settings.SetLowPowerMode(true)
		if err := r.m.Settings.SetOpenHour(23); err != nil {
			t.Fatal(err)
		}
		r.battery.soc = tc.soc
		r.transport.connectWorks = false
		r.clk.t = time.Date(2024, 5, 14, tc.hour, 30, 0, 0, time.UTC)
		r.at(Reporting)

		r.step(t)
		if r.m.State() != tc.want {
			t.Errorf("soc=%.0f hour=%d: state = %s, want %s", tc.soc, tc.hour, r.m.State(), tc.want)
		}
	}
}

func TestFaultEscalatesToError(t *testing.T) {
	r := newRig(t, Boot{})
	r.m.Settings.SetLastReport(r.clk.now())
	r.at(Idle)

	r.m.RaiseFault("heap exhausted")
	r.step(t)
	if r.m.State() != Error {
		t.Fatalf("state = %s, want Error", r.m.State())
	}
}

func TestButtonForcesReport(t *testing.T) {
	r := newRig(t, Boot{})
	r.m.Settings.SetLastReport(r.clk.now())
	r.at(Idle)

	r.m.PressButton()
	r.step(t)
	if r.m.State() != Reporting {
		t.Fatalf("state = %s, want Reporting", r.m.State())
	}
}

func TestConfigUpdateTriggersReconcileAndReinit(t *testing.T) {
	r := newRig(t, Boot{})
	r.transport.connected = true
	r.m.Settings.SetLastReport(r.clk.now())
	r.at(Idle)
	inits := r.driver.inits

	r.m.NotifyConfigUpdate()
	r.sync.due = true
	r.sync.result = remoteconfig.Result{Source: remoteconfig.SourceDeviceOverrides, Applied: 2}
	r.step(t)
	if !r.m.Settings.UpdatesPending() {
		t.Fatal("update flag not moved into settings")
	}
	if r.sync.reconciles != 1 {
		t.Fatalf("reconciles = %d", r.sync.reconciles)
	}
	if r.sync.nudges != 1 {
		t.Fatalf("nudges = %d, want 1", r.sync.nudges)
	}
	if r.driver.inits != inits+1 {
		t.Fatal("driver not re-initialized after sync")
	}
}

func TestVerboseModePublishesTransitions(t *testing.T) {
	r := newRig(t, Boot{})
	r.transport.connected = true
	r.m.Settings.SetVerboseMode(true)
	r.m.Settings.SetLastReport(r.clk.now())
	r.at(Reporting)
	r.m.oldState = Idle

	r.step(t)
	found := false
	for _, msg := range r.transport.published {
		if msg.topic == "nodes/dev-1/status" {
			found = true
		}
	}
	if !found {
		t.Fatal("no status message published")
	}
}

func TestRunReturnsRestart(t *testing.T) {
	r := newRig(t, Boot{})
	r.m.Now = time.Now
	r.m.timing.ErrorDwell = 0
	r.m.Settings.SetLastReport(time.Now())
	r.at(Idle)
	r.m.RaiseFault("test")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.m.Run(ctx); !errors.Is(err, ErrRestart) {
		t.Fatalf("Run = %v, want ErrRestart", err)
	}
}

func TestButtonBeforeSleepSkipsSleep(t *testing.T) {
	r := newRig(t, Boot{})
	sleeper := NewTimerSleeper()
	r.m.Sleeper = sleeper
	r.m.timing.WakeBoundary = 2 * time.Second
	r.m.Settings.SetLowPowerMode(true)
	r.transport.connected = true
	r.at(Idle)
	r.m.state = Sleeping

	r.m.PressButton()
	start := time.Now()
	r.step(t)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("slept %s despite pending button press", elapsed)
	}
	if r.m.State() != Reporting || r.m.Settings.LowPowerMode() {
		t.Fatalf("state = %s lowPower = %v", r.m.State(), r.m.Settings.LowPowerMode())
	}
	if r.transport.disconnects != 1 {
		t.Fatal("transport not powered down before the sleep decision")
	}

	// the press was consumed; the next sleep runs to the boundary
	r.m.Now = time.Now
	r.at(Idle)
	r.m.state = Sleeping
	r.step(t)
	if r.m.State() != Idle {
		t.Fatalf("stale press woke the node: state = %s", r.m.State())
	}
}

func TestTimerSleeperDrain(t *testing.T) {
	s := NewTimerSleeper()
	s.Wake()
	reason, err := s.Sleep(context.Background(), time.Minute)
	if err != nil || reason != WakeOverride {
		t.Fatalf("pending wake lost: %v, %v", reason, err)
	}

	s.Wake()
	s.Drain()
	reason, err = s.Sleep(context.Background(), 10*time.Millisecond)
	if err != nil || reason != WakeTimer {
		t.Fatalf("drained wake still delivered: %v, %v", reason, err)
	}
}

func TestTimerSleeperWake(t *testing.T) {
	s := NewTimerSleeper()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Wake()
	}()
	reason, err := s.Sleep(context.Background(), time.Minute)
	if err != nil || reason != WakeOverride {
		t.Fatalf("Sleep = %v, %v", reason, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep err = %v", err)
	}
}
