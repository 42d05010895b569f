package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/lucaslui/hems/sensor-node/internal/model"
	"github.com/lucaslui/hems/sensor-node/internal/remoteconfig"
	"github.com/lucaslui/hems/sensor-node/internal/sensor"
)

// ErrRestart is returned by Run when the error dwell elapsed and the
// node must be rebuilt from scratch.
var ErrRestart = errors.New("node: restart requested")

const (
	drainBatch        = 20
	reconcileTimeout  = 10 * time.Second
	disconnectTimeout = 5 * time.Second
	highChargePercent = 65
	lowChargePercent  = 50
	lowChargeHourStep = 4
	midChargeHourStep = 2
)

// Transport is the cloud channel. Connect must not block; completion is
// observed through IsConnected.
type Transport interface {
	IsConnected() bool
	Connect()
	Disconnect(ctx context.Context) error
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(payload []byte)) error
}

// Outbox is the at-least-once outbound queue.
type Outbox interface {
	Enqueue(topic string, payload []byte) error
	Drain(publish func(topic string, payload []byte) error, max int) (int, error)
	Len() int
}

type Reconciler interface {
	Due(now time.Time, connected, updatesPending bool) bool
	Nudge()
	Reconcile(ctx context.Context) (remoteconfig.Result, error)
}

type Timing struct {
	LoopInterval   time.Duration
	WakeBoundary   time.Duration
	StayAwake      time.Duration
	ResponseWait   time.Duration
	ErrorDwell     time.Duration
	ConnectTimeout time.Duration
}

// Boot carries facts about how this run started.
type Boot struct {
	ForceConnect bool
	FirstBoot    bool
}

type Deps struct {
	DeviceID   string
	Settings   *model.Settings
	Thresholds *model.Thresholds
	Readings   *model.Readings
	Poller     *sensor.Poller
	Battery    sensor.Battery
	Transport  Transport
	Outbox     Outbox
	Sync       Reconciler
	Sleeper    Sleeper
	Logger     *log.Logger
	Now        func() time.Time
}

type flags struct {
	override atomic.Bool
	fault    atomic.Bool
	ack      atomic.Bool
	updates  atomic.Bool
}

// Machine is the node's operational state machine. Step and Run must be
// called from a single goroutine; the Raise/Press/Notify methods may be
// called from any goroutine.
type Machine struct {
	Deps
	timing Timing
	boot   Boot

	state    State
	oldState State
	flags    flags

	forced       bool
	dataInFlight bool
	stayAwake    time.Duration
	stayAwakeAt  time.Time
	connectFrom  State
	connectStart time.Time
	respDeadline time.Time
	errorSince   time.Time
}

func New(d Deps, timing Timing, boot Boot) *Machine {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Machine{Deps: d, timing: timing, boot: boot, state: Initializing, oldState: Initializing}
}

func (m *Machine) State() State { return m.state }

// PressButton requests an immediate report and wakes a sleeping node.
func (m *Machine) PressButton() {
	m.flags.override.Store(true)
	if w, ok := m.Sleeper.(interface{ Wake() }); ok {
		w.Wake()
	}
}

// RaiseFault requests the Error path from an asynchronous context.
func (m *Machine) RaiseFault(reason string) {
	m.Logger.Printf("[node] fault: %s", reason)
	m.flags.fault.Store(true)
}

// NotifyConfigUpdate marks remote configuration as changed.
func (m *Machine) NotifyConfigUpdate() { m.flags.updates.Store(true) }

func (m *Machine) onAck(payload []byte) {
	if model.IsPositiveAck(payload) {
		m.flags.ack.Store(true)
		return
	}
	m.Logger.Printf("[node] ignoring response %q", payload)
}

// Start subscribes to acknowledgements and configures the sensor.
func (m *Machine) Start() error {
	if err := m.Transport.Subscribe(model.AckTopic(m.DeviceID), m.onAck); err != nil {
		return fmt.Errorf("subscribe ack: %w", err)
	}
	if err := m.Poller.Initialize(); err != nil {
		m.Logger.Printf("[node] %v", err)
	}
	return nil
}

// Run steps the machine until ctx is done or a restart is required.
func (m *Machine) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}
	for {
		if err := m.Step(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			m.flushAll(true)
			return ctx.Err()
		case <-time.After(m.timing.LoopInterval):
		}
	}
}

// Step runs one loop iteration.
func (m *Machine) Step(ctx context.Context) error {
	now := m.Now()
	m.serviceFlags(now)

	switch m.state {
	case Initializing:
		m.initializing(now)
	case Sleeping:
		if err := m.sleeping(ctx, now); err != nil {
			return err
		}
	case Idle:
		m.idle(now)
	case Reporting:
		m.reporting(now)
	case Connecting:
		m.connecting(now)
	case ResponseWait:
		m.responseWait(now)
	case Error:
		if m.errorState(now) {
			return ErrRestart
		}
	}

	m.housekeeping(ctx, m.Now())

	if m.flags.fault.Swap(false) {
		m.state = Error
	}
	if m.flags.override.Swap(false) && m.state != Error {
		m.Logger.Printf("[node] override detected, reporting now")
		m.forced = true
		m.state = Reporting
	}
	return nil
}

// enter reports the state-entry edge and the state being left.
func (m *Machine) enter() (bool, State) {
	if m.state == m.oldState {
		return false, m.oldState
	}
	prev := m.oldState
	m.oldState = m.state
	if ValidTime(m.Now()) {
		m.Logger.Printf("[node] From %s to %s", prev, m.state)
	} else {
		m.Logger.Printf("[node] From %s to %s with invalid time", prev, m.state)
	}
	m.publishStatus(prev, m.state)
	return true, prev
}

func (m *Machine) publishStatus(from, to State) {
	if !m.Settings.VerboseMode() || !m.Transport.IsConnected() {
		return
	}
	raw, err := json.Marshal(model.StatusPayload{DeviceID: m.DeviceID, From: from.String(), To: to.String(), Timestamp: m.Now().UTC()})
	if err != nil {
		return
	}
	if err := m.Transport.Publish(model.StatusTopic(m.DeviceID), raw); err != nil {
		m.Logger.Printf("[node] status publish failed: %v", err)
	}
}

func (m *Machine) serviceFlags(now time.Time) {
	if m.flags.updates.Swap(false) {
		m.Logger.Printf("[node] remote configuration changed")
		m.Settings.SetUpdatesPending(true)
		if m.Sync != nil {
			m.Sync.Nudge()
		}
	}
	if m.flags.ack.Swap(false) {
		m.Settings.SetLastRemoteAck(now)
		if m.dataInFlight {
			m.dataInFlight = false
			m.Logger.Printf("[node] collector acknowledged reading")
		}
	}
}

func (m *Machine) resetStayAwake(now time.Time) {
	m.stayAwake = m.timing.StayAwake
	m.stayAwakeAt = now
}

func (m *Machine) dailyCleanup(now time.Time) {
	m.Logger.Printf("[node] daily cleanup")
	m.Settings.SetVerboseMode(false)
	m.Settings.SetResetCount(0)
	m.Readings.ResetDaily(now)
}

func (m *Machine) initializing(now time.Time) {
	loc := m.Settings.Location()
	if last := m.Settings.LastConnection(); !last.IsZero() && !sameDay(last, now, loc) {
		m.dailyCleanup(now)
	}

	switch {
	case m.boot.ForceConnect:
		m.Logger.Printf("[node] override held at startup, restoring default settings")
		m.Settings.Initialize()
		m.Settings.SetUpdatesPending(true)
		m.state = Connecting
	case !ValidTime(now):
		m.Logger.Printf("[node] clock not set, connecting")
		m.state = Connecting
	case m.boot.FirstBoot:
		m.Logger.Printf("[node] first boot, connecting")
		m.state = Connecting
	default:
		m.state = Sleeping
	}
}

func (m *Machine) sleeping(ctx context.Context, now time.Time) error {
	m.enter()
	if m.Transport.IsConnected() {
		dctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
		err := m.Transport.Disconnect(dctx)
		cancel()
		if err != nil {
			m.Logger.Printf("[node] disconnect failed: %v", err)
			m.state = Error
			return nil
		}
	}
	m.flushAll(true)

	// Drain before checking the flag: a press after the check leaves a
	// wake pending and Sleep returns at once.
	if d, ok := m.Sleeper.(interface{ Drain() }); ok {
		d.Drain()
	}
	if m.flags.override.Swap(false) {
		m.Logger.Printf("[node] override pending, not sleeping")
		m.overrideWake()
		return nil
	}

	wait := WakeIn(now, m.timing.WakeBoundary)
	m.Logger.Printf("[node] sleeping for %s", wait)
	reason, err := m.Sleeper.Sleep(ctx, wait)
	if err != nil {
		return err
	}
	if reason == WakeOverride {
		m.Logger.Printf("[node] woken by override")
		m.flags.override.Store(false)
		m.overrideWake()
		return nil
	}
	m.state = Idle
	return nil
}

func (m *Machine) overrideWake() {
	m.Settings.SetLowPowerMode(false)
	m.resetStayAwake(m.Now())
	m.forced = true
	m.state = Reporting
}

func (m *Machine) idle(now time.Time) {
	m.enter()
	if m.Settings.LowPowerMode() && now.Sub(m.stayAwakeAt) > m.stayAwake {
		m.state = Sleeping
	}
	if m.Settings.UpdatesPending() && !m.Transport.IsConnected() &&
		!m.Settings.DisconnectedMode() && !m.Settings.LowBatteryMode() {
		m.state = Connecting
	}
	if !sameHour(now, m.Settings.LastReport(), m.Settings.Location()) {
		m.state = Reporting
	}
}

func (m *Machine) reporting(now time.Time) {
	m.enter()
	forced := m.forced
	m.forced = false
	loc := m.Settings.Location()
	hour := now.In(loc).Hour()

	m.Settings.SetLastReport(now)
	if m.Battery != nil {
		if soc, st, err := m.Battery.Charge(); err != nil {
			m.Logger.Printf("[node] battery read failed: %v", err)
		} else {
			m.Readings.SetBattery(soc, st)
		}
	}
	changed, err := m.Poller.Poll(now)
	if err != nil {
		m.Logger.Printf("[node] %v", err)
	}
	if hour == m.Settings.OpenHour() {
		m.dailyCleanup(now)
	}
	if changed {
		m.enqueueReading(now)
	}

	m.state = Connecting
	soc := m.Readings.StateOfCharge()
	switch {
	case m.Transport.IsConnected():
		m.resetStayAwake(now)
		if m.dataInFlight {
			m.state = ResponseWait
		} else {
			m.state = Idle
		}
	case m.Settings.DisconnectedMode():
		m.Logger.Printf("[node] disconnected mode, not connecting")
		m.state = Idle
	case forced:
		m.Logger.Printf("[node] override, connecting regardless of power state")
	case m.Settings.LowBatteryMode():
		m.Logger.Printf("[node] low battery, not connecting")
		m.state = Idle
	case m.Settings.LowPowerMode():
		switch {
		case soc > highChargePercent:
			m.Logger.Printf("[node] charge %.1f%%, connecting", soc)
		case soc <= lowChargePercent && hour%lowChargeHourStep != 0:
			m.Logger.Printf("[node] charge %.1f%%, connecting every %d hours", soc, lowChargeHourStep)
			m.state = Idle
		case soc <= highChargePercent && hour%midChargeHourStep != 0:
			m.Logger.Printf("[node] charge %.1f%%, connecting every %d hours", soc, midChargeHourStep)
			m.state = Idle
		}
	}
}

func (m *Machine) enqueueReading(now time.Time) {
	raw, err := model.NewReadingPayload(m.DeviceID, m.Readings.Snapshot(), now).Marshal()
	if err != nil {
		m.Logger.Printf("[node] encode reading: %v", err)
		return
	}
	if err := m.Outbox.Enqueue(model.ReadingsTopic(m.DeviceID), raw); err != nil {
		m.Logger.Printf("[node] queue reading: %v", err)
		return
	}
	m.dataInFlight = true
}

func (m *Machine) connecting(now time.Time) {
	if entered, prev := m.enter(); entered {
		m.connectFrom = prev
		m.connectStart = now
		m.Settings.SetLastConnectionDuration(0)
		if !m.Transport.IsConnected() {
			m.Transport.Connect()
		}
	}

	elapsed := now.Sub(m.connectStart)
	if m.Transport.IsConnected() {
		m.Settings.SetLastConnectionDuration(elapsed)
		m.Settings.SetLastConnection(now)
		m.Settings.SetResetCount(0)
		m.resetStayAwake(now)
		m.Logger.Printf("[node] connected in %s", elapsed.Round(time.Second))
		if m.connectFrom == Reporting && m.dataInFlight {
			m.state = ResponseWait
		} else {
			m.state = Idle
		}
		return
	}
	if elapsed > m.timing.ConnectTimeout {
		m.Logger.Printf("[node] failed to connect in %s", m.timing.ConnectTimeout)
		m.state = Error
	}
}

func (m *Machine) responseWait(now time.Time) {
	if entered, _ := m.enter(); entered {
		m.respDeadline = now.Add(m.timing.ResponseWait)
	}
	if !m.dataInFlight {
		m.resetStayAwake(now)
		m.state = Idle
		return
	}
	if now.After(m.respDeadline) {
		m.Logger.Printf("[node] response timeout after %s", m.timing.ResponseWait)
		m.state = Error
	}
}

// errorState reports whether the dwell elapsed.
func (m *Machine) errorState(now time.Time) bool {
	if entered, prev := m.enter(); entered {
		m.errorSince = now
		m.Settings.IncrementResetCount()
		m.Logger.Printf("[node] error in %s, restarting in %s (resets=%d)", prev, m.timing.ErrorDwell, m.Settings.ResetCount())
	}
	if now.Sub(m.errorSince) > m.timing.ErrorDwell {
		m.flushAll(true)
		return true
	}
	return false
}

func (m *Machine) housekeeping(ctx context.Context, now time.Time) {
	connected := m.Transport.IsConnected()
	if connected && m.Outbox.Len() > 0 {
		n, err := m.Outbox.Drain(m.Transport.Publish, drainBatch)
		if err != nil {
			m.Logger.Printf("[node] outbox drain stopped after %d: %v", n, err)
		}
	}

	if m.Sync != nil && m.Sync.Due(now, connected, m.Settings.UpdatesPending()) {
		rctx, cancel := context.WithTimeout(ctx, reconcileTimeout)
		res, err := m.Sync.Reconcile(rctx)
		cancel()
		switch {
		case errors.Is(err, remoteconfig.ErrOffline):
		case err != nil:
			m.Logger.Printf("[node] configuration sync failed (%s, applied=%d rejected=%d): %v", res.Source, res.Applied, res.Rejected, err)
		case res.Source != remoteconfig.SourceNone:
			m.Logger.Printf("[node] configuration synced from %s (applied=%d)", res.Source, res.Applied)
		}
		if res.Applied > 0 {
			if err := m.Poller.Initialize(); err != nil {
				m.Logger.Printf("[node] %v", err)
			}
		}
	}

	m.flushAll(false)
}

func (m *Machine) flushAll(force bool) {
	for name, f := range map[string]func(bool) error{
		"settings":   m.Settings.Flush,
		"thresholds": m.Thresholds.Flush,
		"readings":   m.Readings.Flush,
	} {
		if err := f(force); err != nil {
			m.Logger.Printf("[node] flush %s: %v", name, err)
		}
	}
}
