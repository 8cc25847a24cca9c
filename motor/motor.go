package motor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notnil/multivesc/vesc"
)

// Transport delivers commands to the controller. Motors hold it without
// owning it: closing the transport is its owner's business, and a stopped
// transport simply drops commands.
type Transport interface {
	Transmit(id vesc.ControllerID, cmd vesc.Command) error
}

var (
	ErrModeMismatch = errors.New("motor: command does not match primary drive mode")
	ErrDisabled     = errors.New("motor: disabled")
	ErrUnbound      = errors.New("motor: no transport")
)

// Config is the static description of one motor.
type Config struct {
	Name    string
	ID      vesc.ControllerID
	Enabled bool
	// Mode is the primary drive mode: DUTY, CURRENT, RPM or POS.
	Mode DriveMode
	// MinRPM is the lowest mechanical RPM sensorless commutation holds.
	MinRPM float64
	// MaxRPM caps |rpm| demands; zero or less means no ceiling.
	MaxRPM float64
	// MaxRPMAcceleration limits the change of the RPM demand in rpm/s;
	// negative disables the ramp.
	MaxRPMAcceleration float64
	PolePairs          float64
	// Reverse flips the sign of steady-state demands.
	Reverse bool
}

// DefaultConfig returns an enabled RPM motor with one pole pair and no
// limits.
func DefaultConfig(name string, id vesc.ControllerID) Config {
	return Config{
		Name:               name,
		ID:                 id,
		Enabled:            true,
		Mode:               ModeRPM,
		MaxRPMAcceleration: -1,
		PolePairs:          1,
	}
}

// DriveState is the command a motor re-sends on every refresh.
type DriveState struct {
	Mode     DriveMode
	Value    float64
	OffDelay float64
	Delayed  bool
	Updated  time.Time
}

// Motor is one controller on a bus. It is safe for concurrent use: drive
// commands serialise on an internal mutex while telemetry and limits are
// independent atomics.
type Motor struct {
	id      vesc.ControllerID
	name    string
	primary DriveMode
	logger  *slog.Logger
	now     func() time.Time

	enabled   atomic.Bool
	reverse   atomic.Bool
	minRPM    atomicFloat
	maxRPM    atomicFloat
	maxAccel  atomicFloat
	polePairs atomicFloat

	mu        sync.Mutex
	drive     DriveState
	transport Transport
	// ramp state, in mechanical RPM
	lastDemand   float64
	lastDemandAt time.Time

	telem    telemetry
	callback atomic.Pointer[TelemetryFunc]
}

// Option customises a Motor.
type Option func(*Motor)

// WithLogger sets the logger used for rejected commands and saturation
// warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Motor) { m.logger = l }
}

// WithClock replaces time.Now for the RPM ramp.
func WithClock(now func() time.Time) Option {
	return func(m *Motor) { m.now = now }
}

// New creates a configured motor. The primary drive mode is fixed here for
// the lifetime of the motor. The RPM ramp starts from zero at creation time.
func New(cfg Config, opts ...Option) (*Motor, error) {
	if !cfg.Mode.IsPrimary() {
		return nil, fmt.Errorf("motor: %q: invalid control mode %s", cfg.Name, cfg.Mode)
	}
	m := newMotor(cfg.ID, cfg.Name, cfg.Mode, opts)
	m.enabled.Store(cfg.Enabled)
	m.reverse.Store(cfg.Reverse)
	m.minRPM.Store(cfg.MinRPM)
	m.maxRPM.Store(cfg.MaxRPM)
	m.maxAccel.Store(cfg.MaxRPMAcceleration)
	if cfg.PolePairs > 0 {
		m.polePairs.Store(cfg.PolePairs)
	}
	return m, nil
}

// NewPlaceholder creates an unconfigured, disabled motor that only collects
// telemetry for a controller nobody has configured yet.
func NewPlaceholder(id vesc.ControllerID, opts ...Option) *Motor {
	return newMotor(id, "", ModeNone, opts)
}

func newMotor(id vesc.ControllerID, name string, primary DriveMode, opts []Option) *Motor {
	m := &Motor{
		id:      id,
		name:    name,
		primary: primary,
		logger:  slog.Default(),
		now:     time.Now,
	}
	m.polePairs.Store(1)
	m.maxAccel.Store(-1)
	for _, o := range opts {
		o(m)
	}
	m.lastDemandAt = m.now()
	return m
}

func (m *Motor) ID() vesc.ControllerID { return m.id }
func (m *Motor) Name() string          { return m.name }

// PrimaryMode returns the steady-state mode fixed at configuration.
func (m *Motor) PrimaryMode() DriveMode { return m.primary }

// Configured reports whether the motor was created from a configuration
// rather than as a telemetry placeholder.
func (m *Motor) Configured() bool { return m.primary != ModeNone }

func (m *Motor) Enabled() bool               { return m.enabled.Load() }
func (m *Motor) SetEnabled(on bool)          { m.enabled.Store(on) }
func (m *Motor) Reverse() bool               { return m.reverse.Load() }
func (m *Motor) SetReverse(on bool)          { m.reverse.Store(on) }
func (m *Motor) MinRPM() float64             { return m.minRPM.Load() }
func (m *Motor) SetMinRPM(rpm float64)       { m.minRPM.Store(rpm) }
func (m *Motor) MaxRPM() float64             { return m.maxRPM.Load() }
func (m *Motor) SetMaxRPM(rpm float64)       { m.maxRPM.Store(rpm) }
func (m *Motor) PolePairs() float64          { return m.polePairs.Load() }
func (m *Motor) MaxRPMAcceleration() float64 { return m.maxAccel.Load() }

// SetMaxRPMAcceleration sets the ramp limit in rpm/s; negative disables it.
func (m *Motor) SetMaxRPMAcceleration(rpmPerSec float64) { m.maxAccel.Store(rpmPerSec) }

// SetPolePairs sets the ERPM to mechanical RPM ratio. Non-positive values
// are ignored.
func (m *Motor) SetPolePairs(pp float64) {
	if pp > 0 {
		m.polePairs.Store(pp)
	}
}

func (m *Motor) direction() float64 {
	if m.reverse.Load() {
		return -1
	}
	return 1
}

// Bind attaches the transport commands are sent through.
func (m *Motor) Bind(t Transport) {
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()
}

// Bound reports whether the motor has a transport.
func (m *Motor) Bound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport != nil
}

// Mode returns the active drive mode.
func (m *Motor) Mode() DriveMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drive.Mode
}

// DriveState returns a copy of the command being refreshed.
func (m *Motor) DriveState() DriveState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drive
}

// SetDuty sets the duty cycle, clamped to [-1, 1].
func (m *Motor) SetDuty(duty float64) error {
	return m.command(ModeDuty, clamp(duty, -1, 1), 0, false)
}

// SetCurrent sets the motor current in amps.
func (m *Motor) SetCurrent(amps float64) error {
	return m.command(ModeCurrent, amps, 0, false)
}

// SetCurrentOffDelay sets the motor current and keeps the current
// controller running for offDelay seconds after the demand drops below the
// firmware minimum.
func (m *Motor) SetCurrentOffDelay(amps, offDelay float64) error {
	return m.command(ModeCurrent, amps, offDelay, true)
}

// SetRPM sets the mechanical RPM demand. It passes through the ceiling,
// sensorless floor and ramp before being scaled to ERPM.
func (m *Motor) SetRPM(rpm float64) error {
	return m.command(ModeRPM, rpm, 0, false)
}

// SetPos sets the target position.
func (m *Motor) SetPos(pos float64) error {
	return m.command(ModePosition, pos, 0, false)
}

// SetCurrentRel sets the current as a fraction (-1..1) of the configured
// maximum.
func (m *Motor) SetCurrentRel(rel float64) error {
	return m.command(ModeCurrentRel, rel, 0, false)
}

// SetCurrentRelOffDelay is SetCurrentRel with an off delay in seconds.
func (m *Motor) SetCurrentRelOffDelay(rel, offDelay float64) error {
	return m.command(ModeCurrentRel, rel, offDelay, true)
}

// SetCurrentBrake sets the braking current in amps.
func (m *Motor) SetCurrentBrake(amps float64) error {
	return m.command(ModeCurrentBrake, amps, 0, false)
}

// SetCurrentBrakeRel sets the braking current as a fraction of the maximum.
func (m *Motor) SetCurrentBrakeRel(rel float64) error {
	return m.command(ModeCurrentBrakeRel, rel, 0, false)
}

// SetHandbrake holds the rotor with the given current in amps.
func (m *Motor) SetHandbrake(amps float64) error {
	return m.command(ModeHandbrake, amps, 0, false)
}

// SetHandbrakeRel holds the rotor with a fraction of the maximum current.
func (m *Motor) SetHandbrakeRel(rel float64) error {
	return m.command(ModeHandbrakeRel, rel, 0, false)
}

// Set dispatches to the setter for mode.
func (m *Motor) Set(mode DriveMode, value float64) error {
	switch mode {
	case ModeDuty:
		return m.SetDuty(value)
	case ModeNone:
		return fmt.Errorf("motor: cannot command mode %s", mode)
	}
	return m.command(mode, value, 0, false)
}

func (m *Motor) command(mode DriveMode, value, offDelay float64, delayed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.enabled.Load():
		return m.reject(mode, ErrDisabled)
	case mode.IsPrimary() && mode != m.primary:
		return m.reject(mode, ErrModeMismatch)
	case m.transport == nil:
		return m.reject(mode, ErrUnbound)
	}
	now := m.now()
	m.drive = DriveState{Mode: mode, Value: value, OffDelay: offDelay, Delayed: delayed, Updated: now}
	m.transmitLocked(now, true)
	return nil
}

func (m *Motor) reject(mode DriveMode, err error) error {
	m.logger.Warn("command rejected",
		"motor", m.name,
		"id", m.id,
		"mode", mode,
		"primary", m.primary,
		"error", err,
	)
	return err
}

// Update re-sends the current drive command. The firmware stops the motor
// when commands stop arriving, so this must run periodically. Disabled or
// unbound motors do nothing.
func (m *Motor) Update() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled.Load() || m.transport == nil {
		return
	}
	m.transmitLocked(m.now(), false)
}

func (m *Motor) transmitLocked(now time.Time, fresh bool) {
	d := m.drive
	sign := m.direction()
	var cmd vesc.Command
	var demand float64
	switch d.Mode {
	case ModeNone:
		return
	case ModeDuty:
		cmd = vesc.Duty(d.Value * sign)
	case ModeCurrent:
		cmd = vesc.Current(d.Value * sign)
	case ModeRPM:
		var erpm float64
		erpm, demand = m.rpmDemandLocked(d.Value, now, fresh)
		cmd = vesc.RPM(erpm)
	case ModePosition:
		cmd = vesc.Pos(d.Value * sign)
	case ModeCurrentRel:
		cmd = vesc.CurrentRel(d.Value * sign)
	case ModeCurrentBrake:
		cmd = vesc.CurrentBrake(d.Value)
	case ModeCurrentBrakeRel:
		cmd = vesc.CurrentBrakeRel(d.Value)
	case ModeHandbrake:
		cmd = vesc.Handbrake(d.Value)
	case ModeHandbrakeRel:
		cmd = vesc.HandbrakeRel(d.Value)
	}
	if d.Delayed {
		cmd.OffDelay, cmd.Delayed = d.OffDelay, true
	}
	err := m.transport.Transmit(m.id, cmd)
	if err != nil {
		m.logger.Debug("command not sent", "motor", m.name, "id", m.id, "command", cmd, "error", err)
	}
	m.commitDemandLocked(demand, now, err == nil && d.Mode == ModeRPM)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
