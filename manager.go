package multivesc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notnil/multivesc/bus"
	"github.com/notnil/multivesc/config"
	"github.com/notnil/multivesc/motor"
	"github.com/notnil/multivesc/vesc"
)

// DefaultPeriod is the refresh interval. It has to stay well below the
// firmware's command timeout.
const DefaultPeriod = 50 * time.Millisecond

var (
	ErrDuplicateName = config.ErrDuplicateName
	ErrDuplicateID   = config.ErrDuplicateID
	ErrUnknownBus    = config.ErrUnknownBus
	ErrDuplicateBus  = errors.New("duplicate bus name")
)

// Manager owns buses and motors and keeps motors fed with commands.
type Manager struct {
	logger    *slog.Logger
	period    time.Duration
	busOpts   []bus.Option
	motorOpts []motor.Option

	mu       sync.Mutex
	buses    map[string]bus.Bus
	busOrder []string
	motors   []*motor.Motor
	byID     [256]*motor.Motor

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPeriod overrides DefaultPeriod.
func WithPeriod(d time.Duration) Option {
	return func(m *Manager) { m.period = d }
}

// WithBusOptions passes options to every bus the Manager creates, for
// example bus.WithDialer to run on a loopback.
func WithBusOptions(opts ...bus.Option) Option {
	return func(m *Manager) { m.busOpts = append(m.busOpts, opts...) }
}

// WithMotorOptions passes options to every motor the Manager creates.
func WithMotorOptions(opts ...motor.Option) Option {
	return func(m *Manager) { m.motorOpts = append(m.motorOpts, opts...) }
}

func New(opts ...Option) *Manager {
	m := &Manager{
		logger: slog.Default(),
		period: DefaultPeriod,
		buses:  make(map[string]bus.Bus),
	}
	for _, o := range opts {
		o(m)
	}
	m.busOpts = append([]bus.Option{bus.WithLogger(m.logger)}, m.busOpts...)
	m.motorOpts = append([]motor.Option{motor.WithLogger(m.logger)}, m.motorOpts...)
	return m
}

// Configure creates the buses in c, starts the Manager, then creates the
// motors. A failing entry is skipped and reported; the rest are still
// applied. Enabled motors with a set-point receive it after their startup
// delay, which is why Configure takes a context.
func (m *Manager) Configure(ctx context.Context, c *config.Config) error {
	var errs []error
	for _, name := range c.BusNames() {
		spec, err := c.Buses[name].Build(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.AddBus(m.newBus(spec)); err != nil {
			errs = append(errs, config.BusError(name, err))
		}
	}

	if err := m.Start(); err != nil {
		errs = append(errs, err)
	}

	for _, key := range c.MotorNames() {
		mc := c.Motors[key]
		cfg, err := mc.MotorConfig(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		mot, err := m.AddMotor(mc.Bus, cfg)
		if err != nil {
			errs = append(errs, config.MotorError(cfg.Name, err))
			continue
		}
		if !cfg.Enabled {
			continue
		}
		if err := sleep(ctx, time.Duration(mc.StartupDelay*float64(time.Second))); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if v, ok := mc.SetPoint(cfg.Mode); ok {
			if err := mot.Set(cfg.Mode, v); err != nil {
				errs = append(errs, config.MotorError(cfg.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) newBus(spec config.BusSpec) bus.Bus {
	if spec.Kind == bus.KindSerial {
		return bus.NewSerial(spec.Serial, m.busOpts...)
	}
	return bus.NewCAN(spec.CAN, m.busOpts...)
}

// AddBus adds b under its name. It is not opened until Start or OpenBus.
func (m *Manager) AddBus(b bus.Bus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buses[b.Name()]; ok {
		return fmt.Errorf("%w %q", ErrDuplicateBus, b.Name())
	}
	m.buses[b.Name()] = b
	m.busOrder = append(m.busOrder, b.Name())
	return nil
}

// OpenCAN adds a CAN bus named "can" on device, opens it and starts the
// Manager.
func (m *Manager) OpenCAN(device string) error {
	b := bus.NewCAN(bus.CANConfig{Name: "can", Device: device}, m.busOpts...)
	if err := b.Open(); err != nil {
		return err
	}
	if err := m.AddBus(b); err != nil {
		b.Stop()
		return err
	}
	return m.Start()
}

// Bus returns the bus called name.
func (m *Manager) Bus(name string) (bus.Bus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buses[name]
	return b, ok
}

// Buses returns the buses in the order they were added.
func (m *Manager) Buses() []bus.Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bus.Bus, len(m.busOrder))
	for i, name := range m.busOrder {
		out[i] = m.buses[name]
	}
	return out
}

// OpenBus opens the bus called name.
func (m *Manager) OpenBus(name string) error {
	b, ok := m.Bus(name)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownBus, name)
	}
	return b.Open()
}

// StopBus stops the bus called name and reports whether it was open.
func (m *Manager) StopBus(name string) bool {
	b, ok := m.Bus(name)
	if !ok {
		return false
	}
	return b.Stop()
}

// AddMotor creates a motor on the named bus. Names and controller ids are
// unique across the Manager.
func (m *Manager) AddMotor(busName string, cfg motor.Config) (*motor.Motor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buses[busName]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBus, busName)
	}
	for _, other := range m.motors {
		if other.Name() == cfg.Name {
			return nil, fmt.Errorf("%w %q", ErrDuplicateName, cfg.Name)
		}
	}
	if other := m.byID[cfg.ID]; other != nil {
		return nil, fmt.Errorf("%w %d (%s)", ErrDuplicateID, cfg.ID, other.Name())
	}
	mot, err := motor.New(cfg, m.motorOpts...)
	if err != nil {
		return nil, err
	}
	if err := b.Register(mot); err != nil {
		return nil, err
	}
	m.motors = append(m.motors, mot)
	m.byID[cfg.ID] = mot
	m.logger.Info("motor registered", "motor", cfg.Name, "id", cfg.ID, "bus", busName, "mode", cfg.Mode)
	return mot, nil
}

// Motor returns the motor with controller id, or nil.
func (m *Manager) Motor(id vesc.ControllerID) *motor.Motor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

// MotorByName returns the first motor called name, or nil.
func (m *Manager) MotorByName(name string) *motor.Motor {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mot := range m.motors {
		if mot.Name() == name {
			return mot
		}
	}
	return nil
}

// Motors returns the motors in registration order. They stay usable after
// Stop.
func (m *Manager) Motors() []*motor.Motor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*motor.Motor(nil), m.motors...)
}

// Start opens every bus that is not open yet and starts the refresh loop.
// Calling it again while running does nothing. Buses that fail to open are
// reported but do not prevent the loop from starting.
func (m *Manager) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stop != nil {
		return nil
	}
	var errs []error
	for _, b := range m.Buses() {
		if b.IsOpen() {
			continue
		}
		if err := b.Open(); err != nil {
			errs = append(errs, err)
		}
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.refresh(m.stop, m.done)
	m.logger.Info("manager started", "period", m.period)
	return errors.Join(errs...)
}

// Running reports whether the refresh loop is active.
func (m *Manager) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.stop != nil
}

// Stop stops every bus and the refresh loop. It reports whether the loop
// was running and is safe to call more than once. Motors keep accepting
// setters afterwards but nothing is sent.
func (m *Manager) Stop() bool {
	m.runMu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.runMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	for _, b := range m.Buses() {
		b.Stop()
	}
	if stop == nil {
		return false
	}
	m.logger.Info("manager stopped")
	return true
}

func (m *Manager) refresh(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(m.period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			m.update()
		}
	}
}

// update refreshes motors in registration order under the table lock.
func (m *Manager) update() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mot := range m.motors {
		mot.Update()
	}
}
