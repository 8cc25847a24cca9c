// Package bus connects motors to a physical link. A Bus owns the device,
// runs the receive loop where the link has one, and keeps the 256-slot table
// that routes inbound telemetry to motors by controller id.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/notnil/multivesc/canbus"
	"github.com/notnil/multivesc/motor"
	"github.com/notnil/multivesc/vesc"
)

var (
	ErrAlreadyOpen = errors.New("bus: already open")
	// ErrStopped is returned by Transmit when the bus is not open.
	ErrStopped   = errors.New("bus: stopped")
	ErrSlotTaken = errors.New("bus: controller id already registered")
)

// Kind selects the Bus implementation.
type Kind int

const (
	KindCAN Kind = iota
	KindSerial
)

func (k Kind) String() string {
	switch k {
	case KindCAN:
		return "can"
	case KindSerial:
		return "serial"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves "can" or "serial".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "can", "":
		return KindCAN, nil
	case "serial":
		return KindSerial, nil
	}
	return 0, fmt.Errorf("bus: unknown bus type %q", s)
}

// Bus is a link to one or more controllers.
type Bus interface {
	Name() string
	Kind() Kind

	// Open acquires the device. It fails with ErrAlreadyOpen when called
	// twice without Stop.
	Open() error
	// Stop releases the device and reports whether it was open. It is safe
	// to call more than once.
	Stop() bool
	// IsOpen reports whether the device is held.
	IsOpen() bool

	// Transmit sends cmd to controller id without waiting for an answer.
	Transmit(id vesc.ControllerID, cmd vesc.Command) error

	// Register claims the slot of m.ID() and binds m to this bus.
	Register(m *motor.Motor) error
	// Motor returns the motor in slot id, creating a placeholder if empty.
	Motor(id vesc.ControllerID) *motor.Motor
	// Motors lists the configured motors by controller id.
	Motors() []*motor.Motor
}

// Dialer opens a CAN device by name.
type Dialer func(device string) (canbus.Bus, error)

const (
	// receiveWait bounds each read so Stop is noticed promptly.
	receiveWait = 500 * time.Millisecond
	sendTimeout = 20 * time.Millisecond
)

type options struct {
	logger      *slog.Logger
	dial        Dialer
	openPort    PortOpener
	sendTimeout time.Duration
}

// Option configures a Bus.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDialer replaces SocketCAN, typically with a canbus.LoopbackBus in
// tests.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dial = d }
}

// WithPortOpener replaces the serial port driver.
func WithPortOpener(p PortOpener) Option {
	return func(o *options) { o.openPort = p }
}

// WithSendTimeout bounds how long Transmit may wait on a full device queue.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) { o.sendTimeout = d }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:      slog.Default(),
		dial:        canbus.DialSocketCAN,
		openPort:    openSerialPort,
		sendTimeout: sendTimeout,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
