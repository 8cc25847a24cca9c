package bus

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/notnil/multivesc/motor"
	"github.com/notnil/multivesc/vesc"
)

// PortOpener opens a serial device at the given baud rate.
type PortOpener func(device string, baud int) (io.ReadWriteCloser, error)

func openSerialPort(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return port, nil
}

// SerialConfig describes a controller attached over UART.
type SerialConfig struct {
	Name   string
	Device string
	Baud   int
	// LocalID is the controller on the other end of the cable. Commands to
	// any other id are forwarded by it over CAN.
	LocalID vesc.ControllerID
	Verbose bool
}

// Serial is a transmit-only Bus over a VESC UART port. Telemetry is not
// polled, so motors on it only report what they were told.
type Serial struct {
	cfg SerialConfig
	o   options
	table

	mu   sync.Mutex
	port io.ReadWriteCloser

	// wmu keeps packets from interleaving on the byte stream.
	wmu sync.Mutex
}

var _ Bus = (*Serial)(nil)

// NewSerial creates a closed serial bus.
func NewSerial(cfg SerialConfig, opts ...Option) *Serial {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Device
	}
	s := &Serial{cfg: cfg, o: buildOptions(opts)}
	s.table.opts = []motor.Option{motor.WithLogger(s.o.logger)}
	return s
}

func (s *Serial) Name() string   { return s.cfg.Name }
func (s *Serial) Kind() Kind     { return KindSerial }
func (s *Serial) Device() string { return s.cfg.Device }

func (s *Serial) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, s.cfg.Name)
	}
	port, err := s.o.openPort(s.cfg.Device, s.cfg.Baud)
	if err != nil {
		s.o.logger.Error("bus open failed", "bus", s.cfg.Name, "device", s.cfg.Device, "error", err)
		return fmt.Errorf("bus %s: %w", s.cfg.Name, err)
	}
	s.port = port
	s.o.logger.Info("bus open", "bus", s.cfg.Name, "device", s.cfg.Device, "baud", s.cfg.Baud)
	return nil
}

func (s *Serial) Stop() bool {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()
	if port == nil {
		return false
	}
	s.wmu.Lock()
	port.Close()
	s.wmu.Unlock()
	s.o.logger.Info("bus stopped", "bus", s.cfg.Name)
	return true
}

// Transmit writes one UART packet. Relative current commands have no UART
// form and fail with vesc.ErrUnsupported.
func (s *Serial) Transmit(id vesc.ControllerID, cmd vesc.Command) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrStopped
	}
	pkt, err := vesc.UARTPacket(id, cmd, id != s.cfg.LocalID)
	if err != nil {
		return err
	}
	if s.cfg.Verbose {
		s.o.logger.Debug("serial send", "bus", s.cfg.Name, "id", id, "command", cmd, "bytes", hex.EncodeToString(pkt))
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	current := s.port == port
	s.mu.Unlock()
	if !current {
		return ErrStopped
	}
	if _, err := port.Write(pkt); err != nil {
		return fmt.Errorf("bus %s: write: %w", s.cfg.Name, err)
	}
	return nil
}

func (s *Serial) Register(m *motor.Motor) error           { return s.table.register(m, s) }
func (s *Serial) Motor(id vesc.ControllerID) *motor.Motor { return s.table.motor(id) }
func (s *Serial) Motors() []*motor.Motor                  { return s.table.motors() }
