package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/notnil/multivesc/canbus"
	"github.com/notnil/multivesc/motor"
	"github.com/notnil/multivesc/vesc"
)

// CANConfig describes a SocketCAN bus.
type CANConfig struct {
	Name   string
	Device string
	// Bitrate, when non-zero, is applied to the interface before opening.
	Bitrate uint32
	// Verbose logs every frame at debug level.
	Verbose bool
	// Trace narrows verbose logging to these controllers.
	Trace []vesc.ControllerID
}

// CAN is a Bus over a raw CAN socket with a background receive loop.
type CAN struct {
	cfg CANConfig
	o   options
	table

	mu   sync.Mutex
	sess *session
}

// session is one Open..Stop cycle.
type session struct {
	conn   canbus.Bus
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Bus = (*CAN)(nil)

// NewCAN creates a closed CAN bus.
func NewCAN(cfg CANConfig, opts ...Option) *CAN {
	if cfg.Device == "" {
		cfg.Device = "can0"
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Device
	}
	c := &CAN{cfg: cfg, o: buildOptions(opts)}
	c.table.opts = []motor.Option{motor.WithLogger(c.o.logger)}
	return c
}

func (c *CAN) Name() string   { return c.cfg.Name }
func (c *CAN) Kind() Kind     { return KindCAN }
func (c *CAN) Device() string { return c.cfg.Device }

func (c *CAN) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Open binds the device and starts the receive loop.
func (c *CAN) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, c.cfg.Name)
	}
	if c.cfg.Bitrate > 0 {
		if err := canbus.SetBitrate(c.cfg.Device, c.cfg.Bitrate); err != nil {
			return fmt.Errorf("bus %s: %w", c.cfg.Name, err)
		}
	}
	conn, err := c.o.dial(c.cfg.Device)
	if err != nil {
		c.o.logger.Error("bus open failed", "bus", c.cfg.Name, "device", c.cfg.Device, "error", err)
		return fmt.Errorf("bus %s: open %s: %w", c.cfg.Name, c.cfg.Device, err)
	}
	if c.cfg.Verbose {
		conn = canbus.NewLoggedBus(conn, c.o.logger.With("bus", c.cfg.Name), slog.LevelDebug, canbus.LogAll, c.traceFilter())
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{conn: conn, cancel: cancel, done: make(chan struct{})}
	c.sess = s
	go c.receive(ctx, s)
	c.o.logger.Info("bus open", "bus", c.cfg.Name, "device", c.cfg.Device)
	return nil
}

func (c *CAN) traceFilter() canbus.FrameFilter {
	if len(c.cfg.Trace) == 0 {
		return nil
	}
	fs := make([]canbus.FrameFilter, len(c.cfg.Trace))
	for i, id := range c.cfg.Trace {
		fs[i] = vesc.ControllerFilter(id)
	}
	return canbus.Or(fs...)
}

// Stop ends the receive loop, waits for it and closes the device.
func (c *CAN) Stop() bool {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s == nil {
		return false
	}
	s.cancel()
	<-s.done
	s.conn.Close()
	c.o.logger.Info("bus stopped", "bus", c.cfg.Name)
	return true
}

func (c *CAN) receive(ctx context.Context, s *session) {
	defer close(s.done)
	for {
		rctx, cancel := context.WithTimeout(ctx, receiveWait)
		f, err := s.conn.Receive(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.o.logger.Error("bus receive failed", "bus", c.cfg.Name, "error", err)
			c.abandon(s)
			return
		}
		id, msg := vesc.Decode(f)
		c.table.deliver(id, msg)
	}
}

// abandon drops a session whose device failed. Stop may have raced us to
// it, in which case Stop closes the device.
func (c *CAN) abandon(s *session) {
	c.mu.Lock()
	mine := c.sess == s
	if mine {
		c.sess = nil
	}
	c.mu.Unlock()
	if mine {
		s.cancel()
		s.conn.Close()
	}
}

// Transmit encodes cmd and sends it. It returns ErrStopped when the bus is
// not open.
func (c *CAN) Transmit(id vesc.ControllerID, cmd vesc.Command) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return ErrStopped
	}
	f, err := cmd.Frame(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.o.sendTimeout)
	defer cancel()
	if err := s.conn.Send(ctx, f); err != nil {
		if errors.Is(err, canbus.ErrClosed) {
			return ErrStopped
		}
		return fmt.Errorf("bus %s: send %s: %w", c.cfg.Name, cmd, err)
	}
	return nil
}

func (c *CAN) Register(m *motor.Motor) error           { return c.table.register(m, c) }
func (c *CAN) Motor(id vesc.ControllerID) *motor.Motor { return c.table.motor(id) }
func (c *CAN) Motors() []*motor.Motor                  { return c.table.motors() }
