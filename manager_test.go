package multivesc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/notnil/multivesc/bus"
	"github.com/notnil/multivesc/canbus"
	"github.com/notnil/multivesc/config"
	"github.com/notnil/multivesc/motor"
	"github.com/notnil/multivesc/vesc"
)

const testConfig = `
buses:
  can0: {type: can}
motors:
  left:
    bus: can0
    id: 1
    controlMode: DUTY
    duty: 0.1
  right:
    bus: can0
    id: 2
    rpm: 500
    startupDelay: 0.01
  spare:
    bus: can0
    id: 3
    enabled: false
`

func newTestManager(t *testing.T, opts ...Option) (*Manager, canbus.Bus) {
	t.Helper()
	lb := canbus.NewLoopbackBus()
	peer := lb.Open()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{
		WithLogger(logger),
		WithPeriod(5 * time.Millisecond),
		WithBusOptions(bus.WithDialer(lb.Dial)),
	}, opts...)
	m := New(opts...)
	t.Cleanup(func() {
		m.Stop()
		lb.Close()
	})
	return m, peer
}

func configure(t *testing.T, m *Manager, src string) error {
	t.Helper()
	c, err := config.Parse([]byte(src))
	assert.NilError(t, err)
	return m.Configure(context.Background(), c)
}

// waitForCommand reads frames from peer until want arrives for id.
func waitForCommand(t *testing.T, peer canbus.Bus, id vesc.ControllerID, want vesc.Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		f, err := peer.Receive(ctx)
		assert.NilError(t, err, "waiting for %s to %d", want, id)
		gotID, msg := vesc.Decode(f)
		if echo, ok := msg.(vesc.Echo); ok && gotID == id && echo.Command == want {
			return
		}
	}
}

func TestManager_Configure(t *testing.T) {
	m, peer := newTestManager(t)
	assert.NilError(t, configure(t, m, testConfig))
	assert.Assert(t, m.Running())

	b, ok := m.Bus("can0")
	assert.Assert(t, ok)
	assert.Assert(t, b.IsOpen())

	names := []string{}
	for _, mot := range m.Motors() {
		names = append(names, mot.Name())
	}
	assert.DeepEqual(t, names, []string{"left", "right", "spare"})
	assert.Equal(t, m.Motor(2).Name(), "right")
	assert.Equal(t, m.MotorByName("left").ID(), vesc.ControllerID(1))
	assert.Assert(t, m.Motor(9) == nil)
	assert.Assert(t, m.MotorByName("nobody") == nil)

	assert.Equal(t, m.MotorByName("left").DriveState().Value, 0.1)
	assert.Equal(t, m.MotorByName("right").DriveState().Mode, motor.ModeRPM)
	assert.Equal(t, m.MotorByName("spare").Mode(), motor.ModeNone)

	// The refresh loop keeps re-sending the set-points.
	waitForCommand(t, peer, 1, vesc.Duty(0.1))
	waitForCommand(t, peer, 2, vesc.RPM(500))
}

func TestManager_ConfigureReportsFailingEntries(t *testing.T) {
	m, _ := newTestManager(t)
	c := &config.Config{
		Buses: map[string]config.Bus{
			"can0":  {Type: "can"},
			"other": {Type: "usb"},
		},
		Motors: map[string]config.Motor{
			"a": config.DefaultMotor(),
			"b": config.DefaultMotor(),
			"c": config.DefaultMotor(),
		},
	}
	b := c.Motors["b"]
	b.ID = 1
	b.Name = "a"
	c.Motors["b"] = b
	cm := c.Motors["c"]
	cm.ID = 2
	cm.Bus = "missing"
	c.Motors["c"] = cm

	err := m.Configure(context.Background(), c)
	assert.ErrorIs(t, err, config.ErrUnknownBusType)
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.ErrorIs(t, err, ErrUnknownBus)
	var ce *config.ConfigError
	assert.Assert(t, errors.As(err, &ce))

	assert.Equal(t, len(m.Motors()), 1)
	assert.Equal(t, m.Motor(0).Name(), "a")
}

func TestManager_DuplicateID(t *testing.T) {
	m, _ := newTestManager(t)
	assert.NilError(t, configure(t, m, testConfig))
	_, err := m.AddMotor("can0", motor.DefaultConfig("other", 2))
	assert.ErrorIs(t, err, ErrDuplicateID)
	_, err = m.AddMotor("can0", motor.DefaultConfig("left", 20))
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.ErrorIs(t, m.AddBus(bus.NewCAN(bus.CANConfig{Name: "can0"})), ErrDuplicateBus)
}

func TestManager_StartStop(t *testing.T) {
	m, _ := newTestManager(t)
	assert.NilError(t, configure(t, m, testConfig))

	assert.NilError(t, m.Start())
	assert.Assert(t, m.Stop())
	assert.Assert(t, !m.Stop())
	assert.Assert(t, !m.Running())
	b, _ := m.Bus("can0")
	assert.Assert(t, !b.IsOpen())

	// Setters after teardown change local state only.
	left := m.MotorByName("left")
	assert.NilError(t, left.SetDuty(0.3))
	assert.Equal(t, left.DriveState().Value, 0.3)
	assert.Equal(t, len(m.Motors()), 3)

	assert.NilError(t, m.Start())
	assert.Assert(t, b.IsOpen())
}

func TestManager_OpenStopBus(t *testing.T) {
	m, _ := newTestManager(t)
	assert.NilError(t, m.AddBus(bus.NewCAN(bus.CANConfig{Name: "aux"}, m.busOpts...)))
	assert.NilError(t, m.OpenBus("aux"))
	assert.ErrorIs(t, m.OpenBus("aux"), bus.ErrAlreadyOpen)
	assert.Assert(t, m.StopBus("aux"))
	assert.Assert(t, !m.StopBus("aux"))
	assert.Assert(t, !m.StopBus("nope"))
	assert.ErrorIs(t, m.OpenBus("nope"), ErrUnknownBus)
}

func TestManager_OpenCAN(t *testing.T) {
	m, peer := newTestManager(t)
	assert.NilError(t, m.OpenCAN("vcan0"))
	assert.Assert(t, m.Running())

	mot, err := m.AddMotor("can", motor.DefaultConfig("m", 4))
	assert.NilError(t, err)
	assert.NilError(t, mot.SetCurrentBrake(2))
	waitForCommand(t, peer, 4, vesc.CurrentBrake(2))
}

func TestManager_Telemetry(t *testing.T) {
	m, peer := newTestManager(t)
	assert.NilError(t, configure(t, m, testConfig))

	f, err := vesc.StatusFrame(2, vesc.Status{ERPM: 700})
	assert.NilError(t, err)
	assert.NilError(t, peer.Send(context.Background(), f))
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if m.Motor(2).ERPM() != 700 {
			return poll.Continue("erpm not updated")
		}
		return poll.Success()
	}, poll.WithTimeout(2*time.Second))
}

func TestManager_StartupDelayCancelled(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := config.Parse([]byte(`
buses:
  can0: {type: can}
motors:
  slow: {bus: can0, id: 1, rpm: 100, startupDelay: 60}
`))
	assert.NilError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = m.Configure(ctx, c)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, m.MotorByName("slow").Mode(), motor.ModeNone)
}
