package vesc

import (
	"math"
	"testing"

	"github.com/notnil/multivesc/canbus"
	"gotest.tools/v3/assert"
)

func TestCommandFrames(t *testing.T) {
	cases := []struct {
		name    string
		id      ControllerID
		cmd     Command
		wantID  uint32
		payload []byte
	}{
		{"duty", 5, Duty(0.5), 0x005, []byte{0x00, 0x00, 0xC3, 0x50}},
		{"current", 1, Current(-1.5), 0x101, []byte{0xFF, 0xFF, 0xFA, 0x24}},
		{"current off delay", 1, CurrentOffDelay(2.5, 0.1), 0x101, []byte{0x00, 0x00, 0x09, 0xC4, 0x00, 0x64}},
		{"current brake", 2, CurrentBrake(3), 0x202, []byte{0x00, 0x00, 0x0B, 0xB8}},
		{"rpm", 10, RPM(5000), 0x30A, []byte{0x00, 0x00, 0x13, 0x88}},
		{"rpm truncated", 10, RPM(5000.9), 0x30A, []byte{0x00, 0x00, 0x13, 0x88}},
		{"pos", 3, Pos(90), 0x403, []byte{0x05, 0x5D, 0x4A, 0x80}},
		{"current rel", 4, CurrentRel(-0.25), 0xA04, []byte{0xFF, 0xFF, 0x9E, 0x58}},
		{"current rel off delay", 4, CurrentRelOffDelay(0.25, 1), 0xA04, []byte{0x00, 0x00, 0x61, 0xA8, 0x03, 0xE8}},
		{"current brake rel", 255, CurrentBrakeRel(1), 0xBFF, []byte{0x00, 0x01, 0x86, 0xA0}},
		{"handbrake", 7, Handbrake(10), 0xC07, []byte{0x00, 0x00, 0x27, 0x10}},
		{"handbrake rel", 0, HandbrakeRel(0.5), 0xD00, []byte{0x00, 0x00, 0xC3, 0x50}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := tc.cmd.Frame(tc.id)
			assert.NilError(t, err)
			assert.Assert(t, f.Extended)
			assert.Equal(t, f.ID, tc.wantID)
			assert.DeepEqual(t, f.Payload(), tc.payload)
		})
	}
}

func TestCommandFrame_NotCommand(t *testing.T) {
	_, err := Command{Type: PacketStatus, Value: 1}.Frame(1)
	assert.ErrorIs(t, err, ErrNotCommand)
}

func TestCommandFrame_Saturates(t *testing.T) {
	f, err := Duty(1e9).Frame(1)
	assert.NilError(t, err)
	assert.DeepEqual(t, f.Payload(), []byte{0x7F, 0xFF, 0xFF, 0xFF})
	f, err = RPM(math.Inf(-1)).Frame(1)
	assert.NilError(t, err)
	assert.DeepEqual(t, f.Payload(), []byte{0x80, 0x00, 0x00, 0x00})
}

func TestCommandRoundTrip(t *testing.T) {
	cases := []struct {
		cmd  Command
		step float64
	}{
		{Duty(0.123456), 1 / ScaleDuty},
		{Duty(-0.99999), 1 / ScaleDuty},
		{Current(12.3456), 1 / ScaleCurrent},
		{Current(-80.0004), 1 / ScaleCurrent},
		{Pos(359.1234567), 1 / ScalePos},
		{CurrentRel(0.333333), 1 / ScaleCurrentRel},
		{CurrentRel(-1), 1 / ScaleCurrentRel},
		{CurrentOffDelay(5.5, 0.25), 1 / ScaleCurrent},
	}
	for _, tc := range cases {
		f, err := tc.cmd.Frame(42)
		assert.NilError(t, err)
		id, msg := Decode(f)
		assert.Equal(t, id, ControllerID(42))
		echo, ok := msg.(Echo)
		assert.Assert(t, ok, "got %T for %s", msg, tc.cmd)
		assert.Equal(t, echo.Command.Type, tc.cmd.Type)
		assert.Assert(t, math.Abs(echo.Command.Value-tc.cmd.Value) <= tc.step,
			"%s decoded as %g", tc.cmd, echo.Command.Value)
		assert.Equal(t, echo.Command.Delayed, tc.cmd.Delayed)
		if tc.cmd.Delayed {
			assert.Assert(t, math.Abs(echo.Command.OffDelay-tc.cmd.OffDelay) <= 1/ScaleOffDelay)
		}
	}
}

func TestDecodeStatus(t *testing.T) {
	cases := []struct {
		name    string
		id      uint32
		payload []byte
		want    Message
	}{
		{
			name:    "status",
			id:      0x0905,
			payload: []byte{0x00, 0x00, 0x04, 0xD2, 0x00, 0x7D, 0x01, 0xF4},
			want:    Status{ERPM: 1234, Current: 12.5, Duty: 0.5},
		},
		{
			name:    "status negative",
			id:      0x0905,
			payload: []byte{0xFF, 0xFF, 0xFB, 0x2E, 0xFF, 0x83, 0xFE, 0x0C},
			want:    Status{ERPM: -1234, Current: -12.5, Duty: -0.5},
		},
		{
			name:    "status2",
			id:      0x0E05,
			payload: []byte{0x00, 0x00, 0x27, 0x10, 0x00, 0x00, 0x13, 0x88},
			want:    Status2{AmpHours: 1, AmpHoursCharged: 0.5},
		},
		{
			name:    "status3",
			id:      0x0F05,
			payload: []byte{0x00, 0x01, 0x86, 0xA0, 0x00, 0x00, 0x00, 0x00},
			want:    Status3{WattHours: 10, WattHoursCharged: 0},
		},
		{
			name:    "status4",
			id:      0x1005,
			payload: []byte{0x01, 0x90, 0x01, 0x2C, 0x00, 0x0A, 0x00, 0x32},
			want:    Status4{TempFET: 40, TempMotor: 30, CurrentIn: 1, PIDPos: 1},
		},
		{
			name:    "status5",
			id:      0x1B05,
			payload: []byte{0x00, 0x00, 0x02, 0x58, 0x01, 0xF8},
			want:    Status5{Tachometer: 100, VIn: 50.4},
		},
		{
			name:    "status6",
			id:      0x1C05,
			payload: []byte{0x03, 0xE8, 0x07, 0xD0, 0x00, 0x00, 0xFC, 0x18},
			want:    Status6{ADC1: 1, ADC2: 2, ADC3: 0, PPM: -1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := canbus.NewExtended(tc.id, tc.payload)
			assert.NilError(t, err)
			id, msg := Decode(f)
			assert.Equal(t, id, ControllerID(5))
			assert.Equal(t, msg, tc.want)
			assert.Assert(t, IsStatus(msg))

			back, err := StatusFrame(id, msg)
			assert.NilError(t, err)
			assert.Equal(t, back, f)
		})
	}
}

func TestDecodeIgnored(t *testing.T) {
	unknown, _ := canbus.NewExtended(FrameID(5, 17), make([]byte, 8))
	short, _ := canbus.NewExtended(FrameID(5, PacketStatus), []byte{0, 0, 0, 1})
	std := canbus.MustFrame(0x105, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	rtr := canbus.Frame{ID: FrameID(5, PacketStatus), Extended: true, RTR: true, Len: 8}
	shortCmd, _ := canbus.NewExtended(FrameID(5, PacketSetRPM), []byte{1, 2})

	for name, f := range map[string]canbus.Frame{
		"unknown type": unknown,
		"short status": short,
		"standard id":  std,
		"rtr":          rtr,
		"short set":    shortCmd,
	} {
		_, msg := Decode(f)
		_, ok := msg.(Unknown)
		assert.Assert(t, ok, "%s decoded as %T", name, msg)
		assert.Assert(t, !IsStatus(msg), name)
	}
}

func TestFrameID(t *testing.T) {
	assert.Equal(t, FrameID(0x7F, PacketStatus5), uint32(0x1B7F))
	id, pt := ParseFrameID(0x1B7F)
	assert.Equal(t, id, ControllerID(0x7F))
	assert.Equal(t, pt, PacketStatus5)
	assert.Equal(t, PacketStatus5.String(), "STATUS_5")
	assert.Equal(t, PacketType(99).String(), "PACKET_99")

	f, _ := Duty(0).Frame(0x7F)
	assert.Assert(t, ControllerFilter(0x7F)(f))
	assert.Assert(t, !ControllerFilter(0x7E)(f))
}
