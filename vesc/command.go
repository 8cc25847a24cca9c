package vesc

import (
	"errors"
	"fmt"
	"math"

	"github.com/notnil/multivesc/canbus"
)

// Encode scale factors: raw = round(value * scale).
const (
	ScaleDuty       = 1e5
	ScaleCurrent    = 1e3
	ScaleRPM        = 1
	ScalePos        = 1e6
	ScaleCurrentRel = 1e5
	ScaleOffDelay   = 1e3
)

// ErrNotCommand is returned when encoding a packet type that is not a
// set-command.
var ErrNotCommand = errors.New("vesc: packet type is not a command")

// Command is one drive demand addressed to a controller. OffDelay is only
// put on the wire when Delayed is set, and only for current and relative
// current, which grows the payload from 4 to 6 bytes.
type Command struct {
	Type     PacketType
	Value    float64
	OffDelay float64
	Delayed  bool
}

func (c Command) String() string {
	if c.Delayed {
		return fmt.Sprintf("%s(%g, off %gs)", c.Type, c.Value, c.OffDelay)
	}
	return fmt.Sprintf("%s(%g)", c.Type, c.Value)
}

// Payload encodes the command body.
func (c Command) Payload() ([]byte, error) {
	b := make([]byte, 0, 6)
	switch c.Type {
	case PacketSetDuty:
		b = appendScaled32(b, c.Value, ScaleDuty)
	case PacketSetCurrent, PacketSetCurrentBrake, PacketSetCurrentHandbrake:
		b = appendScaled32(b, c.Value, ScaleCurrent)
	case PacketSetRPM:
		// ERPM is sent as a plain integer and truncated, not rounded.
		b = appendInt32(b, sat32(math.Trunc(c.Value)))
	case PacketSetPos:
		b = appendScaled32(b, c.Value, ScalePos)
	case PacketSetCurrentRel, PacketSetCurrentBrakeRel, PacketSetCurrentHandbrakeRel:
		b = appendScaled32(b, c.Value, ScaleCurrentRel)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotCommand, c.Type)
	}
	if c.Delayed && (c.Type == PacketSetCurrent || c.Type == PacketSetCurrentRel) {
		b = appendScaled16(b, c.OffDelay, ScaleOffDelay)
	}
	return b, nil
}

// Frame encodes the command as the extended frame sent to controller id.
func (c Command) Frame(id ControllerID) (canbus.Frame, error) {
	payload, err := c.Payload()
	if err != nil {
		return canbus.Frame{}, err
	}
	return canbus.NewExtended(FrameID(id, c.Type), payload)
}

// Constructors for each command the firmware accepts over CAN.

func Duty(duty float64) Command { return Command{Type: PacketSetDuty, Value: duty} }

func Current(amps float64) Command { return Command{Type: PacketSetCurrent, Value: amps} }

func CurrentOffDelay(amps, offDelay float64) Command {
	return Command{Type: PacketSetCurrent, Value: amps, OffDelay: offDelay, Delayed: true}
}

func CurrentBrake(amps float64) Command { return Command{Type: PacketSetCurrentBrake, Value: amps} }

// RPM takes electrical RPM.
func RPM(erpm float64) Command { return Command{Type: PacketSetRPM, Value: erpm} }

// Pos takes a position in degrees as understood by the firmware's PID.
func Pos(pos float64) Command { return Command{Type: PacketSetPos, Value: pos} }

func CurrentRel(rel float64) Command { return Command{Type: PacketSetCurrentRel, Value: rel} }

func CurrentRelOffDelay(rel, offDelay float64) Command {
	return Command{Type: PacketSetCurrentRel, Value: rel, OffDelay: offDelay, Delayed: true}
}

func CurrentBrakeRel(rel float64) Command {
	return Command{Type: PacketSetCurrentBrakeRel, Value: rel}
}

func Handbrake(amps float64) Command {
	return Command{Type: PacketSetCurrentHandbrake, Value: amps}
}

func HandbrakeRel(rel float64) Command {
	return Command{Type: PacketSetCurrentHandbrakeRel, Value: rel}
}

// parseCommand is the inverse of Payload.
func parseCommand(pt PacketType, d []byte) (Command, error) {
	if len(d) < 4 {
		return Command{}, fmt.Errorf("vesc: %s payload too short: %d", pt, len(d))
	}
	c := Command{Type: pt}
	switch pt {
	case PacketSetDuty:
		c.Value = scaled32(d, 0, ScaleDuty)
	case PacketSetCurrent, PacketSetCurrentBrake, PacketSetCurrentHandbrake:
		c.Value = scaled32(d, 0, ScaleCurrent)
	case PacketSetRPM:
		c.Value = scaled32(d, 0, ScaleRPM)
	case PacketSetPos:
		c.Value = scaled32(d, 0, ScalePos)
	case PacketSetCurrentRel, PacketSetCurrentBrakeRel, PacketSetCurrentHandbrakeRel:
		c.Value = scaled32(d, 0, ScaleCurrentRel)
	default:
		return Command{}, fmt.Errorf("%w: %s", ErrNotCommand, pt)
	}
	if len(d) >= 6 && (pt == PacketSetCurrent || pt == PacketSetCurrentRel) {
		c.OffDelay = scaled16(d, 4, ScaleOffDelay)
		c.Delayed = true
	}
	return c, nil
}
