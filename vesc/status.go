package vesc

import (
	"fmt"

	"github.com/notnil/multivesc/canbus"
)

// Message is the decoded content of one received frame: Echo, one of the
// Status types, or Unknown.
type Message interface {
	Packet() PacketType
}

// Echo is a set-command seen on the bus, sent by another node. It carries no
// telemetry.
type Echo struct{ Command Command }

// Unknown covers unrecognised packet types and malformed frames.
type Unknown struct{ Type PacketType }

// Status carries speed, phase current and duty cycle.
type Status struct {
	ERPM    float64
	Current float64
	Duty    float64
}

// Status2 carries consumed and regenerated charge.
type Status2 struct {
	AmpHours        float64
	AmpHoursCharged float64
}

// Status3 carries consumed and regenerated energy.
type Status3 struct {
	WattHours        float64
	WattHoursCharged float64
}

// Status4 carries temperatures, input current and PID position.
type Status4 struct {
	TempFET   float64
	TempMotor float64
	CurrentIn float64
	PIDPos    float64
}

// Status5 carries the tachometer and input voltage.
type Status5 struct {
	Tachometer float64
	VIn        float64
}

// Status6 carries the raw ADC and PPM inputs.
type Status6 struct {
	ADC1 float64
	ADC2 float64
	ADC3 float64
	PPM  float64
}

func (m Echo) Packet() PacketType    { return m.Command.Type }
func (m Unknown) Packet() PacketType { return m.Type }
func (Status) Packet() PacketType    { return PacketStatus }
func (Status2) Packet() PacketType   { return PacketStatus2 }
func (Status3) Packet() PacketType   { return PacketStatus3 }
func (Status4) Packet() PacketType   { return PacketStatus4 }
func (Status5) Packet() PacketType   { return PacketStatus5 }
func (Status6) Packet() PacketType   { return PacketStatus6 }

// statusLen is the minimum payload each status packet needs.
var statusLen = map[PacketType]int{
	PacketStatus:  8,
	PacketStatus2: 8,
	PacketStatus3: 8,
	PacketStatus4: 8,
	PacketStatus5: 6,
	PacketStatus6: 8,
}

// Decode maps a received frame to the controller it came from and its
// content. Standard-id, RTR and short frames decode to Unknown.
func Decode(f canbus.Frame) (ControllerID, Message) {
	id, pt := ParseFrameID(f.ID)
	if !f.Extended || f.RTR || f.Validate() != nil {
		return id, Unknown{Type: pt}
	}
	if pt.IsCommand() {
		cmd, err := parseCommand(pt, f.Payload())
		if err != nil {
			return id, Unknown{Type: pt}
		}
		return id, Echo{Command: cmd}
	}
	need, ok := statusLen[pt]
	if !ok || int(f.Len) < need {
		return id, Unknown{Type: pt}
	}
	d := f.Payload()
	switch pt {
	case PacketStatus:
		return id, Status{
			ERPM:    scaled32(d, 0, 1),
			Current: scaled16(d, 4, 10),
			Duty:    scaled16(d, 6, 1000),
		}
	case PacketStatus2:
		return id, Status2{
			AmpHours:        scaled32(d, 0, 1e4),
			AmpHoursCharged: scaled32(d, 4, 1e4),
		}
	case PacketStatus3:
		return id, Status3{
			WattHours:        scaled32(d, 0, 1e4),
			WattHoursCharged: scaled32(d, 4, 1e4),
		}
	case PacketStatus4:
		return id, Status4{
			TempFET:   scaled16(d, 0, 10),
			TempMotor: scaled16(d, 2, 10),
			CurrentIn: scaled16(d, 4, 10),
			PIDPos:    scaled16(d, 6, 50),
		}
	case PacketStatus5:
		return id, Status5{
			Tachometer: scaled32(d, 0, 6),
			VIn:        scaled16(d, 4, 10),
		}
	case PacketStatus6:
		return id, Status6{
			ADC1: scaled16(d, 0, 1000),
			ADC2: scaled16(d, 2, 1000),
			ADC3: scaled16(d, 4, 1000),
			PPM:  scaled16(d, 6, 1000),
		}
	}
	return id, Unknown{Type: pt}
}

// IsStatus reports whether m carries telemetry.
func IsStatus(m Message) bool {
	switch m.(type) {
	case Status, Status2, Status3, Status4, Status5, Status6:
		return true
	}
	return false
}

// StatusFrame encodes a status message as controller id would broadcast it.
// It is the inverse of Decode and is used to simulate controllers.
func StatusFrame(id ControllerID, m Message) (canbus.Frame, error) {
	b := make([]byte, 0, 8)
	switch s := m.(type) {
	case Status:
		b = appendScaled32(b, s.ERPM, 1)
		b = appendScaled16(b, s.Current, 10)
		b = appendScaled16(b, s.Duty, 1000)
	case Status2:
		b = appendScaled32(b, s.AmpHours, 1e4)
		b = appendScaled32(b, s.AmpHoursCharged, 1e4)
	case Status3:
		b = appendScaled32(b, s.WattHours, 1e4)
		b = appendScaled32(b, s.WattHoursCharged, 1e4)
	case Status4:
		b = appendScaled16(b, s.TempFET, 10)
		b = appendScaled16(b, s.TempMotor, 10)
		b = appendScaled16(b, s.CurrentIn, 10)
		b = appendScaled16(b, s.PIDPos, 50)
	case Status5:
		b = appendScaled32(b, s.Tachometer, 6)
		b = appendScaled16(b, s.VIn, 10)
	case Status6:
		b = appendScaled16(b, s.ADC1, 1000)
		b = appendScaled16(b, s.ADC2, 1000)
		b = appendScaled16(b, s.ADC3, 1000)
		b = appendScaled16(b, s.PPM, 1000)
	default:
		return canbus.Frame{}, fmt.Errorf("vesc: %s is not a status message", m.Packet())
	}
	return canbus.NewExtended(FrameID(id, m.Packet()), b)
}
