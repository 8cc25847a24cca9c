package motor

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/notnil/multivesc/vesc"
)

// Value tags a telemetry field in callbacks.
type Value int

const (
	ValueERPM Value = iota
	ValueCurrent
	ValueDuty
	ValueAmpHours
	ValueAmpHoursCharged
	ValueWattHours
	ValueWattHoursCharged
	ValueTempFET
	ValueTempMotor
	ValueCurrentIn
	ValuePIDPos
	ValueTachometer
	ValueVIn
	ValueADC1
	ValueADC2
	ValueADC3
	ValuePPM

	numValues
)

var valueNames = [numValues]string{
	"erpm", "current", "duty", "amp_hours", "amp_hours_charged", "watt_hours",
	"watt_hours_charged", "temp_fet", "temp_motor", "current_in", "pid_pos",
	"tachometer", "v_in", "adc1", "adc2", "adc3", "ppm",
}

func (v Value) String() string {
	if v >= 0 && v < numValues {
		return valueNames[v]
	}
	return fmt.Sprintf("Value(%d)", int(v))
}

// Values lists every telemetry field in wire order.
func Values() []Value {
	out := make([]Value, numValues)
	for i := range out {
		out[i] = Value(i)
	}
	return out
}

// TelemetryFunc receives one field update.
type TelemetryFunc func(v Value, x float64)

// atomicFloat is a float64 readable and writable without a lock.
type atomicFloat struct{ bits atomic.Uint64 }

func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) Store(x float64) { f.bits.Store(math.Float64bits(x)) }

// telemetry holds every field independently. A reader may observe fields
// from different status packets; the firmware splits them across packets
// anyway.
type telemetry [numValues]atomicFloat

// Snapshot is a copy of all telemetry fields, each read once. Fields may
// come from different status packets.
type Snapshot struct {
	ERPM             float64 `json:"erpm"`
	Current          float64 `json:"current"`
	Duty             float64 `json:"duty"`
	AmpHours         float64 `json:"ampHours"`
	AmpHoursCharged  float64 `json:"ampHoursCharged"`
	WattHours        float64 `json:"wattHours"`
	WattHoursCharged float64 `json:"wattHoursCharged"`
	TempFET          float64 `json:"tempFet"`
	TempMotor        float64 `json:"tempMotor"`
	CurrentIn        float64 `json:"currentIn"`
	PIDPos           float64 `json:"pidPos"`
	Tachometer       float64 `json:"tachometer"`
	VIn              float64 `json:"vIn"`
	ADC1             float64 `json:"adc1"`
	ADC2             float64 `json:"adc2"`
	ADC3             float64 `json:"adc3"`
	PPM              float64 `json:"ppm"`
}

// Value returns the telemetry field v.
func (m *Motor) Value(v Value) float64 {
	if v < 0 || v >= numValues {
		return 0
	}
	return m.telem[v].Load()
}

func (m *Motor) ERPM() float64             { return m.Value(ValueERPM) }
func (m *Motor) Current() float64          { return m.Value(ValueCurrent) }
func (m *Motor) Duty() float64             { return m.Value(ValueDuty) }
func (m *Motor) AmpHours() float64         { return m.Value(ValueAmpHours) }
func (m *Motor) AmpHoursCharged() float64  { return m.Value(ValueAmpHoursCharged) }
func (m *Motor) WattHours() float64        { return m.Value(ValueWattHours) }
func (m *Motor) WattHoursCharged() float64 { return m.Value(ValueWattHoursCharged) }
func (m *Motor) TempFET() float64          { return m.Value(ValueTempFET) }
func (m *Motor) TempMotor() float64        { return m.Value(ValueTempMotor) }
func (m *Motor) CurrentIn() float64        { return m.Value(ValueCurrentIn) }
func (m *Motor) PIDPos() float64           { return m.Value(ValuePIDPos) }
func (m *Motor) Tachometer() float64       { return m.Value(ValueTachometer) }
func (m *Motor) VIn() float64              { return m.Value(ValueVIn) }
func (m *Motor) ADC1() float64             { return m.Value(ValueADC1) }
func (m *Motor) ADC2() float64             { return m.Value(ValueADC2) }
func (m *Motor) ADC3() float64             { return m.Value(ValueADC3) }
func (m *Motor) PPM() float64              { return m.Value(ValuePPM) }

// RPM returns mechanical RPM derived from the reported ERPM, pole pairs and
// direction.
func (m *Motor) RPM() float64 {
	pp := m.polePairs.Load()
	if pp == 0 {
		return 0
	}
	return m.ERPM() / (pp * m.direction())
}

// Snapshot reads every field once.
func (m *Motor) Snapshot() Snapshot {
	return Snapshot{
		ERPM:             m.ERPM(),
		Current:          m.Current(),
		Duty:             m.Duty(),
		AmpHours:         m.AmpHours(),
		AmpHoursCharged:  m.AmpHoursCharged(),
		WattHours:        m.WattHours(),
		WattHoursCharged: m.WattHoursCharged(),
		TempFET:          m.TempFET(),
		TempMotor:        m.TempMotor(),
		CurrentIn:        m.CurrentIn(),
		PIDPos:           m.PIDPos(),
		Tachometer:       m.Tachometer(),
		VIn:              m.VIn(),
		ADC1:             m.ADC1(),
		ADC2:             m.ADC2(),
		ADC3:             m.ADC3(),
		PPM:              m.PPM(),
	}
}

// OnTelemetry registers the callback invoked for every telemetry field
// written. It replaces any earlier callback; nil removes it. The callback
// runs on the bus receive goroutine with the bus's motor table locked: it must
// not block, and must not register or look up motors on that bus.
func (m *Motor) OnTelemetry(fn TelemetryFunc) {
	if fn == nil {
		m.callback.Store(nil)
		return
	}
	m.callback.Store(&fn)
}

func (m *Motor) set(v Value, x float64) {
	m.telem[v].Store(x)
	if fn := m.callback.Load(); fn != nil {
		(*fn)(v, x)
	}
}

// SetStatus stores a STATUS packet.
func (m *Motor) SetStatus(erpm, current, duty float64) {
	m.set(ValueERPM, erpm)
	m.set(ValueCurrent, current)
	m.set(ValueDuty, duty)
}

// SetStatus2 stores a STATUS_2 packet.
func (m *Motor) SetStatus2(ampHours, ampHoursCharged float64) {
	m.set(ValueAmpHours, ampHours)
	m.set(ValueAmpHoursCharged, ampHoursCharged)
}

// SetStatus3 stores a STATUS_3 packet.
func (m *Motor) SetStatus3(wattHours, wattHoursCharged float64) {
	m.set(ValueWattHours, wattHours)
	m.set(ValueWattHoursCharged, wattHoursCharged)
}

// SetStatus4 stores a STATUS_4 packet.
func (m *Motor) SetStatus4(tempFET, tempMotor, currentIn, pidPos float64) {
	m.set(ValueTempFET, tempFET)
	m.set(ValueTempMotor, tempMotor)
	m.set(ValueCurrentIn, currentIn)
	m.set(ValuePIDPos, pidPos)
}

// SetStatus5 stores a STATUS_5 packet.
func (m *Motor) SetStatus5(tachometer, vIn float64) {
	m.set(ValueTachometer, tachometer)
	m.set(ValueVIn, vIn)
}

// SetStatus6 stores a STATUS_6 packet.
func (m *Motor) SetStatus6(adc1, adc2, adc3, ppm float64) {
	m.set(ValueADC1, adc1)
	m.set(ValueADC2, adc2)
	m.set(ValueADC3, adc3)
	m.set(ValuePPM, ppm)
}

// HandleMessage applies a decoded status message and reports whether it
// carried telemetry.
func (m *Motor) HandleMessage(msg vesc.Message) bool {
	switch s := msg.(type) {
	case vesc.Status:
		m.SetStatus(s.ERPM, s.Current, s.Duty)
	case vesc.Status2:
		m.SetStatus2(s.AmpHours, s.AmpHoursCharged)
	case vesc.Status3:
		m.SetStatus3(s.WattHours, s.WattHoursCharged)
	case vesc.Status4:
		m.SetStatus4(s.TempFET, s.TempMotor, s.CurrentIn, s.PIDPos)
	case vesc.Status5:
		m.SetStatus5(s.Tachometer, s.VIn)
	case vesc.Status6:
		m.SetStatus6(s.ADC1, s.ADC2, s.ADC3, s.PPM)
	default:
		return false
	}
	return true
}

// CopyTelemetry copies every field from other without firing callbacks. If m
// has no callback yet it also takes over other's, so a callback registered on
// a placeholder survives the placeholder being replaced.
func (m *Motor) CopyTelemetry(other *Motor) {
	for i := range m.telem {
		m.telem[i].Store(other.telem[i].Load())
	}
	if fn := other.callback.Load(); fn != nil {
		m.callback.CompareAndSwap(nil, fn)
	}
}
