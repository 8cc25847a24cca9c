package bus

import (
	"fmt"
	"sync"

	"github.com/notnil/multivesc/motor"
	"github.com/notnil/multivesc/vesc"
)

// table maps controller ids to motors. Slots written by the receive loop
// hold placeholders until a configured motor claims them.
type table struct {
	mu    sync.Mutex
	slots [256]*motor.Motor
	opts  []motor.Option
}

func (t *table) register(m *motor.Motor, tr motor.Transport) error {
	if !m.Configured() {
		return fmt.Errorf("bus: register %d: motor is a placeholder", m.ID())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.slots[m.ID()]
	if prev != nil && prev != m && prev.Configured() {
		return fmt.Errorf("%w: %d (%s)", ErrSlotTaken, m.ID(), prev.Name())
	}
	if prev != nil && !prev.Configured() {
		m.CopyTelemetry(prev)
	}
	m.Bind(tr)
	t.slots[m.ID()] = m
	return nil
}

func (t *table) motor(id vesc.ControllerID) *motor.Motor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slotLocked(id)
}

func (t *table) slotLocked(id vesc.ControllerID) *motor.Motor {
	m := t.slots[id]
	if m == nil {
		m = motor.NewPlaceholder(id, t.opts...)
		t.slots[id] = m
	}
	return m
}

func (t *table) motors() []*motor.Motor {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*motor.Motor
	for _, m := range t.slots {
		if m != nil && m.Configured() {
			out = append(out, m)
		}
	}
	return out
}

// deliver routes a decoded message to its slot. Echoed commands and unknown
// packets are dropped. The table stays locked while the motor is written so
// register never copies from a placeholder that is still receiving.
func (t *table) deliver(id vesc.ControllerID, msg vesc.Message) bool {
	if !vesc.IsStatus(msg) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slotLocked(id).HandleMessage(msg)
}
