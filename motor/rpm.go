package motor

import (
	"math"
	"time"
)

// rpmDemandLocked turns a requested mechanical RPM into the ERPM put on the
// wire. Steps run in a fixed order: ceiling, floor, ramp, ceiling again. The
// floor output still goes through the ramp, and the ramp may start above a
// ceiling lowered since the last demand.
//
// It returns the ERPM for the wire and the mechanical demand behind it. The
// ramp starts from the last demand that reached the transport; see
// commitDemandLocked.
func (m *Motor) rpmDemandLocked(rpm float64, now time.Time, warn bool) (erpm, demand float64) {
	maxRPM := m.maxRPM.Load()

	// Ceiling.
	if maxRPM > 0 && math.Abs(rpm) > maxRPM {
		if warn {
			m.logger.Warn("rpm demand saturated",
				"motor", m.name,
				"id", m.id,
				"requested", rpm,
				"max", maxRPM,
			)
		}
		rpm = math.Copysign(maxRPM, rpm)
	}

	// Sensorless floor.
	if minRPM := m.minRPM.Load(); minRPM > 0 && math.Abs(rpm) < minRPM {
		if math.Abs(rpm) < minRPM/2 {
			rpm = 0
		} else {
			rpm = math.Copysign(minRPM, rpm)
		}
	}

	// Ramp.
	if acc := m.maxAccel.Load(); acc >= 0 {
		dt := now.Sub(m.lastDemandAt).Seconds()
		if dt < 0 {
			dt = 0
		}
		step := acc * dt
		switch delta := rpm - m.lastDemand; {
		case delta > step:
			rpm = m.lastDemand + step
		case delta < -step:
			rpm = m.lastDemand - step
		}
	}

	// Ceiling again.
	if maxRPM > 0 && math.Abs(rpm) > maxRPM {
		rpm = math.Copysign(maxRPM, rpm)
	}

	return rpm * m.polePairs.Load() * m.direction(), rpm
}

// commitDemandLocked records what the controller is now running at for the
// next ramp step. When the send failed, or the motor was driven in another
// mode, the controller is assumed idle and the ramp restarts from 0.
func (m *Motor) commitDemandLocked(demand float64, now time.Time, sent bool) {
	if !sent {
		demand = 0
	}
	m.lastDemand = demand
	m.lastDemandAt = now
}
