package motor

import (
	"fmt"
	"strings"
)

// DriveMode is the kind of demand a Motor is currently re-sending.
type DriveMode int

const (
	ModeNone DriveMode = iota
	ModeDuty
	ModeCurrent
	ModeCurrentRel
	ModeCurrentBrake
	ModeCurrentBrakeRel
	ModeRPM
	ModePosition
	ModeHandbrake
	ModeHandbrakeRel
)

var modeNames = [...]string{
	ModeNone:            "NONE",
	ModeDuty:            "DUTY",
	ModeCurrent:         "CURRENT",
	ModeCurrentRel:      "CURRENT_REL",
	ModeCurrentBrake:    "CURRENT_BRAKE",
	ModeCurrentBrakeRel: "CURRENT_BRAKE_REL",
	ModeRPM:             "RPM",
	ModePosition:        "POS",
	ModeHandbrake:       "HANDBRAKE",
	ModeHandbrakeRel:    "HANDBRAKE_REL",
}

// Older configuration files use these spellings.
var modeAliases = map[string]DriveMode{
	"CURRENT_BREAK":     ModeCurrentBrake,
	"CURRENT_BREAK_REL": ModeCurrentBrakeRel,
	"HAND_BRAKE":        ModeHandbrake,
	"HAND_BRAKE_REL":    ModeHandbrakeRel,
	"POSITION":          ModePosition,
}

func (m DriveMode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("DriveMode(%d)", int(m))
}

// ParseDriveMode resolves a mode name, case-insensitively.
func ParseDriveMode(s string) (DriveMode, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range modeNames {
		if n == name {
			return DriveMode(i), nil
		}
	}
	if m, ok := modeAliases[name]; ok {
		return m, nil
	}
	return ModeNone, fmt.Errorf("motor: unknown drive mode %q", s)
}

// IsPrimary reports whether m can be the fixed steady-state mode of a motor.
func (m DriveMode) IsPrimary() bool {
	switch m {
	case ModeDuty, ModeCurrent, ModeRPM, ModePosition:
		return true
	}
	return false
}

// IsOverlay reports whether m is a brake or override mode that any motor
// accepts regardless of its primary mode.
func (m DriveMode) IsOverlay() bool {
	switch m {
	case ModeCurrentRel, ModeCurrentBrake, ModeCurrentBrakeRel, ModeHandbrake, ModeHandbrakeRel:
		return true
	}
	return false
}
