package vesc

import (
	"fmt"

	"github.com/notnil/multivesc/canbus"
)

// ControllerID is the single-byte address of a controller on a bus.
type ControllerID uint8

// PacketType is the CAN packet code carried in bits 8..28 of the identifier.
type PacketType uint16

const (
	PacketSetDuty                PacketType = 0
	PacketSetCurrent             PacketType = 1
	PacketSetCurrentBrake        PacketType = 2
	PacketSetRPM                 PacketType = 3
	PacketSetPos                 PacketType = 4
	PacketStatus                 PacketType = 9
	PacketSetCurrentRel          PacketType = 10
	PacketSetCurrentBrakeRel     PacketType = 11
	PacketSetCurrentHandbrake    PacketType = 12
	PacketSetCurrentHandbrakeRel PacketType = 13
	PacketStatus2                PacketType = 14
	PacketStatus3                PacketType = 15
	PacketStatus4                PacketType = 16
	PacketStatus5                PacketType = 27
	PacketStatus6                PacketType = 28
)

var packetNames = map[PacketType]string{
	PacketSetDuty:                "SET_DUTY",
	PacketSetCurrent:             "SET_CURRENT",
	PacketSetCurrentBrake:        "SET_CURRENT_BRAKE",
	PacketSetRPM:                 "SET_RPM",
	PacketSetPos:                 "SET_POS",
	PacketStatus:                 "STATUS",
	PacketSetCurrentRel:          "SET_CURRENT_REL",
	PacketSetCurrentBrakeRel:     "SET_CURRENT_BRAKE_REL",
	PacketSetCurrentHandbrake:    "SET_CURRENT_HANDBRAKE",
	PacketSetCurrentHandbrakeRel: "SET_CURRENT_HANDBRAKE_REL",
	PacketStatus2:                "STATUS_2",
	PacketStatus3:                "STATUS_3",
	PacketStatus4:                "STATUS_4",
	PacketStatus5:                "STATUS_5",
	PacketStatus6:                "STATUS_6",
}

func (p PacketType) String() string {
	if s, ok := packetNames[p]; ok {
		return s
	}
	return fmt.Sprintf("PACKET_%d", uint16(p))
}

// IsCommand reports whether p is one of the set-command codes.
func (p PacketType) IsCommand() bool {
	switch p {
	case PacketSetDuty, PacketSetCurrent, PacketSetCurrentBrake, PacketSetRPM,
		PacketSetPos, PacketSetCurrentRel, PacketSetCurrentBrakeRel,
		PacketSetCurrentHandbrake, PacketSetCurrentHandbrakeRel:
		return true
	}
	return false
}

// FrameID composes the extended identifier for a packet sent to or from id.
func FrameID(id ControllerID, p PacketType) uint32 {
	return uint32(id) | uint32(p)<<8
}

// ParseFrameID splits an extended identifier into controller id and packet
// type.
func ParseFrameID(eid uint32) (ControllerID, PacketType) {
	return ControllerID(eid & 0xFF), PacketType((eid >> 8) & 0xFFFF)
}

// ControllerFilter matches VESC frames from or to a single controller.
func ControllerFilter(id ControllerID) canbus.FrameFilter {
	return canbus.And(canbus.ExtendedOnly(), canbus.ByMask(uint32(id), 0xFF))
}
