package vesc

import (
	"errors"
	"fmt"
)

// UART command ids (COMM_PACKET_ID in the firmware).
const (
	commSetDuty         byte = 5
	commSetCurrent      byte = 6
	commSetCurrentBrake byte = 7
	commSetRPM          byte = 8
	commSetPos          byte = 9
	commSetHandbrake    byte = 10
	commForwardCAN      byte = 34
)

// UART packet delimiters for payloads shorter than 256 bytes.
const (
	uartStart byte = 2
	uartEnd   byte = 3
)

// ErrUnsupported is returned for commands the UART protocol has no id for.
var ErrUnsupported = errors.New("vesc: command not supported over uart")

var uartCommands = map[PacketType]byte{
	PacketSetDuty:             commSetDuty,
	PacketSetCurrent:          commSetCurrent,
	PacketSetCurrentBrake:     commSetCurrentBrake,
	PacketSetRPM:              commSetRPM,
	PacketSetPos:              commSetPos,
	PacketSetCurrentHandbrake: commSetHandbrake,
}

// UARTPacket frames c for the serial port of a controller. When forward is
// set the packet asks the attached controller to relay the command over its
// CAN bus to controller id.
func UARTPacket(id ControllerID, c Command, forward bool) ([]byte, error) {
	comm, ok := uartCommands[c.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, c.Type)
	}
	// Off delay is a CAN-only extension; the UART body is always 4 bytes.
	c.Delayed = false
	body, err := c.Payload()
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, len(body)+3)
	if forward {
		payload = append(payload, commForwardCAN, byte(id))
	}
	payload = append(payload, comm)
	payload = append(payload, body...)

	pkt := make([]byte, 0, len(payload)+5)
	pkt = append(pkt, uartStart, byte(len(payload)))
	pkt = append(pkt, payload...)
	pkt = appendInt16(pkt, int16(CRC16(payload)))
	return append(pkt, uartEnd), nil
}

// CRC16 is the CRC-16/XMODEM checksum (poly 0x1021, init 0) the firmware
// appends to every UART packet.
func CRC16(b []byte) uint16 {
	var crc uint16
	for _, c := range b {
		crc ^= uint16(c) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
