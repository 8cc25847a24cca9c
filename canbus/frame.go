package canbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Frame represents a classical CAN (2.0A/2.0B) frame.
//
// VESC controllers only speak extended (29-bit) data frames, but standard
// and RTR frames still show up on shared buses and must round-trip so they
// can be logged and dropped.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

// Validation limits.
const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
)

// Linux can_frame id flags.
const (
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canEffMask = 0x1FFFFFFF
	canStdMask = 0x7FF
)

// frameSize is sizeof(struct can_frame).
const frameSize = 16

var (
	ErrInvalidID  = errors.New("canbus: invalid identifier")
	ErrInvalidLen = errors.New("canbus: invalid data length")
)

// Validate reports a frame that no controller could put on the wire.
func (f Frame) Validate() error {
	limit := uint32(maxStdID)
	if f.Extended {
		limit = maxExtID
	}
	switch {
	case f.Len > 8:
		return ErrInvalidLen
	case f.ID > limit:
		return ErrInvalidID
	}
	return nil
}

func newFrame(id uint32, extended bool, payload []byte) (Frame, error) {
	if len(payload) > 8 {
		return Frame{}, ErrInvalidLen
	}
	f := Frame{ID: id, Extended: extended, Len: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, f.Validate()
}

// NewExtended builds an extended data frame carrying payload.
func NewExtended(id uint32, payload []byte) (Frame, error) {
	f, err := newFrame(id, true, payload)
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

// MustFrame is NewExtended for literals, except that identifiers inside the
// standard range give a standard frame. It panics on invalid input.
func MustFrame(id uint32, data []byte) Frame {
	f, err := newFrame(id, id > maxStdID, data)
	if err != nil {
		panic(err)
	}
	return f
}

// Payload returns the used part of Data.
func (f Frame) Payload() []byte {
	n := f.Len
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}

// String renders the frame in candump style, e.g. "0000030A [4] 00 00 13 88".
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	fmt.Fprintf(&b, " [%d]", f.Len)
	if f.RTR {
		b.WriteString(" RTR")
		return b.String()
	}
	for _, c := range f.Payload() {
		fmt.Fprintf(&b, " %02X", c)
	}
	return b.String()
}

// MarshalBinary encodes the frame to the Linux SocketCAN "struct can_frame"
// layout (16 bytes).
//
// Layout (little-endian host order on every platform Linux CAN runs on):
//
//	0..3  can_id (with flags: EFF/RTR)
//	4     can_dlc (data length code)
//	5..7  padding (set to zero)
//	8..15 data bytes
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	buf := make([]byte, frameSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

// UnmarshalBinary is the inverse of MarshalBinary. Bytes past the first
// frame are ignored.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < frameSize {
		return fmt.Errorf("canbus: short can_frame: %d of %d bytes", len(data), frameSize)
	}
	raw := binary.LittleEndian.Uint32(data)
	mask := uint32(canStdMask)
	if raw&canEffFlag != 0 {
		mask = canEffMask
	}
	*f = Frame{
		ID:       raw & mask,
		Extended: raw&canEffFlag != 0,
		RTR:      raw&canRtrFlag != 0,
		Len:      data[4],
	}
	copy(f.Data[:], data[8:frameSize])
	return f.Validate()
}
