package vesc

import (
	"encoding/binary"
	"math"
)

// Big-endian fixed-point helpers. Values are scaled and rounded to the
// nearest integer, then saturated to the field width so that an absurd
// demand can never wrap around to the opposite sign on the wire.

func appendInt32(b []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(v))
}

func appendInt16(b []byte, v int16) []byte {
	return binary.BigEndian.AppendUint16(b, uint16(v))
}

func appendScaled32(b []byte, v, scale float64) []byte {
	return appendInt32(b, sat32(math.Round(v*scale)))
}

func appendScaled16(b []byte, v, scale float64) []byte {
	return appendInt16(b, sat16(math.Round(v*scale)))
}

func sat32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func sat16(v float64) int16 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func scaled32(b []byte, off int, scale float64) float64 {
	return float64(int32(binary.BigEndian.Uint32(b[off:]))) / scale
}

func scaled16(b []byte, off int, scale float64) float64 {
	return float64(int16(binary.BigEndian.Uint16(b[off:]))) / scale
}
