// Package vesc encodes VESC motor controller commands and decodes their
// periodic status broadcasts.
//
// The CAN side follows the firmware's comm_can layout: a 29-bit extended
// identifier carrying the controller id in the low byte and the packet type
// above it, with a big-endian fixed-point payload. The UART side wraps the
// same commands in the firmware's serial packet framing.
//
// Everything here is pure: no I/O and no state.
package vesc
