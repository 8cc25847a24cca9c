// Package multivesc drives several VESC motor controllers over CAN or UART.
//
// A Manager owns the buses named in a configuration, the motors attached to
// them and a refresh loop that re-sends every motor's last command every
// 50 ms, since the firmware stops a motor whose commands time out.
//
// It builds on:
//   - canbus, the frame type and SocketCAN transport
//   - vesc, the packet codec for commands and status broadcasts
//   - bus, the CAN and serial links with their controller tables
//   - motor, drive modes, RPM limiting and telemetry of a single controller
//   - config, the YAML/JSON configuration and environment
package multivesc
