// Package canbus carries classical CAN frames between the VESC layers and a
// physical or simulated bus.
//
// It includes:
//   - Frame, the Linux can_frame value with validation and binary layout
//   - Bus, the context-aware transport interface every driver implements
//   - LoopbackBus, an in-memory bus used by tests and simulations
//   - DialSocketCAN, a Linux SocketCAN driver built on golang.org/x/sys/unix
//   - NewLoggedBus, a slog decorator used for verbose frame tracing
package canbus
