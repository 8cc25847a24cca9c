// Package motor models one VESC controller: a primary drive mode fixed at
// configuration, brake and handbrake overrides that are always available,
// an RPM path guarded by ceiling, sensorless floor and acceleration ramp,
// and telemetry fields updated independently from status broadcasts.
package motor
