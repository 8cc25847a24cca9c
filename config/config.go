// Package config reads the YAML (or JSON) description of buses and motors
// and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/notnil/multivesc/bus"
	"github.com/notnil/multivesc/motor"
	"github.com/notnil/multivesc/vesc"
)

const (
	DefaultBus      = "can0"
	DefaultBaud     = 115200
	DefaultNumPoles = 2
)

var (
	ErrUnknownBusType = errors.New("unknown bus type")
	ErrInvalidMode    = errors.New("invalid control mode")
	ErrDuplicateName  = errors.New("duplicate motor name")
	ErrDuplicateID    = errors.New("duplicate controller id")
	ErrIDRange        = errors.New("controller id out of range")
	ErrUnknownBus     = errors.New("unknown bus")
	ErrNoDevice       = errors.New("no device")
	ErrSetPoint       = errors.New("set-point does not match control mode")
)

// ConfigError ties a failure to the bus or motor entry that caused it.
type ConfigError struct {
	Item string
	Err  error
}

func (e *ConfigError) Error() string { return "config: " + e.Item + ": " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// BusError wraps err for the named bus entry.
func BusError(name string, err error) error {
	return &ConfigError{Item: "bus " + name, Err: err}
}

// MotorError wraps err for the named motor entry.
func MotorError(name string, err error) error {
	return &ConfigError{Item: "motor " + name, Err: err}
}

type Config struct {
	Buses  map[string]Bus   `yaml:"buses"`
	Motors map[string]Motor `yaml:"motors"`
}

type Bus struct {
	Type   string `yaml:"type"`
	Device string `yaml:"device"`
	// Port is accepted as a synonym of Device for serial buses.
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
	Bitrate uint32 `yaml:"bitrate"`
	LocalID int    `yaml:"localId"`
	Verbose bool   `yaml:"verbose"`
	Trace   []int  `yaml:"trace,flow"`
}

func (b *Bus) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Bus
	p := plain{Type: "can", Baud: DefaultBaud}
	if err := unmarshal(&p); err != nil {
		return err
	}
	*b = Bus(p)
	return nil
}

type Motor struct {
	Name               string  `yaml:"name"`
	Bus                string  `yaml:"bus"`
	ID                 int     `yaml:"id"`
	Enabled            bool    `yaml:"enabled"`
	ControlMode        string  `yaml:"controlMode"`
	MinRPM             float64 `yaml:"minRPM"`
	MaxRPM             float64 `yaml:"maxRPM"`
	MaxRPMAcceleration float64 `yaml:"maxRPMAcceleration"`
	NumPoles           float64 `yaml:"numPoles"`
	ReverseDirection   bool    `yaml:"reverseDirection"`
	// StartupDelay is the pause in seconds before the initial set-point.
	StartupDelay float64 `yaml:"startupDelay"`

	Duty    *float64 `yaml:"duty"`
	Current *float64 `yaml:"current"`
	RPM     *float64 `yaml:"rpm"`
	Pos     *float64 `yaml:"pos"`
}

// DefaultMotor returns the values a motor entry starts from.
func DefaultMotor() Motor {
	return Motor{
		Bus:                DefaultBus,
		Enabled:            true,
		ControlMode:        "RPM",
		MaxRPMAcceleration: -1,
		NumPoles:           DefaultNumPoles,
	}
}

func (m *Motor) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Motor
	p := plain(DefaultMotor())
	if err := unmarshal(&p); err != nil {
		return err
	}
	*m = Motor(p)
	return nil
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML or JSON. A decoded but invalid configuration is
// returned together with the validation error so callers may still apply
// the valid parts.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, c.Validate()
}

// BusNames returns the bus keys in sorted order.
func (c *Config) BusNames() []string { return sortedKeys(c.Buses) }

// MotorNames returns the motor keys in sorted order.
func (c *Config) MotorNames() []string { return sortedKeys(c.Motors) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every entry and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.BusNames() {
		if _, err := c.Buses[name].Build(name); err != nil {
			errs = append(errs, err)
		}
	}
	names := make(map[string]string)
	ids := make(map[int]string)
	for _, key := range c.MotorNames() {
		m := c.Motors[key]
		cfg, err := m.MotorConfig(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, ok := c.Buses[m.Bus]; !ok {
			errs = append(errs, MotorError(key, fmt.Errorf("%w %q", ErrUnknownBus, m.Bus)))
		}
		if prev, ok := names[cfg.Name]; ok {
			errs = append(errs, MotorError(key, fmt.Errorf("%w %q (also %s)", ErrDuplicateName, cfg.Name, prev)))
		}
		names[cfg.Name] = key
		if prev, ok := ids[m.ID]; ok {
			errs = append(errs, MotorError(key, fmt.Errorf("%w %d (also %s)", ErrDuplicateID, m.ID, prev)))
		}
		ids[m.ID] = key
	}
	return errors.Join(errs...)
}

// BusSpec is a validated bus entry.
type BusSpec struct {
	Kind   bus.Kind
	CAN    bus.CANConfig
	Serial bus.SerialConfig
}

// Build resolves the entry named name into the settings of a bus.
func (b Bus) Build(name string) (BusSpec, error) {
	kind, err := bus.ParseKind(b.Type)
	if err != nil {
		return BusSpec{}, BusError(name, fmt.Errorf("%w %q", ErrUnknownBusType, b.Type))
	}
	device := b.Device
	if device == "" {
		device = b.Port
	}
	spec := BusSpec{Kind: kind}
	switch kind {
	case bus.KindCAN:
		if device == "" {
			device = name
		}
		spec.CAN = bus.CANConfig{
			Name:    name,
			Device:  device,
			Bitrate: b.Bitrate,
			Verbose: b.Verbose,
		}
		for _, id := range b.Trace {
			if id < 0 || id > 255 {
				return BusSpec{}, BusError(name, fmt.Errorf("trace: %w: %d", ErrIDRange, id))
			}
			spec.CAN.Trace = append(spec.CAN.Trace, vesc.ControllerID(id))
		}
	case bus.KindSerial:
		if device == "" {
			return BusSpec{}, BusError(name, ErrNoDevice)
		}
		if b.LocalID < 0 || b.LocalID > 255 {
			return BusSpec{}, BusError(name, fmt.Errorf("localId: %w: %d", ErrIDRange, b.LocalID))
		}
		spec.Serial = bus.SerialConfig{
			Name:    name,
			Device:  device,
			Baud:    b.Baud,
			LocalID: vesc.ControllerID(b.LocalID),
			Verbose: b.Verbose,
		}
	}
	return spec, nil
}

// DisplayName is the motor's name: the name field, else the entry key,
// else motor_<bus>_<id>.
func (m Motor) DisplayName(key string) string {
	switch {
	case m.Name != "":
		return m.Name
	case key != "":
		return key
	}
	return fmt.Sprintf("motor_%s_%d", m.Bus, m.ID)
}

// MotorConfig resolves the entry keyed key into motor settings.
func (m Motor) MotorConfig(key string) (motor.Config, error) {
	name := m.DisplayName(key)
	if m.ID < 0 || m.ID > 255 {
		return motor.Config{}, MotorError(name, fmt.Errorf("%w: %d", ErrIDRange, m.ID))
	}
	mode, err := motor.ParseDriveMode(m.ControlMode)
	if err != nil || !mode.IsPrimary() {
		return motor.Config{}, MotorError(name, fmt.Errorf("%w %q", ErrInvalidMode, m.ControlMode))
	}
	for other, v := range m.setPoints() {
		if v != nil && other != mode {
			return motor.Config{}, MotorError(name, fmt.Errorf("%w: %s given for %s", ErrSetPoint, strings.ToLower(other.String()), mode))
		}
	}
	return motor.Config{
		Name:               name,
		ID:                 vesc.ControllerID(m.ID),
		Enabled:            m.Enabled,
		Mode:               mode,
		MinRPM:             m.MinRPM,
		MaxRPM:             m.MaxRPM,
		MaxRPMAcceleration: m.MaxRPMAcceleration,
		PolePairs:          m.NumPoles / 2,
		Reverse:            m.ReverseDirection,
	}, nil
}

func (m Motor) setPoints() map[motor.DriveMode]*float64 {
	return map[motor.DriveMode]*float64{
		motor.ModeDuty:     m.Duty,
		motor.ModeCurrent:  m.Current,
		motor.ModeRPM:      m.RPM,
		motor.ModePosition: m.Pos,
	}
}

// SetPoint returns the initial demand for mode, if one is configured.
func (m Motor) SetPoint(mode motor.DriveMode) (float64, bool) {
	if v := m.setPoints()[mode]; v != nil {
		return *v, true
	}
	return 0, false
}
