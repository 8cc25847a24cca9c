package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/notnil/multivesc/bus"
	"github.com/notnil/multivesc/motor"
	"github.com/notnil/multivesc/vesc"
)

const testYaml = `
buses:
  can0:
    type: can
    verbose: true
    trace: [1, 2]
  uart:
    type: serial
    port: /dev/ttyACM0
    localId: 3
motors:
  atomiser1:
    bus: can0
    id: 1
    minRPM: 1000
    maxRPM: 12000
    maxRPMAcceleration: 5000
    numPoles: 14
    rpm: 3000
    startupDelay: 0.5
  pump:
    bus: uart
    id: 3
    controlMode: duty
    reverseDirection: true
    enabled: false
    duty: 0.2
  "":
    bus: can0
    id: 7
`

const testJSON = `{
  "buses": {"can1": {"type": "can", "device": "vcan0"}},
  "motors": {"m": {"bus": "can1", "id": 4, "controlMode": "CURRENT", "current": 2.5}}
}`

func TestConfigParsing(t *testing.T) {
	Convey("a full yaml file", t, func() {
		c, err := Parse([]byte(testYaml))
		So(err, ShouldBeNil)

		Convey("bus defaults are applied", func() {
			spec, err := c.Buses["can0"].Build("can0")
			So(err, ShouldBeNil)
			So(spec.Kind, ShouldEqual, bus.KindCAN)
			So(spec.CAN.Device, ShouldEqual, "can0")
			So(spec.CAN.Verbose, ShouldBeTrue)
			So(spec.CAN.Trace, ShouldResemble, []vesc.ControllerID{1, 2})
		})

		Convey("serial port is read from port", func() {
			spec, err := c.Buses["uart"].Build("uart")
			So(err, ShouldBeNil)
			So(spec.Kind, ShouldEqual, bus.KindSerial)
			So(spec.Serial.Device, ShouldEqual, "/dev/ttyACM0")
			So(spec.Serial.Baud, ShouldEqual, DefaultBaud)
			So(spec.Serial.LocalID, ShouldEqual, vesc.ControllerID(3))
		})

		Convey("motor fields and defaults", func() {
			m := c.Motors["atomiser1"]
			cfg, err := m.MotorConfig("atomiser1")
			So(err, ShouldBeNil)
			So(cfg.Name, ShouldEqual, "atomiser1")
			So(cfg.Mode, ShouldEqual, motor.ModeRPM)
			So(cfg.Enabled, ShouldBeTrue)
			So(cfg.PolePairs, ShouldEqual, 7)
			So(cfg.MaxRPMAcceleration, ShouldEqual, 5000)
			So(m.StartupDelay, ShouldEqual, 0.5)
			v, ok := m.SetPoint(motor.ModeRPM)
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, 3000)
		})

		Convey("mode names are case-insensitive", func() {
			cfg, err := c.Motors["pump"].MotorConfig("pump")
			So(err, ShouldBeNil)
			So(cfg.Mode, ShouldEqual, motor.ModeDuty)
			So(cfg.Enabled, ShouldBeFalse)
			So(cfg.Reverse, ShouldBeTrue)
			So(cfg.PolePairs, ShouldEqual, 1)
			So(cfg.MaxRPMAcceleration, ShouldEqual, -1)
		})

		Convey("an empty key gets a generated name", func() {
			So(c.Motors[""].DisplayName(""), ShouldEqual, "motor_can0_7")
		})

		Convey("names are sorted", func() {
			So(c.BusNames(), ShouldResemble, []string{"can0", "uart"})
			So(c.MotorNames(), ShouldResemble, []string{"", "atomiser1", "pump"})
		})
	})

	Convey("json is accepted", t, func() {
		c, err := Parse([]byte(testJSON))
		So(err, ShouldBeNil)
		spec, err := c.Buses["can1"].Build("can1")
		So(err, ShouldBeNil)
		So(spec.CAN.Device, ShouldEqual, "vcan0")
		v, ok := c.Motors["m"].SetPoint(motor.ModeCurrent)
		So(ok, ShouldBeTrue)
		So(v, ShouldEqual, 2.5)
	})

	Convey("loading from a file", t, func() {
		path := filepath.Join(t.TempDir(), "multivesc.yaml")
		So(os.WriteFile(path, []byte(testYaml), 0o644), ShouldBeNil)
		c, err := Load(path)
		So(err, ShouldBeNil)
		So(len(c.Motors), ShouldEqual, 3)

		_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
		So(err, ShouldNotBeNil)
	})
}

func TestConfigValidation(t *testing.T) {
	Convey("invalid entries are all reported", t, func() {
		const bad = `
buses:
  can0: {type: can}
  weird: {type: usb}
  uart: {type: serial}
motors:
  a: {bus: can0, id: 1, controlMode: CURRENT_BRAKE}
  b: {bus: nowhere, id: 2}
  c: {bus: can0, id: 300}
  d: {bus: can0, id: 4, name: e}
  e: {bus: can0, id: 4}
  f: {bus: can0, id: 5, controlMode: DUTY, rpm: 100}
`
		c, err := Parse([]byte(bad))
		So(c, ShouldNotBeNil)
		So(err, ShouldNotBeNil)

		for _, want := range []error{
			ErrUnknownBusType, ErrNoDevice, ErrInvalidMode, ErrUnknownBus,
			ErrIDRange, ErrDuplicateName, ErrDuplicateID, ErrSetPoint,
		} {
			So(errors.Is(err, want), ShouldBeTrue)
		}

		var ce *ConfigError
		So(errors.As(err, &ce), ShouldBeTrue)
		So(ce.Item, ShouldStartWith, "bus ")
	})

	Convey("malformed yaml fails to parse", t, func() {
		_, err := Parse([]byte("buses: [1, 2"))
		So(err, ShouldNotBeNil)
	})
}

func TestEnv(t *testing.T) {
	Convey("defaults without environment", t, func() {
		e, err := LoadEnv()
		So(err, ShouldBeNil)
		So(e.ConfigPath, ShouldEqual, "multivesc.yaml")
		So(e.MQTTPrefix, ShouldEqual, "multivesc")
		l, err := e.Level()
		So(err, ShouldBeNil)
		So(l, ShouldEqual, slog.LevelInfo)
	})

	Convey("values come from the environment", t, func() {
		t.Setenv("MULTIVESC_CONFIG", "/etc/multivesc.json")
		t.Setenv("MULTIVESC_LOG_LEVEL", "debug")
		t.Setenv("MULTIVESC_HTTP_ADDR", ":8080")
		e, err := LoadEnv()
		So(err, ShouldBeNil)
		So(e.ConfigPath, ShouldEqual, "/etc/multivesc.json")
		So(e.HTTPAddr, ShouldEqual, ":8080")
		l, err := e.Level()
		So(err, ShouldBeNil)
		So(l, ShouldEqual, slog.LevelDebug)

		e.LogLevel = "loud"
		_, err = e.Level()
		So(err, ShouldNotBeNil)
	})
}
