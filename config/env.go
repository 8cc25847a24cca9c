package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v6"
)

// Env is the process environment understood by the multivesc command.
type Env struct {
	ConfigPath string `env:"MULTIVESC_CONFIG" envDefault:"multivesc.yaml"`
	LogLevel   string `env:"MULTIVESC_LOG_LEVEL" envDefault:"info"`
	MQTTBroker string `env:"MULTIVESC_MQTT_BROKER"`
	MQTTPrefix string `env:"MULTIVESC_MQTT_PREFIX" envDefault:"multivesc"`
	HTTPAddr   string `env:"MULTIVESC_HTTP_ADDR"`
}

// LoadEnv parses Env from the environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("config: env: %w", err)
	}
	return e, nil
}

// Level parses LogLevel ("debug", "info", "warn", "error").
func (e Env) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: MULTIVESC_LOG_LEVEL: %w", err)
	}
	return l, nil
}
