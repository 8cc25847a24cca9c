// Package mqttpub forwards motor telemetry to an MQTT broker, one topic per
// motor and field: <prefix>/<motor>/<field>.
package mqttpub

import (
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/notnil/multivesc/motor"
)

// Publisher is the part of mqtt.Client used here.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Dial connects to broker (for example "tcp://localhost:1883") and keeps
// reconnecting in the background once connected. An empty clientID gets a
// random one.
func Dial(broker, clientID string, timeout time.Duration, logger *slog.Logger) (mqtt.Client, error) {
	if clientID == "" {
		clientID = "multivesc-" + uuid.NewString()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqttpub: connect %s: timed out after %s", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttpub: connect %s: %w", broker, err)
	}
	return client, nil
}

// Telemetry publishes telemetry callbacks.
type Telemetry struct {
	pub      Publisher
	prefix   string
	qos      byte
	retained bool
	logger   *slog.Logger
}

type Option func(*Telemetry)

func WithQoS(qos byte) Option          { return func(t *Telemetry) { t.qos = qos } }
func WithRetained(on bool) Option      { return func(t *Telemetry) { t.retained = on } }
func WithLogger(l *slog.Logger) Option { return func(t *Telemetry) { t.logger = l } }

func New(pub Publisher, prefix string, opts ...Option) *Telemetry {
	t := &Telemetry{pub: pub, prefix: prefix, logger: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Topic returns the topic a field of the named motor is published on.
func (t *Telemetry) Topic(motorName string, v motor.Value) string {
	return path.Join(t.prefix, motorName, v.String())
}

// Attach installs a callback on m that publishes every field, then calls
// next if it is not nil. It replaces any callback already on m.
func (t *Telemetry) Attach(m *motor.Motor, next motor.TelemetryFunc) {
	name := m.Name()
	if name == "" {
		name = strconv.Itoa(int(m.ID()))
	}
	m.OnTelemetry(func(v motor.Value, x float64) {
		t.publish(name, v, x)
		if next != nil {
			next(v, x)
		}
	})
}

// AttachAll attaches every motor in ms.
func (t *Telemetry) AttachAll(ms []*motor.Motor) {
	for _, m := range ms {
		t.Attach(m, nil)
	}
}

// publish runs on the bus receive goroutine, so it never waits on the
// broker. Only failures that are already known are logged.
func (t *Telemetry) publish(name string, v motor.Value, x float64) {
	topic := t.Topic(name, v)
	tok := t.pub.Publish(topic, t.qos, t.retained, strconv.FormatFloat(x, 'g', -1, 64))
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			t.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
		}
	default:
	}
}
