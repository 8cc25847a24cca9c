package mqttpub

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"gotest.tools/v3/assert"

	"github.com/notnil/multivesc/motor"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, message{topic, qos, retained, payload.(string)})
	return newDoneToken(p.err)
}

func TestAttachPublishesFields(t *testing.T) {
	pub := &fakePublisher{}
	tel := New(pub, "plant/vesc", WithQoS(1), WithRetained(true))

	m, err := motor.New(motor.DefaultConfig("atomiser1", 1))
	assert.NilError(t, err)

	var forwarded []motor.Value
	tel.Attach(m, func(v motor.Value, x float64) { forwarded = append(forwarded, v) })

	m.SetStatus5(120, 24.5)

	assert.DeepEqual(t, pub.msgs, []message{
		{"plant/vesc/atomiser1/tachometer", 1, true, "120"},
		{"plant/vesc/atomiser1/v_in", 1, true, "24.5"},
	})
	assert.DeepEqual(t, forwarded, []motor.Value{motor.ValueTachometer, motor.ValueVIn})
}

func TestAttachPlaceholderUsesID(t *testing.T) {
	pub := &fakePublisher{}
	tel := New(pub, "vesc")
	m := motor.NewPlaceholder(12)
	tel.AttachAll([]*motor.Motor{m})

	m.SetStatus(1000, 0, 0)
	assert.Equal(t, len(pub.msgs), 3)
	assert.Equal(t, pub.msgs[0].Topic, "vesc/12/erpm")
	assert.Equal(t, pub.msgs[0].QoS, byte(0))
}

func TestPublishErrorDoesNotStopCallbacks(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	tel := New(pub, "vesc")
	m, err := motor.New(motor.DefaultConfig("m", 1))
	assert.NilError(t, err)

	calls := 0
	tel.Attach(m, func(motor.Value, float64) { calls++ })
	m.SetStatus2(1, 2)
	assert.Equal(t, calls, 2)
	assert.Equal(t, len(pub.msgs), 2)
}

func TestTopic(t *testing.T) {
	tel := New(&fakePublisher{}, "a/b/")
	assert.Equal(t, tel.Topic("m", motor.ValueTempFET), "a/b/m/temp_fet")
}
