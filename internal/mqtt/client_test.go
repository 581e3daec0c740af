package mqtt

import (
	"sync"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Error() error                   { return nil }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakePaho captures the callback Subscribe registers so tests can feed
// messages through it directly.
type fakePaho struct {
	MQTT.Client

	mu       sync.Mutex
	callback MQTT.MessageHandler
}

func (f *fakePaho) Subscribe(topic string, qos byte, cb MQTT.MessageHandler) MQTT.Token {
	f.mu.Lock()
	f.callback = cb
	f.mu.Unlock()
	return fakeToken{}
}

func (f *fakePaho) deliver(msg MQTT.Message) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	cb(nil, msg)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestSubscribeDoesNotBlockAcrossMessages(t *testing.T) {
	paho := &fakePaho{}
	client := &Client{c: paho}

	// The first device's handler sits in slow I/O until released. The second
	// device's message must still get through while it is stuck.
	release := make(chan struct{})
	handled := make(chan string, 2)
	err := client.Subscribe("ac/+/+/status", func(topic string, payload []byte) {
		if topic == "ac/user_1/dev_a/status" {
			<-release
		}
		handled <- topic
	})
	require.NoError(t, err)

	paho.deliver(&fakeMessage{topic: "ac/user_1/dev_a/status", payload: []byte(`{}`)})
	paho.deliver(&fakeMessage{topic: "ac/user_1/dev_b/status", payload: []byte(`{}`)})

	select {
	case topic := <-handled:
		assert.Equal(t, "ac/user_1/dev_b/status", topic)
	case <-time.After(time.Second):
		t.Fatal("second device's message stalled behind the first's handler")
	}

	close(release)
	select {
	case topic := <-handled:
		assert.Equal(t, "ac/user_1/dev_a/status", topic)
	case <-time.After(time.Second):
		t.Fatal("released handler never finished")
	}
}
