package mqtt

import (
	"log"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Publisher is the outbound half of the message bus. Publishes are
// fire-and-forget: there is no delivery acknowledgment channel in this
// design, so failures are logged and never surfaced to callers.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// MessageHandler receives one inbound bus message.
type MessageHandler func(topic string, payload []byte)

// Client wraps the paho client with the publish/subscribe shape the rest of
// the backend uses.
type Client struct {
	c MQTT.Client
}

// NewClient connects to the broker. The client id gets a random suffix so
// multiple backend instances never kick each other off the broker.
func NewClient(broker, clientID string) (*Client, error) {
	opts := MQTT.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true)
	c := MQTT.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Client{c: c}, nil
}

// Publish sends one message at QoS 1, fire-and-forget.
func (c *Client) Publish(topic string, payload []byte) {
	token := c.c.Publish(topic, 1, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT: Publish to %s failed: %v", topic, token.Error())
		}
	}()
}

// Subscribe registers a handler for a topic filter. Each message is handed to
// the handler on its own goroutine: paho delivers callbacks on a single
// dispatch goroutine, and a handler doing slow I/O for one device must not
// stall delivery for every other device. Per-device ordering is the handler's
// concern (the uplink dispatcher serializes on the device key).
func (c *Client) Subscribe(filter string, handler MessageHandler) error {
	token := c.c.Subscribe(filter, 1, func(_ MQTT.Client, msg MQTT.Message) {
		go handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("MQTT: Subscribed to %s", filter)
	return nil
}

// Disconnect closes the connection after waiting quiesceMs for in-flight work.
func (c *Client) Disconnect(quiesceMs uint) {
	c.c.Disconnect(quiesceMs)
}
