package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publish hands a message to paho and returns without waiting for the broker.
//
// Parameters:
//   - id: Caller's message ID. When non-empty, OnPublishComplete is called
//     with it once the publish completes. Empty means nobody is waiting.
//   - topic: The topic to publish to (e.g., "telemetry/sensor_1/temp")
//   - payload: The message payload (max Options.MaxPayload)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: nil if the message was handed to paho, or the reason it was not
//
// Example:
//
//	err := client.Publish(rec.ID, "telemetry/sensor_1/temp", []byte("21.5"), 1, false)
func (c *Client) Publish(id, topic string, payload []byte, qos byte, retained bool) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if limit := c.opts.maxPayload(); len(payload) > limit {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPayloadTooLarge, len(payload), limit)
	}

	// Check connection state
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	go c.awaitPublish(id, topic, token)

	return nil
}

// awaitPublish waits for token and reports the outcome through the dispatcher.
func (c *Client) awaitPublish(id, topic string, token pahomqtt.Token) {
	select {
	case <-token.Done():
	case <-c.closed:
		return
	}

	err := token.Error()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	if id == "" {
		if err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT system publish failed", "topic", topic, "error", err)
			}
		}
		return
	}

	if c.cb.OnPublishComplete == nil {
		return
	}
	c.dispatch.enqueue(func() {
		c.cb.OnPublishComplete(id, err)
	})
}
