package mqtt

import (
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends payload to topic at the configured QoS and retain flag
// (QoS 1, retained, by default). It satisfies delivery.Session.
//
// With mqtt.ack_timeout unset the call returns once the packet is handed to
// the transport and a late failure is only logged.
func (c *Client) Publish(topic string, payload []byte) error {
	return c.PublishWith(topic, payload, byte(c.cfg.QoS), c.cfg.Retain)
}

// PublishWith sends a message with an explicit QoS and retain flag.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "/egress/AA:BB:CC:DD:EE:FF")
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) PublishWith(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	client := c.getClient()
	if client == nil {
		return ErrNotStarted
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)

	if c.cfg.AckTimeout > 0 {
		timeout := time.Duration(c.cfg.AckTimeout) * time.Millisecond
		if !token.WaitTimeout(timeout) {
			return fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, timeout)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		return nil
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
	default:
		go c.watchPublish(topic, token)
	}
	return nil
}

// watchPublish logs a publish that fails after Publish has returned.
func (c *Client) watchPublish(topic string, token pahomqtt.Token) {
	if !token.WaitTimeout(defaultAckWatch) {
		c.getLogger().Debug("publish acknowledgment still pending", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		c.getLogger().Error("publish failed after hand-off", "topic", topic, "error", err)
	}
}
