package mqtt

import "fmt"

// Topic prefixes used by the tracker.
const (
	// TopicPrefixEgress is the base for telemetry published by a device.
	TopicPrefixEgress = "/egress"

	// TopicPrefixStatus is the base for retained online/offline presence.
	TopicPrefixStatus = "/status"
)

// Topics provides builders for tracker MQTT topics.
//
//	topic := mqtt.Topics{}.Egress("AA:BB:CC:DD:EE:FF")
//	// Returns: "/egress/AA:BB:CC:DD:EE:FF"
type Topics struct{}

// Egress returns the telemetry topic for a device.
//
// Example: /egress/AA:BB:CC:DD:EE:FF
func (Topics) Egress(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEgress, deviceID)
}

// Status returns the presence topic for a device. The broker publishes the
// last will here if the session drops without a clean disconnect.
//
// Example: /status/AA:BB:CC:DD:EE:FF
func (Topics) Status(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixStatus, deviceID)
}
