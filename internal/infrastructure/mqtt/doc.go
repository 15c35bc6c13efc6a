// Package mqtt manages the tracker's broker session.
//
// This package manages:
//   - One paho client per process, started idempotently
//   - Routing of asynchronous connection events into a connectivity flag
//   - Telemetry publishing at QoS 1 with the retained flag
//   - Last Will and Testament on the device's presence topic
//   - A badger-backed store for unacknowledged QoS 1 packets
//
// # Architecture
//
//	producer → delivery.Queue → delivery.Worker → mqtt.Client → broker
//
// The delivery worker reads IsConnected before each publish. paho raises
// connect and connection-lost events on its own goroutines; HandleEvent is
// the single place they change state.
//
// # Usage
//
//	session := mqtt.New(cfg.MQTT, deviceID)
//	session.SetStore(mqtt.NewBadgerStore(cfg.MQTT.Store.Path))
//	if err := session.Start(); err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	err := session.Publish(session.Topic(), payload)
//
// Broker-backed tests are tagged "integration" and expect a broker at
// 127.0.0.1:1883.
package mqtt
