package mqtt

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/config"
)

// MaxClientIDLength is the client identifier length every MQTT 3.1.1
// broker must accept.
const MaxClientIDLength = 23

const clientIDPrefix = "tracker-"

// Connection constants.
const (
	// defaultConnectTimeout bounds a single dial to the broker.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds the presence publish on Close.
	defaultPublishTimeout = 5 * time.Second

	// defaultAckWatch bounds how long a background goroutine waits for a
	// publish acknowledgment before giving up on reporting it.
	defaultAckWatch = 30 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is used when the config leaves keep_alive unset.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// ClientID derives the MQTT client identifier from the device identity.
// The colons of a MAC-style identity are removed. An identity that still
// does not fit in MaxClientIDLength is replaced by a prefix of its SHA-256
// so the identifier stays stable per device.
func ClientID(deviceID string) string {
	id := clientIDPrefix + strings.ReplaceAll(deviceID, ":", "")
	if len(id) <= MaxClientIDLength {
		return id
	}
	sum := sha256.Sum256([]byte(deviceID))
	return clientIDPrefix + hex.EncodeToString(sum[:])[:MaxClientIDLength-len(clientIDPrefix)]
}

// brokerURL returns the broker address from config.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions creates paho MQTT options from the tracker config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff, including the first connect
//   - TLS configuration (if enabled)
//   - A persistent session when in-flight messages are kept on disk
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// The broker only resends unacknowledged QoS 1 packets for a
	// persistent session, so keep it when the store survives restarts.
	opts.SetCleanSession(cfg.Store.Path == "")

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// Topic: /status/<device-id>
// Retained: true (new subscribers see last status)
func configureLWT(opts *pahomqtt.ClientOptions, deviceID string, qos byte) {
	opts.SetWill(Topics{}.Status(deviceID), buildPresencePayload(deviceID, "offline", "unexpected_disconnect"), qos, true)
}

// buildPresencePayload creates the JSON payload for presence messages.
// An empty reason is omitted.
func buildPresencePayload(deviceID, status, reason string) string {
	if reason == "" {
		return fmt.Sprintf(
			`{"status":"%s","device_id":"%s","timestamp":"%s"}`,
			status, deviceID, time.Now().UTC().Format(time.RFC3339),
		)
	}
	return fmt.Sprintf(
		`{"status":"%s","device_id":"%s","reason":"%s","timestamp":"%s"}`,
		status, deviceID, reason, time.Now().UTC().Format(time.RFC3339),
	)
}
