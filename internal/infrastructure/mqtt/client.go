package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/config"
)

// ClientFactory creates the underlying paho client. It is replaced in tests.
type ClientFactory func(opts *pahomqtt.ClientOptions) pahomqtt.Client

// Client is the broker session manager.
//
// It owns the single paho client, routes its asynchronous connection
// events into a State, and publishes telemetry for the delivery worker.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Start may be called any number of times; one paho client is ever created.
type Client struct {
	cfg      config.MQTTConfig
	deviceID string
	clientID string
	topic    string

	newClient ClientFactory
	store     pahomqtt.Store

	// client is nil until Start succeeds.
	client   pahomqtt.Client
	clientMu sync.RWMutex

	state State

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger defines the logging interface for the session manager.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// New creates a session manager for a device. Nothing is dialled until Start.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - deviceID: Device identity; fixes the egress topic for the session's lifetime
func New(cfg config.MQTTConfig, deviceID string) *Client {
	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = ClientID(deviceID)
	}

	return &Client{
		cfg:       cfg,
		deviceID:  deviceID,
		clientID:  clientID,
		topic:     Topics{}.Egress(deviceID),
		newClient: pahomqtt.NewClient,
		logger:    noopLogger{},
	}
}

// Start creates the paho client, registers the event handlers and begins
// connecting in the background. It does not wait for the broker.
//
// Calling Start again after it succeeded logs and returns nil.
//
// Returns:
//   - error: ErrConnectionFailed if the client cannot be created or the
//     connect request is rejected immediately
func (c *Client) Start() error {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()

	if c.client != nil {
		c.getLogger().Info("session already started", "client_id", c.clientID)
		return nil
	}

	opts := buildClientOptions(c.cfg, c.clientID)
	configureLWT(opts, c.deviceID, byte(c.cfg.QoS))
	if c.store != nil {
		opts.SetStore(c.store)
	}

	opts.SetConnectionAttemptHandler(func(broker *url.URL, tlsCfg *tls.Config) *tls.Config {
		c.HandleEvent(Event{Kind: EventConnecting, Broker: broker.String()})
		return tlsCfg
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.HandleEvent(Event{Kind: EventConnected})
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.HandleEvent(Event{Kind: EventDisconnected, Err: err})
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.HandleEvent(Event{Kind: EventReconnecting})
	})

	client := c.newClient(opts)
	if client == nil {
		return fmt.Errorf("%w: client factory returned nil", ErrConnectionFailed)
	}

	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	default:
		go c.watchConnect(token)
	}

	c.client = client
	c.getLogger().Info("session started",
		"broker", brokerURL(c.cfg),
		"client_id", c.clientID,
		"topic", c.topic,
	)
	return nil
}

// watchConnect reports the outcome of the background connect request.
func (c *Client) watchConnect(token pahomqtt.Token) {
	<-token.Done()
	if err := token.Error(); err != nil {
		c.getLogger().Warn("broker connect request ended", "error", err)
	}
}

// HandleEvent routes a session event. Connected and disconnected events
// update the connectivity flag; every other event is only logged.
func (c *Client) HandleEvent(ev Event) {
	changed := c.state.Apply(ev)
	logger := c.getLogger()

	switch ev.Kind {
	case EventConnected:
		logger.Info("session connected", "client_id", c.clientID)
		if changed {
			c.publishPresence("online", "")
		}
		c.callbackMu.RLock()
		callback := c.onConnect
		c.callbackMu.RUnlock()
		if callback != nil {
			callback()
		}

	case EventDisconnected:
		logger.Warn("session disconnected", "error", ev.Err)
		c.callbackMu.RLock()
		callback := c.onDisconnect
		c.callbackMu.RUnlock()
		if callback != nil {
			callback(ev.Err)
		}

	case EventConnecting:
		logger.Debug("session event", "event", ev.Kind.String(), "broker", ev.Broker)

	default:
		logger.Debug("session event", "event", ev.Kind.String())
	}
}

// publishPresence publishes a retained presence message without waiting.
func (c *Client) publishPresence(status, reason string) pahomqtt.Token {
	client := c.getClient()
	if client == nil {
		return nil
	}
	return client.Publish(Topics{}.Status(c.deviceID), byte(c.cfg.QoS), true,
		buildPresencePayload(c.deviceID, status, reason))
}

// Close gracefully ends the session.
//
// It performs:
//  1. Publishes graceful offline status (different from LWT crash status)
//  2. Disconnects, letting pending operations finish within the quiesce period
//
// Returns:
//   - error: Always nil; a session that was never started is not an error
func (c *Client) Close() error {
	client := c.getClient()
	if client == nil {
		return nil
	}

	if c.IsConnected() {
		if token := c.publishPresence("offline", "graceful_shutdown"); token != nil {
			token.WaitTimeout(defaultPublishTimeout)
		}
	}

	client.Disconnect(defaultDisconnectQuiesce)
	c.state.Apply(Event{Kind: EventDisconnected})

	return nil
}

// HealthCheck verifies the session is connected.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if c.getClient() == nil {
		return ErrNotStarted
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the connectivity derived from session events.
// A disconnect may race with a caller that has just read true.
func (c *Client) IsConnected() bool {
	return c.state.Connected()
}

// Status returns a snapshot of the session state.
func (c *Client) Status() StateSnapshot {
	return c.state.Snapshot()
}

// Started reports whether Start has succeeded.
func (c *Client) Started() bool {
	return c.getClient() != nil
}

// Topic returns the egress topic fixed at construction.
func (c *Client) Topic() string {
	return c.topic
}

// DeviceID returns the device identity the session publishes for.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// SetStore sets the in-flight message store. It must be called before Start.
func (c *Client) SetStore(store pahomqtt.Store) {
	c.clientMu.Lock()
	c.store = store
	c.clientMu.Unlock()
}

// SetClientFactory replaces the paho client constructor. It must be called
// before Start.
func (c *Client) SetClientFactory(factory ClientFactory) {
	c.clientMu.Lock()
	c.newClient = factory
	c.clientMu.Unlock()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger. A nil logger disables logging.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) getClient() pahomqtt.Client {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	return c.client
}
