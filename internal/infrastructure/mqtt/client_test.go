package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/config"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/mqtt/mqtttest"
)

const testDeviceID = "AA:BB:CC:DD:EE:FF"

// testConfig returns the factory MQTT settings pointed at a local broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host: "127.0.0.1",
			Port: 1883,
		},
		QoS:    1,
		Retain: true,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// newFakeSession returns a session whose paho client is an in-memory fake.
func newFakeSession(t *testing.T, cfg config.MQTTConfig) (*Client, *mqtttest.Factory) {
	t.Helper()
	factory := &mqtttest.Factory{}
	c := New(cfg, testDeviceID)
	c.SetClientFactory(factory.New)
	return c, factory
}

func startConnected(t *testing.T, cfg config.MQTTConfig) (*Client, *mqtttest.Client) {
	t.Helper()
	c, factory := newFakeSession(t, cfg)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake := factory.Last()
	fake.SimulateConnect()
	return c, fake
}

// =============================================================================
// Start
// =============================================================================

func TestNew_DerivesIdentity(t *testing.T) {
	c := New(testConfig(), testDeviceID)

	if got, want := c.Topic(), "/egress/AA:BB:CC:DD:EE:FF"; got != want {
		t.Errorf("Topic() = %q, want %q", got, want)
	}
	if got, want := c.clientID, "tracker-AABBCCDDEEFF"; got != want {
		t.Errorf("clientID = %q, want %q", got, want)
	}
	if c.Started() || c.IsConnected() {
		t.Error("new session should be neither started nor connected")
	}
}

func TestClientID(t *testing.T) {
	long := "tracker-unit-in-warehouse-7"

	tests := []struct {
		name     string
		deviceID string
		want     string
	}{
		{"mac", testDeviceID, "tracker-AABBCCDDEEFF"},
		{"short id", "TRK-01", "tracker-TRK-01"},
		{"exactly fits", "ABCDEFGHIJKLMNO", "tracker-ABCDEFGHIJKLMNO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClientID(tt.deviceID); got != tt.want {
				t.Errorf("ClientID(%q) = %q, want %q", tt.deviceID, got, tt.want)
			}
		})
	}

	got := ClientID(long)
	if len(got) != MaxClientIDLength || !strings.HasPrefix(got, "tracker-") {
		t.Errorf("ClientID(%q) = %q, want %d characters with the tracker- prefix", long, got, MaxClientIDLength)
	}
	if again := ClientID(long); again != got {
		t.Errorf("ClientID is not stable: %q then %q", got, again)
	}
	if other := ClientID(long + "x"); other == got {
		t.Errorf("distinct identities share client id %q", got)
	}
}

func TestNew_ExplicitClientID(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "bench-unit"

	if got := New(cfg, testDeviceID).clientID; got != "bench-unit" {
		t.Errorf("clientID = %q, want bench-unit", got)
	}
}

func TestStart_Idempotent(t *testing.T) {
	c, factory := newFakeSession(t, testConfig())

	for i := 0; i < 3; i++ {
		if err := c.Start(); err != nil {
			t.Fatalf("Start() call %d error = %v", i+1, err)
		}
	}

	if factory.Count() != 1 {
		t.Errorf("clients created = %d, want 1", factory.Count())
	}
	if calls := factory.Last().ConnectCalls(); calls != 1 {
		t.Errorf("Connect calls = %d, want 1", calls)
	}
	if !c.Started() {
		t.Error("Started() = false after Start")
	}
}

func TestStart_ConfiguresOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "tracker", Password: "pw"}
	c, factory := newFakeSession(t, cfg)
	store := NewBadgerStore("")
	c.SetStore(store)

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	opts := factory.Last().Options()
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "tracker-AABBCCDDEEFF" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "tracker" || opts.Password != "pw" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("auto-reconnect and connect-retry must be enabled")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false without a persistent store path")
	}
	if !opts.WillEnabled || opts.WillTopic != "/status/AA:BB:CC:DD:EE:FF" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if !strings.Contains(string(opts.WillPayload), `"status":"offline"`) {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
	if opts.Store != store {
		t.Error("in-flight store not installed")
	}
	if opts.OnConnect == nil || opts.OnConnectionLost == nil || opts.OnReconnecting == nil || opts.OnConnectAttempt == nil {
		t.Error("event handlers not registered")
	}
}

func TestStart_PersistentStoreKeepsSession(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Path = t.TempDir()
	c, factory := newFakeSession(t, cfg)

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if factory.Last().Options().CleanSession {
		t.Error("CleanSession = true with a persistent store path")
	}
}

func TestStart_ImmediateConnectFailure(t *testing.T) {
	factory := &mqtttest.Factory{
		Configure: func(c *mqtttest.Client) {
			c.ConnectToken = mqtttest.CompletedToken(errors.New("unsupported scheme"))
		},
	}
	c := New(testConfig(), testDeviceID)
	c.SetClientFactory(factory.New)

	err := c.Start()
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Start() error = %v, want ErrConnectionFailed", err)
	}
	if c.Started() {
		t.Error("Started() = true after a failed Start")
	}
}

// =============================================================================
// Event routing
// =============================================================================

func TestHandleEvent_Routing(t *testing.T) {
	c, fake := startConnected(t, testConfig())

	if !c.IsConnected() {
		t.Fatal("IsConnected() = false after connect event")
	}

	// Non-state events leave connectivity untouched.
	fake.SimulateReconnecting()
	c.HandleEvent(Event{Kind: EventConnecting, Broker: "tcp://127.0.0.1:1883"})
	if !c.IsConnected() {
		t.Error("IsConnected() changed on a non-state event")
	}

	fake.SimulateConnectionLost(nil)
	if c.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}

	fake.SimulateConnect()
	if !c.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
	if got := c.Status().Transitions; got != 3 {
		t.Errorf("Transitions = %d, want 3", got)
	}
}

func TestHandleEvent_PublishesPresenceOnConnect(t *testing.T) {
	_, fake := startConnected(t, testConfig())

	status := fake.PublishedTo("/status/AA:BB:CC:DD:EE:FF")
	if len(status) != 1 {
		t.Fatalf("presence publishes = %d, want 1", len(status))
	}
	if !status[0].Retained || !strings.Contains(string(status[0].Payload), `"status":"online"`) {
		t.Errorf("presence = %+v", status[0])
	}
}

func TestHandleEvent_Callbacks(t *testing.T) {
	c, factory := newFakeSession(t, testConfig())

	var connects, disconnects atomic.Int32
	var lastErr atomic.Value
	c.SetOnConnect(func() { connects.Add(1) })
	c.SetOnDisconnect(func(err error) {
		disconnects.Add(1)
		lastErr.Store(err)
	})

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake := factory.Last()
	fake.SimulateConnect()
	fake.SimulateConnectionLost(nil)

	if connects.Load() != 1 || disconnects.Load() != 1 {
		t.Errorf("callbacks connect=%d disconnect=%d, want 1/1", connects.Load(), disconnects.Load())
	}
	if err, _ := lastErr.Load().(error); !errors.Is(err, mqtttest.ErrDisconnected) {
		t.Errorf("disconnect reason = %v", err)
	}
}

func TestState_Apply(t *testing.T) {
	var s State

	tests := []struct {
		ev          EventKind
		wantChanged bool
		wantConn    bool
	}{
		{EventConnecting, false, false},
		{EventDisconnected, false, false},
		{EventConnected, true, true},
		{EventConnected, false, true},
		{EventReconnecting, false, true},
		{EventDisconnected, true, false},
	}
	for i, tt := range tests {
		if changed := s.Apply(Event{Kind: tt.ev}); changed != tt.wantChanged {
			t.Errorf("step %d Apply(%s) changed = %v, want %v", i, tt.ev, changed, tt.wantChanged)
		}
		if s.Connected() != tt.wantConn {
			t.Errorf("step %d Connected() = %v, want %v", i, s.Connected(), tt.wantConn)
		}
	}
}

func TestEventKind_String(t *testing.T) {
	tests := map[EventKind]string{
		EventConnecting:   "connecting",
		EventConnected:    "connected",
		EventDisconnected: "disconnected",
		EventReconnecting: "reconnecting",
		EventKind(99):     "unknown",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("EventKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

// =============================================================================
// Publish
// =============================================================================

func TestPublish_UsesConfiguredQoSAndRetain(t *testing.T) {
	c, fake := startConnected(t, testConfig())

	if err := c.Publish(c.Topic(), []byte("payload")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msgs := fake.PublishedTo(c.Topic())
	if len(msgs) != 1 {
		t.Fatalf("egress publishes = %d, want 1", len(msgs))
	}
	if msgs[0].QoS != 1 || !msgs[0].Retained || string(msgs[0].Payload) != "payload" {
		t.Errorf("published %+v, want QoS 1 retained payload", msgs[0])
	}
}

func TestPublish_Validation(t *testing.T) {
	c, _ := startConnected(t, testConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"wildcard topic", "/egress/+", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "/egress/x", []byte("x"), 3, ErrInvalidQoS},
		{"oversized", "/egress/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.PublishWith(tt.topic, tt.payload, tt.qos, true); !errors.Is(err, tt.want) {
				t.Errorf("PublishWith() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublish_NotStartedAndDisconnected(t *testing.T) {
	c, factory := newFakeSession(t, testConfig())

	if err := c.Publish(c.Topic(), []byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Publish() before Start error = %v, want ErrNotStarted", err)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Publish(c.Topic(), []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() while disconnected error = %v, want ErrNotConnected", err)
	}
	if n := len(factory.Last().PublishedTo(c.Topic())); n != 0 {
		t.Errorf("egress publishes = %d, want 0", n)
	}
}

func TestPublish_ImmediateTransportError(t *testing.T) {
	c, fake := startConnected(t, testConfig())
	transportErr := errors.New("write: broken pipe")
	fake.PublishToken = func(mqtttest.Message) *mqtttest.Token {
		return mqtttest.CompletedToken(transportErr)
	}

	err := c.Publish(c.Topic(), []byte("x"))
	if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, transportErr) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed wrapping transport error", err)
	}
}

func TestPublish_PendingAckReturnsWithoutWaiting(t *testing.T) {
	c, fake := startConnected(t, testConfig())
	pending := mqtttest.NewToken()
	fake.PublishToken = func(mqtttest.Message) *mqtttest.Token { return pending }

	done := make(chan error, 1)
	go func() { done <- c.Publish(c.Topic(), []byte("x")) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Publish() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a pending acknowledgment")
	}
	pending.Complete(nil)
}

func TestPublish_AckTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.AckTimeout = 20
	c, fake := startConnected(t, cfg)
	fake.PublishToken = func(mqtttest.Message) *mqtttest.Token { return mqtttest.NewToken() }

	err := c.Publish(c.Topic(), []byte("x"))
	if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, ErrTimeout) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed and ErrTimeout", err)
	}
}

// =============================================================================
// Close and health
// =============================================================================

func TestClose_PublishesOfflineAndDisconnects(t *testing.T) {
	c, fake := startConnected(t, testConfig())

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	status := fake.PublishedTo("/status/AA:BB:CC:DD:EE:FF")
	if len(status) != 2 || !strings.Contains(string(status[1].Payload), "graceful_shutdown") {
		t.Errorf("presence publishes = %+v", status)
	}
	if fake.DisconnectCalls() != 1 {
		t.Errorf("Disconnect calls = %d, want 1", fake.DisconnectCalls())
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestClose_NotStarted(t *testing.T) {
	c := New(testConfig(), testDeviceID)
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unstarted session error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c, factory := newFakeSession(t, testConfig())
	ctx := context.Background()

	if err := c.HealthCheck(ctx); !errors.Is(err, ErrNotStarted) {
		t.Errorf("HealthCheck() before Start = %v, want ErrNotStarted", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.HealthCheck(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() disconnected = %v, want ErrNotConnected", err)
	}
	factory.Last().SimulateConnect()
	if err := c.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() connected = %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := c.HealthCheck(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() cancelled = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Topics
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Egress", topics.Egress("ESP_01"), "/egress/ESP_01"},
		{"Egress MAC", topics.Egress(testDeviceID), "/egress/AA:BB:CC:DD:EE:FF"},
		{"Status", topics.Status("ESP_01"), "/status/ESP_01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}
