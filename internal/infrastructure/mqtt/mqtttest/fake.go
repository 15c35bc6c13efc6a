// Package mqtttest provides an in-memory stand-in for the paho client so
// session behaviour can be tested without a broker.
package mqtttest

import (
	"errors"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrDisconnected is the reason passed to the connection-lost handler by
// SimulateConnectionLost when none is given.
var ErrDisconnected = errors.New("mqtttest: connection lost")

// Token is a controllable paho token.
type Token struct {
	once sync.Once
	done chan struct{}
	err  error
}

var _ pahomqtt.Token = (*Token)(nil)

// NewToken returns a pending token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// CompletedToken returns a token that has already finished with err.
func CompletedToken(err error) *Token {
	t := NewToken()
	t.Complete(err)
	return t
}

// Complete finishes the token. Later calls are ignored.
func (t *Token) Complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Wait blocks until the token completes.
func (t *Token) Wait() bool {
	<-t.done
	return true
}

// WaitTimeout blocks until the token completes or d elapses.
func (t *Token) WaitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed on completion.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Error returns the completion error, or nil while pending.
func (t *Token) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Message is one recorded publish.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client is a fake pahomqtt.Client. Connection events are raised explicitly
// with the Simulate methods, which invoke the handlers registered in the
// options the client was created with.
type Client struct {
	opts *pahomqtt.ClientOptions

	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	published   []Message

	// ConnectToken is returned from Connect. Nil means a pending token.
	ConnectToken *Token

	// PublishToken, when set, builds the token returned for each publish.
	// Nil completes every publish successfully.
	PublishToken func(m Message) *Token
}

var _ pahomqtt.Client = (*Client)(nil)

// NewClient returns a fake client for opts.
func NewClient(opts *pahomqtt.ClientOptions) *Client {
	return &Client{opts: opts}
}

// Factory records every client it creates.
type Factory struct {
	mu      sync.Mutex
	clients []*Client

	// Configure, when set, is applied to each new client.
	Configure func(c *Client)
}

// New creates and records a fake client. Its signature matches paho's NewClient.
func (f *Factory) New(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	c := NewClient(opts)
	if f.Configure != nil {
		f.Configure(c)
	}
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c
}

// Count returns how many clients were created.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Last returns the most recently created client, or nil.
func (f *Factory) Last() *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

// IsConnected reports the simulated connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsConnectionOpen reports the simulated connection state.
func (c *Client) IsConnectionOpen() bool {
	return c.IsConnected()
}

// Connect records the call and returns ConnectToken. No handler runs.
func (c *Client) Connect() pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.ConnectToken != nil {
		return c.ConnectToken
	}
	return NewToken()
}

// Disconnect records the call and marks the client disconnected.
func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.connected = false
}

// Publish records the message.
func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	}
	m := Message{Topic: topic, QoS: qos, Retained: retained, Payload: data}

	c.mu.Lock()
	c.published = append(c.published, m)
	build := c.PublishToken
	c.mu.Unlock()

	if build != nil {
		return build(m)
	}
	return CompletedToken(nil)
}

// Subscribe is accepted and ignored.
func (c *Client) Subscribe(string, byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return CompletedToken(nil)
}

// SubscribeMultiple is accepted and ignored.
func (c *Client) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return CompletedToken(nil)
}

// Unsubscribe is accepted and ignored.
func (c *Client) Unsubscribe(...string) pahomqtt.Token {
	return CompletedToken(nil)
}

// AddRoute is accepted and ignored.
func (c *Client) AddRoute(string, pahomqtt.MessageHandler) {}

// OptionsReader returns a reader over the options the client was built with.
func (c *Client) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(c.opts)
}

// Options returns the options the client was built with.
func (c *Client) Options() *pahomqtt.ClientOptions {
	return c.opts
}

// SimulateConnect marks the client connected and runs the on-connect handler.
func (c *Client) SimulateConnect() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
}

// SimulateConnectionLost marks the client disconnected and runs the
// connection-lost handler with err (ErrDisconnected if nil).
func (c *Client) SimulateConnectionLost(err error) {
	if err == nil {
		err = ErrDisconnected
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(c, err)
	}
}

// SimulateReconnecting runs the reconnecting handler.
func (c *Client) SimulateReconnecting() {
	if c.opts.OnReconnecting != nil {
		c.opts.OnReconnecting(c, c.opts)
	}
}

// Published returns every recorded publish.
func (c *Client) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.published))
	copy(out, c.published)
	return out
}

// PublishedTo returns the recorded publishes for one topic.
func (c *Client) PublishedTo(topic string) []Message {
	var out []Message
	for _, m := range c.Published() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// ConnectCalls returns how many times Connect was called.
func (c *Client) ConnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// DisconnectCalls returns how many times Disconnect was called.
func (c *Client) DisconnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}
