package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Stats counts points handed to the write API and the asynchronous
// failures reported back for them.
type Stats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

// Client writes tracker telemetry to InfluxDB. Every point is tagged with
// the device ID.
//
// Writes are batched and never block the caller, so the client can sit on
// the delivery worker's path. All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	deviceID string

	open    atomic.Bool
	written atomic.Uint64
	failed  atomic.Uint64

	closeOnce sync.Once

	mu      sync.Mutex
	onError func(err error)
}

// Connect pings the server and starts the batching write API.
//
// Parameters:
//   - ctx: Bounds the initial ping together with a 10s ceiling
//   - cfg: InfluxDB configuration from config.yaml
//   - deviceID: Tag value attached to every point
//
// Returns:
//   - *Client: Client ready for writes
//   - error: ErrDisabled, or ErrConnectionFailed when the ping fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig, deviceID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s is not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		deviceID: deviceID,
	}
	c.open.Store(true)

	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

// clientOptions maps the batch settings onto the client options. Zero or
// negative values fall back to the defaults.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // positive by construction
}

// drainErrors counts asynchronous write failures and forwards them to the
// error callback. The channel closes when the client is closed.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)

		c.mu.Lock()
		callback := c.onError
		c.mu.Unlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes buffered points and releases the client. Writes after
// Close are dropped. Close is idempotent.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.writeAPI.Flush()
		c.client.Close()
	})
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb: health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb: health check: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client accepts writes. It is the state
// after Connect or Close, not the result of a ping.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Stats returns write counters.
func (c *Client) Stats() Stats {
	return Stats{
		Written: c.written.Load(),
		Failed:  c.failed.Load(),
	}
}
