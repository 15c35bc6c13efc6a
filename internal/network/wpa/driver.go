package wpa

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aungkhantmaw64/gps-tracker/internal/network"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultAttemptTimeout = 15 * time.Second
	commandTimeout        = 5 * time.Second
)

// Config configures the station driver.
type Config struct {
	Interface string
	SSID      string

	// Password is the WPA passphrase. Empty selects an open network.
	Password string

	// PollInterval is how often the supplicant status is sampled.
	PollInterval time.Duration

	// AttemptTimeout bounds one connect request before it is reported as
	// a disconnect.
	AttemptTimeout time.Duration
}

// Validate checks the driver configuration.
func (c Config) Validate() error {
	var errs []error
	if err := validateInterface(c.Interface); err != nil {
		errs = append(errs, err)
	}
	if c.SSID == "" {
		errs = append(errs, errors.New("ssid is required"))
	}
	if len(c.SSID) > 32 {
		errs = append(errs, fmt.Errorf("ssid longer than 32 bytes: %d", len(c.SSID)))
	}
	if c.Password != "" && (len(c.Password) < 8 || len(c.Password) > 63) {
		errs = append(errs, errors.New("password must be 8 to 63 characters"))
	}
	return errors.Join(errs...)
}

// Driver is a network.Station that drives wpa_supplicant through its
// control interface. Outcomes are observed by polling status and raised
// to the event handler from the polling goroutine.
type Driver struct {
	cfg    Config
	runner Runner
	logger Logger
	now    func() time.Time

	mu         sync.Mutex
	handler    network.EventHandler
	started    bool
	networkID  string
	selected   bool
	attempting bool
	deadline   time.Time
	associated bool
	address    string
	lastState  string
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a driver that sends commands through runner.
func New(cfg Config, runner Runner) (*Driver, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid station config: %w", err)
	}
	if runner == nil {
		return nil, errors.New("wpa: runner is required")
	}

	return &Driver{
		cfg:    cfg,
		runner: runner,
		logger: noopLogger{},
		now:    time.Now,
	}, nil
}

// SetEventHandler sets where station events are delivered. Call before Start.
func (d *Driver) SetEventHandler(h network.EventHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// SetLogger sets the logger. Call before Start.
func (d *Driver) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Start configures the network block and begins polling. The first poll
// raises EventStationStarted. The polling goroutine lives until ctx is
// cancelled or Stop is called.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if reply, err := d.run(ctx, "ping"); err != nil {
		return fmt.Errorf("pinging supplicant: %w", err)
	} else if reply != "PONG" {
		return fmt.Errorf("%w: ping answered %q", ErrUnexpectedReply, reply)
	}

	id, err := d.run(ctx, "add_network")
	if err != nil {
		return fmt.Errorf("adding network: %w", err)
	}
	if _, err := strconv.Atoi(id); err != nil {
		return fmt.Errorf("%w: add_network answered %q", ErrUnexpectedReply, id)
	}

	if err := d.configureNetwork(ctx, id); err != nil {
		d.removeNetwork(id)
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.started = true
	d.networkID = id
	d.cancel = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	d.logger.Info("station configured", "interface", d.cfg.Interface, "ssid", d.cfg.SSID, "network_id", id)

	go d.poll(pollCtx)
	return nil
}

// configureNetwork sets the SSID and credentials on network block id.
func (d *Driver) configureNetwork(ctx context.Context, id string) error {
	if _, err := d.run(ctx, "set_network", id, "ssid", quote(d.cfg.SSID)); err != nil {
		return fmt.Errorf("setting ssid: %w", err)
	}
	if d.cfg.Password == "" {
		if _, err := d.run(ctx, "set_network", id, "key_mgmt", "NONE"); err != nil {
			return fmt.Errorf("setting key management: %w", err)
		}
	} else if _, err := d.run(ctx, "set_network", id, "psk", quote(d.cfg.Password)); err != nil {
		return fmt.Errorf("setting passphrase: %w", err)
	}
	return nil
}

// removeNetwork drops a half-configured block so a retried Start does not
// leave it behind in the supplicant.
func (d *Driver) removeNetwork(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if _, err := d.run(ctx, "remove_network", id); err != nil {
		d.logger.Warn("removing network block failed", "network_id", id, "error", err)
	}
}

// Connect requests association with the configured network. The first
// request selects the network and later ones reassociate. It returns as
// soon as the command is accepted.
func (d *Driver) Connect() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrNotStarted
	}
	args := []string{"reassociate"}
	if !d.selected {
		args = []string{"select_network", d.networkID}
	}
	d.attempting = true
	d.associated = false
	d.address = ""
	d.deadline = d.now().Add(d.cfg.AttemptTimeout)
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if _, err := d.run(ctx, args...); err != nil {
		d.mu.Lock()
		d.attempting = false
		d.mu.Unlock()
		return fmt.Errorf("requesting association: %w", err)
	}

	d.mu.Lock()
	d.selected = true
	d.mu.Unlock()

	d.logger.Debug("association requested", "command", args[0])
	return nil
}

// Stop ends polling and removes the network block.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	cancel := d.cancel
	id := d.networkID
	d.mu.Unlock()

	cancel()
	d.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), commandTimeout)
	defer done()
	if _, err := d.run(ctx, "remove_network", id); err != nil {
		return fmt.Errorf("removing network: %w", err)
	}
	return nil
}

// poll samples status on every tick and raises the resulting events.
func (d *Driver) poll(ctx context.Context) {
	defer d.wg.Done()

	d.emit(network.Event{Kind: network.EventStationStarted})

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := d.status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("station status unavailable", "error", err)
			// An unknown status still times attempts out.
			st = Status{}
		}

		for _, ev := range d.evaluate(st, d.now()) {
			d.emit(ev)
		}
	}
}

func (d *Driver) status(ctx context.Context) (Status, error) {
	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	reply, err := d.run(cctx, "status")
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(reply)
}

// evaluate turns one status sample into events.
//
// While an attempt is pending, a completed link with an address acquires
// it and an expired deadline or disabled interface fails it. While
// associated, losing the link raises a disconnect and a changed address
// is raised again as a renewal.
func (d *Driver) evaluate(st Status, now time.Time) []network.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if st.State != d.lastState && st.State != "" {
		d.logger.Debug("supplicant state", "from", d.lastState, "to", st.State)
		d.lastState = st.State
	}

	switch {
	case d.attempting:
		if st.Connected() {
			d.attempting = false
			d.associated = true
			d.address = st.IPAddress
			return []network.Event{{Kind: network.EventAddressAcquired, Address: st.IPAddress}}
		}
		if st.State == StateInterfaceDisable {
			d.attempting = false
			return []network.Event{{Kind: network.EventDisconnected, Reason: "interface disabled"}}
		}
		if !now.Before(d.deadline) {
			d.attempting = false
			return []network.Event{{
				Kind:   network.EventDisconnected,
				Reason: fmt.Sprintf("attempt timed out in state %s", stateOrUnknown(st.State)),
			}}
		}

	case d.associated && st.State != "":
		if !st.Connected() {
			d.associated = false
			d.address = ""
			return []network.Event{{
				Kind:   network.EventDisconnected,
				Reason: fmt.Sprintf("link lost in state %s", stateOrUnknown(st.State)),
			}}
		}
		if st.IPAddress != d.address {
			d.address = st.IPAddress
			return []network.Event{{Kind: network.EventAddressAcquired, Address: st.IPAddress}}
		}
	}

	return nil
}

func (d *Driver) emit(ev network.Event) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()

	if h != nil {
		h(ev)
	}
}

func (d *Driver) run(ctx context.Context, args ...string) (string, error) {
	return d.runner.Run(ctx, args...)
}

func stateOrUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

var _ network.Station = (*Driver)(nil)
