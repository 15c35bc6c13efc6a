package network

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxRetries is the factory retry bound.
const DefaultMaxRetries = 10

// Options configures a Machine.
type Options struct {
	// MaxRetries is how many connect requests are re-issued after
	// disconnects before the cycle fails.
	MaxRetries int

	Logger Logger
}

// cycle is one attempt cycle: it resolves exactly once, to nil on
// association or ErrRetryExhausted, and is superseded when a new cycle opens.
type cycle struct {
	id       uint64
	done     chan struct{}
	next     chan struct{}
	err      error
	resolved bool
}

func newCycle(id uint64) *cycle {
	return &cycle{
		id:   id,
		done: make(chan struct{}),
		next: make(chan struct{}),
	}
}

// resolve records the outcome. Only the first call has an effect.
func (c *cycle) resolve(err error) bool {
	if c.resolved {
		return false
	}
	c.resolved = true
	c.err = err
	close(c.done)
	return true
}

// Machine is the Wi-Fi association state machine.
//
// It consumes station events through HandleEvent, issues connect requests
// to the station, bounds consecutive retries, and lets callers wait for the
// outcome of the current attempt cycle.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Station methods and observers are called without the lock held.
type Machine struct {
	station    Station
	maxRetries int
	logger     Logger

	mu        sync.Mutex
	state     State
	retries   int
	address   string
	changedAt time.Time
	cycle     *cycle

	observers    []func(Transition)
	onAssociated []func(address string)
}

// NewMachine creates an idle machine commanding station.
func NewMachine(station Station, opts Options) (*Machine, error) {
	if station == nil {
		return nil, ErrNilStation
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("network: max retries must not be negative, got %d", opts.MaxRetries)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Machine{
		station:    station,
		maxRetries: opts.MaxRetries,
		logger:     logger,
		state:      StateIdle,
		changedAt:  time.Now(),
		cycle:      newCycle(1),
	}, nil
}

// OnTransition registers an observer called after every state change.
// Register observers before Start.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// OnAssociated registers a hook called each time an address is acquired.
// Register hooks before Start.
func (m *Machine) OnAssociated(fn func(address string)) {
	m.mu.Lock()
	m.onAssociated = append(m.onAssociated, fn)
	m.mu.Unlock()
}

// Start moves an idle machine to StateStarting and starts the station.
// Calling Start on a machine that has already left StateIdle is a no-op.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		m.logger.Info("association already started", "state", state.String())
		return nil
	}
	tr := m.transition(StateStarting, 0)
	observers := m.observers
	m.mu.Unlock()

	notify(observers, tr)

	if err := m.station.Start(ctx); err != nil {
		m.mu.Lock()
		var revert []Transition
		if m.state == StateStarting {
			revert = append(revert, m.transition(StateIdle, 0))
		}
		m.mu.Unlock()
		for _, r := range revert {
			notify(observers, r)
		}
		return fmt.Errorf("network: starting station: %w", err)
	}

	m.logger.Info("station starting", "max_retries", m.maxRetries)
	return nil
}

// HandleEvent applies one station event.
//
//	Starting   + station_started            → connect, Connecting
//	Connecting + disconnected (retries < max) → connect, retries++
//	Connecting + disconnected (retries ≥ max) → fail cycle, RetryExhausted
//	Connecting + address_acquired           → retries = 0, succeed cycle, Associated
//	Associated + disconnected               → connect, retries++, Connecting (new cycle)
//
// Any other event is logged and ignored.
func (m *Machine) HandleEvent(ev Event) {
	m.mu.Lock()

	var (
		trs        []Transition
		connect    bool
		associated string
	)

	switch {
	case m.state == StateStarting && ev.Kind == EventStationStarted:
		trs = append(trs, m.transition(StateConnecting, ev.Kind))
		connect = true

	case m.state == StateConnecting && ev.Kind == EventDisconnected:
		if m.retries < m.maxRetries {
			m.retries++
			trs = append(trs, m.transition(StateConnecting, ev.Kind))
			connect = true
			m.logger.Info("association attempt failed, retrying",
				"retry", m.retries,
				"max_retries", m.maxRetries,
				"reason", ev.Reason,
			)
		} else {
			trs = append(trs, m.transition(StateRetryExhausted, ev.Kind))
			m.cycle.resolve(ErrRetryExhausted)
			m.logger.Error("association retries exhausted",
				"retries", m.retries,
				"reason", ev.Reason,
			)
		}

	case m.state == StateConnecting && ev.Kind == EventAddressAcquired:
		m.retries = 0
		m.address = ev.Address
		trs = append(trs, m.transition(StateAssociated, ev.Kind))
		m.cycle.resolve(nil)
		associated = ev.Address
		m.logger.Info("associated", "address", ev.Address)

	case m.state == StateAssociated && ev.Kind == EventDisconnected:
		m.retries++
		m.address = ""
		m.openCycle()
		trs = append(trs, m.transition(StateConnecting, ev.Kind))
		connect = true
		m.logger.Warn("association lost, reconnecting", "reason", ev.Reason)

	case m.state == StateAssociated && ev.Kind == EventAddressAcquired:
		m.address = ev.Address
		m.logger.Debug("address renewed", "address", ev.Address)

	default:
		m.logger.Debug("association event ignored",
			"state", m.state.String(),
			"event", ev.Kind.String(),
		)
	}

	observers := m.observers
	hooks := m.onAssociated
	m.mu.Unlock()

	for _, tr := range trs {
		notify(observers, tr)
	}
	if associated != "" {
		for _, hook := range hooks {
			hook(associated)
		}
	}
	if connect {
		m.requestConnect()
	}
}

// requestConnect issues a connect request. A request the station cannot
// accept counts as a failed attempt.
func (m *Machine) requestConnect() {
	if err := m.station.Connect(); err != nil {
		m.logger.Warn("connect request rejected", "error", err)
		m.HandleEvent(Event{Kind: EventDisconnected, Reason: "connect request rejected: " + err.Error()})
	}
}

// Wait blocks until the current attempt cycle resolves.
//
// Parameters:
//   - ctx: Cancels the wait
//   - timeout: Bounds the wait; 0 waits for the cycle to resolve
//
// Returns:
//   - nil: associated
//   - ErrRetryExhausted: the cycle failed
//   - ErrAssociationTimeout: timeout elapsed first (the cycle continues)
//   - ErrNotStarted: Start has not been called
//   - ctx.Err(): the caller cancelled
func (m *Machine) Wait(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return ErrNotStarted
	}
	c := m.cycle
	m.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-c.done:
		return c.err
	case <-expired:
		return fmt.Errorf("%w after %v", ErrAssociationTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Associate starts the machine if needed and waits for the current cycle.
// It is the blocking startup entry point for network association.
func (m *Machine) Associate(ctx context.Context, timeout time.Duration) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	return m.Wait(ctx, timeout)
}

// Restart opens a new attempt cycle from StateRetryExhausted with the
// retry counter cleared and issues a connect request.
func (m *Machine) Restart() error {
	m.mu.Lock()
	if m.state != StateRetryExhausted {
		m.mu.Unlock()
		return ErrNotExhausted
	}
	m.retries = 0
	m.openCycle()
	tr := m.transition(StateConnecting, 0)
	observers := m.observers
	m.mu.Unlock()

	m.logger.Info("association restarted")
	notify(observers, tr)
	m.requestConnect()
	return nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries returns the current retry counter.
func (m *Machine) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Address returns the acquired address, or "" when not associated.
func (m *Machine) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// Status returns a snapshot of the machine.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:      m.state,
		Retries:    m.retries,
		MaxRetries: m.maxRetries,
		Address:    m.address,
		Cycle:      m.cycle.id,
		ChangedAt:  m.changedAt,
	}
}

// currentCycle returns the open cycle.
func (m *Machine) currentCycle() *cycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycle
}

// transition changes state. Callers hold m.mu.
func (m *Machine) transition(to State, ev EventKind) Transition {
	now := time.Now()
	tr := Transition{
		From:    m.state,
		To:      to,
		Event:   ev,
		Retries: m.retries,
		Cycle:   m.cycle.id,
		At:      now,
	}
	m.state = to
	m.changedAt = now
	return tr
}

// openCycle supersedes the current, already resolved, cycle. Callers hold m.mu.
func (m *Machine) openCycle() {
	prev := m.cycle
	m.cycle = newCycle(prev.id + 1)
	close(prev.next)
}

func notify(observers []func(Transition), tr Transition) {
	for _, fn := range observers {
		fn(tr)
	}
}
