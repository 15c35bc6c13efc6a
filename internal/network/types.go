package network

import (
	"context"
	"time"
)

// State is the association state.
type State int

// Association states. StateAssociated and StateRetryExhausted end an
// attempt cycle; a disconnect from StateAssociated opens the next one.
const (
	StateIdle State = iota
	StateStarting
	StateConnecting
	StateAssociated
	StateRetryExhausted
)

// String returns the state name used in logs and status output.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateConnecting:
		return "connecting"
	case StateAssociated:
		return "associated"
	case StateRetryExhausted:
		return "retry_exhausted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind identifies a station event.
type EventKind int

// Station events.
const (
	EventStationStarted EventKind = iota + 1
	EventDisconnected
	EventAddressAcquired
)

// String returns the event name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventStationStarted:
		return "station_started"
	case EventDisconnected:
		return "disconnected"
	case EventAddressAcquired:
		return "address_acquired"
	default:
		return "unknown"
	}
}

// Event is one asynchronous event raised by the station driver.
type Event struct {
	Kind EventKind

	// Address is the acquired IP address for EventAddressAcquired.
	Address string

	// Reason describes a disconnect.
	Reason string
}

// EventHandler receives station events. Machine.HandleEvent is one.
type EventHandler func(Event)

// Station is the radio driver the machine commands.
//
// Start brings the station interface up and must eventually raise
// EventStationStarted. Every Connect must eventually raise exactly one of
// EventAddressAcquired or EventDisconnected. Connect must not block on the
// outcome.
type Station interface {
	Start(ctx context.Context) error
	Connect() error
}

// Transition records one state change.
type Transition struct {
	From    State
	To      State
	Event   EventKind
	Retries int
	Cycle   uint64
	At      time.Time
}

// Status is a point-in-time snapshot of the machine.
type Status struct {
	State      State     `json:"state"`
	Retries    int       `json:"retries"`
	MaxRetries int       `json:"max_retries"`
	Address    string    `json:"address,omitempty"`
	Cycle      uint64    `json:"cycle"`
	ChangedAt  time.Time `json:"changed_at"`
}

// Logger defines the logging interface for the association machine.
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
