package mqtt

import (
	"sync"
	"time"
)

// EventKind identifies an asynchronous session event raised by the transport.
type EventKind int

// Session events. Only EventConnected and EventDisconnected change state.
const (
	EventConnecting EventKind = iota
	EventConnected
	EventDisconnected
	EventReconnecting
)

// String returns the event name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Event is one session event.
type Event struct {
	Kind EventKind

	// Err is the connection loss reason for EventDisconnected.
	Err error

	// Broker is the address being dialled for EventConnecting.
	Broker string
}

// StateSnapshot is a copy of the session state.
type StateSnapshot struct {
	Connected   bool      `json:"connected"`
	ChangedAt   time.Time `json:"changed_at"`
	Transitions uint64    `json:"transitions"`
}

// State is the broker connectivity flag shared between the event handlers
// that write it and the delivery worker that reads it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type State struct {
	mu          sync.RWMutex
	connected   bool
	changedAt   time.Time
	transitions uint64
}

// Apply routes an event into the state: connected sets the flag, disconnected
// clears it, everything else is ignored. It reports whether the flag changed.
func (s *State) Apply(ev Event) bool {
	var next bool
	switch ev.Kind {
	case EventConnected:
		next = true
	case EventDisconnected:
		next = false
	default:
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == next {
		return false
	}
	s.connected = next
	s.changedAt = time.Now()
	s.transitions++
	return true
}

// Connected returns the last event-derived connectivity.
func (s *State) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Snapshot returns a copy of the state.
func (s *State) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateSnapshot{
		Connected:   s.connected,
		ChangedAt:   s.changedAt,
		Transitions: s.transitions,
	}
}
