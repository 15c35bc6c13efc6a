package network

import "errors"

// Domain-specific errors for Wi-Fi association.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRetryExhausted is returned when the attempt cycle ended after the
	// maximum number of retries without acquiring an address.
	ErrRetryExhausted = errors.New("network: association retries exhausted")

	// ErrAssociationTimeout is returned when a wait for the attempt cycle
	// outlasted its timeout. The cycle itself continues.
	ErrAssociationTimeout = errors.New("network: association wait timed out")

	// ErrNotStarted is returned when waiting on a machine that was never started.
	ErrNotStarted = errors.New("network: association not started")

	// ErrNotExhausted is returned by Restart unless retries are exhausted.
	ErrNotExhausted = errors.New("network: association not exhausted")

	// ErrNilStation is returned when a machine is built without a station.
	ErrNilStation = errors.New("network: station is required")
)
