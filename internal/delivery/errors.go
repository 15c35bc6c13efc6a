package delivery

import "errors"

// Domain-specific errors for the delivery path.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotInitialized is returned when a queue operation is invoked on a
	// queue that was not built by NewQueue.
	ErrNotInitialized = errors.New("delivery: queue not initialized")

	// ErrOutOfMemory is returned when the queue's memory budget cannot hold
	// a copy of the payload. The queue is left unchanged.
	ErrOutOfMemory = errors.New("delivery: out of memory")

	// ErrMessageTooLarge is returned when a payload exceeds the per-message limit.
	ErrMessageTooLarge = errors.New("delivery: message too large")

	// ErrEmptyPayload is returned for zero-length payloads. A retained
	// empty publish would clear the broker's last known position.
	ErrEmptyPayload = errors.New("delivery: payload cannot be empty")

	// ErrEnqueueTimeout is returned when the queue stayed full for the
	// configured enqueue timeout.
	ErrEnqueueTimeout = errors.New("delivery: enqueue timed out")

	// ErrNilSession is returned when a worker is built without a session.
	ErrNilSession = errors.New("delivery: session is required")

	// ErrEmptyTopic is returned when a worker is built without a topic.
	ErrEmptyTopic = errors.New("delivery: topic cannot be empty")
)
