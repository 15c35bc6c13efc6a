package delivery

import (
	"sync/atomic"
	"time"
)

// Message is one pending outbound payload.
//
// A Message is owned by exactly one party at a time: the queue while it
// waits, then the consumer that dequeued it. The owner must call Release
// once it is done; Release returns the bytes to the queue's memory budget.
type Message struct {
	data       []byte
	seq        uint64
	enqueuedAt time.Time
	owner      *Queue
	released   atomic.Bool
}

// Bytes returns the message payload. The slice must not be used after Release.
func (m *Message) Bytes() []byte {
	return m.data
}

// Len returns the payload size in bytes.
func (m *Message) Len() int {
	return len(m.data)
}

// Seq returns the message's queue sequence number. Sequence numbers
// increase in enqueue order.
func (m *Message) Seq() uint64 {
	return m.seq
}

// EnqueuedAt returns when the payload was copied into the queue.
func (m *Message) EnqueuedAt() time.Time {
	return m.enqueuedAt
}

// Release frees the message. Only the first call has an effect.
func (m *Message) Release() {
	if m == nil || !m.released.CompareAndSwap(false, true) {
		return
	}
	size := int64(len(m.data))
	m.data = nil
	if m.owner != nil {
		m.owner.reclaim(size)
	}
}

// Released reports whether Release has been called.
func (m *Message) Released() bool {
	return m.released.Load()
}
