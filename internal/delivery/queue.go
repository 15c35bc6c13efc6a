package delivery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Queue defaults match the factory configuration.
const (
	DefaultCapacity       = 10
	DefaultMaxMessageSize = 1024
	DefaultMemoryBudget   = 16 * 1024
)

// QueueConfig holds the configuration for a Queue.
type QueueConfig struct {
	// Capacity is the number of messages the queue holds before producers block.
	Capacity int

	// MaxMessageSize is the largest accepted payload in bytes.
	MaxMessageSize int

	// MemoryBudget is the total payload bytes that may be held at once,
	// counting messages that have been dequeued but not yet released.
	MemoryBudget int64

	// EnqueueTimeout bounds how long Enqueue blocks on a full queue.
	// 0 means wait until space frees or the context ends.
	EnqueueTimeout time.Duration
}

// QueueStats is a point-in-time snapshot of queue counters.
type QueueStats struct {
	Depth      int    `json:"depth"`
	Capacity   int    `json:"capacity"`
	BytesInUse int64  `json:"bytes_in_use"`
	Enqueued   uint64 `json:"enqueued"`
	Released   uint64 `json:"released"`
	Aborted    uint64 `json:"aborted"`
	Rejected   uint64 `json:"rejected"`
}

// Queue is a bounded FIFO handing pending payloads from producers to the
// delivery worker.
//
// Enqueue copies the caller's bytes, so the caller keeps ownership of its
// own buffer. A full queue blocks producers. A zero Queue is not usable:
// every operation returns ErrNotInitialized.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Queue struct {
	cfg    QueueConfig
	slots  chan *Message
	budget *semaphore.Weighted

	seq      atomic.Uint64
	inUse    atomic.Int64
	enqueued atomic.Uint64
	released atomic.Uint64
	aborted  atomic.Uint64
	rejected atomic.Uint64
}

// NewQueue creates a queue. Zero fields in cfg take the package defaults.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.MemoryBudget == 0 {
		cfg.MemoryBudget = DefaultMemoryBudget
	}

	if cfg.Capacity < 0 || cfg.MaxMessageSize < 0 || cfg.MemoryBudget < 0 || cfg.EnqueueTimeout < 0 {
		return nil, fmt.Errorf("delivery: invalid queue config %+v", cfg)
	}
	if cfg.MemoryBudget < int64(cfg.MaxMessageSize) {
		return nil, fmt.Errorf("delivery: memory budget %d below max message size %d",
			cfg.MemoryBudget, cfg.MaxMessageSize)
	}

	return &Queue{
		cfg:    cfg,
		slots:  make(chan *Message, cfg.Capacity),
		budget: semaphore.NewWeighted(cfg.MemoryBudget),
	}, nil
}

// Enqueue copies payload into a new message and appends it to the queue.
//
// If the queue is full Enqueue blocks until the worker frees a slot, ctx
// ends, or the configured enqueue timeout elapses. A copy that does not
// make it into the queue is released before returning.
//
// Returns:
//   - ErrNotInitialized: q was not built by NewQueue
//   - ErrEmptyPayload, ErrMessageTooLarge: payload rejected
//   - ErrOutOfMemory: the memory budget cannot hold the copy
//   - ErrEnqueueTimeout: the queue stayed full for the enqueue timeout
//   - ctx.Err(): the caller cancelled while blocked
func (q *Queue) Enqueue(ctx context.Context, payload []byte) error {
	if q == nil || q.slots == nil {
		return ErrNotInitialized
	}
	if len(payload) == 0 {
		q.rejected.Add(1)
		return ErrEmptyPayload
	}
	if len(payload) > q.cfg.MaxMessageSize {
		q.rejected.Add(1)
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrMessageTooLarge, len(payload), q.cfg.MaxMessageSize)
	}

	size := int64(len(payload))
	if !q.budget.TryAcquire(size) {
		q.rejected.Add(1)
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrOutOfMemory, size, q.inUse.Load(), q.cfg.MemoryBudget)
	}
	q.inUse.Add(size)

	data := make([]byte, len(payload))
	copy(data, payload)
	msg := &Message{
		data:       data,
		seq:        q.seq.Add(1),
		enqueuedAt: time.Now(),
		owner:      q,
	}

	waitCtx := ctx
	if q.cfg.EnqueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, q.cfg.EnqueueTimeout)
		defer cancel()
	}

	select {
	case q.slots <- msg:
		q.enqueued.Add(1)
		return nil
	case <-waitCtx.Done():
		q.aborted.Add(1)
		msg.Release()
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w after %v", ErrEnqueueTimeout, q.cfg.EnqueueTimeout)
	}
}

// Dequeue removes the oldest message, blocking until one is available or
// ctx ends. The caller owns the returned message and must Release it.
func (q *Queue) Dequeue(ctx context.Context) (*Message, error) {
	if q == nil || q.slots == nil {
		return nil, ErrNotInitialized
	}

	select {
	case msg := <-q.slots:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain releases every message still waiting in the queue and returns how
// many were released. It is used at shutdown after the worker has stopped.
func (q *Queue) Drain() int {
	if q == nil || q.slots == nil {
		return 0
	}

	n := 0
	for {
		select {
		case msg := <-q.slots:
			msg.Release()
			n++
		default:
			return n
		}
	}
}

// Len returns the number of messages waiting.
func (q *Queue) Len() int {
	if q == nil || q.slots == nil {
		return 0
	}
	return len(q.slots)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	if q == nil || q.slots == nil {
		return 0
	}
	return cap(q.slots)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	if q == nil || q.slots == nil {
		return QueueStats{}
	}
	return QueueStats{
		Depth:      len(q.slots),
		Capacity:   cap(q.slots),
		BytesInUse: q.inUse.Load(),
		Enqueued:   q.enqueued.Load(),
		Released:   q.released.Load(),
		Aborted:    q.aborted.Load(),
		Rejected:   q.rejected.Load(),
	}
}

// reclaim returns a released message's bytes to the budget.
func (q *Queue) reclaim(size int64) {
	q.inUse.Add(-size)
	q.budget.Release(size)
	q.released.Add(1)
}
