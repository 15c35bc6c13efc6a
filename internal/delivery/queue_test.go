package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, cfg QueueConfig) *Queue {
	t.Helper()
	q, err := NewQueue(cfg)
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	return q
}

// =============================================================================
// Construction
// =============================================================================

func TestNewQueue_Defaults(t *testing.T) {
	q := newTestQueue(t, QueueConfig{})

	if q.Cap() != DefaultCapacity {
		t.Errorf("Cap() = %d, want %d", q.Cap(), DefaultCapacity)
	}
	if q.cfg.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("MaxMessageSize = %d, want %d", q.cfg.MaxMessageSize, DefaultMaxMessageSize)
	}
	if q.cfg.MemoryBudget != DefaultMemoryBudget {
		t.Errorf("MemoryBudget = %d, want %d", q.cfg.MemoryBudget, DefaultMemoryBudget)
	}
}

func TestNewQueue_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  QueueConfig
	}{
		{"negative capacity", QueueConfig{Capacity: -1}},
		{"negative timeout", QueueConfig{EnqueueTimeout: -time.Second}},
		{"budget below message size", QueueConfig{MaxMessageSize: 100, MemoryBudget: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewQueue(tt.cfg); err == nil {
				t.Error("NewQueue() expected error, got nil")
			}
		})
	}
}

func TestQueue_NotInitialized(t *testing.T) {
	ctx := context.Background()

	var zero Queue
	if err := zero.Enqueue(ctx, []byte("x")); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("zero Enqueue() error = %v, want ErrNotInitialized", err)
	}
	if _, err := zero.Dequeue(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("zero Dequeue() error = %v, want ErrNotInitialized", err)
	}

	var nilQueue *Queue
	if err := nilQueue.Enqueue(ctx, []byte("x")); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("nil Enqueue() error = %v, want ErrNotInitialized", err)
	}
	if _, err := nilQueue.Dequeue(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("nil Dequeue() error = %v, want ErrNotInitialized", err)
	}
	if nilQueue.Len() != 0 || nilQueue.Cap() != 0 || nilQueue.Drain() != 0 {
		t.Error("nil queue accessors should report zero")
	}
}

// =============================================================================
// Ordering and ownership
// =============================================================================

func TestQueue_FIFO(t *testing.T) {
	q := newTestQueue(t, QueueConfig{Capacity: 10})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, []byte(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	var lastSeq uint64
	for i := 0; i < 10; i++ {
		msg, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue(%d) error = %v", i, err)
		}
		if got, want := string(msg.Bytes()), fmt.Sprintf("msg-%d", i); got != want {
			t.Errorf("Dequeue(%d) = %q, want %q", i, got, want)
		}
		if msg.Seq() <= lastSeq {
			t.Errorf("Seq() = %d, not after %d", msg.Seq(), lastSeq)
		}
		lastSeq = msg.Seq()
		msg.Release()
	}
}

func TestQueue_EnqueueCopiesPayload(t *testing.T) {
	q := newTestQueue(t, QueueConfig{})
	ctx := context.Background()

	buf := []byte("original")
	if err := q.Enqueue(ctx, buf); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	copy(buf, "mutated!")

	msg, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	defer msg.Release()

	if string(msg.Bytes()) != "original" {
		t.Errorf("Bytes() = %q, want %q", msg.Bytes(), "original")
	}
	if msg.EnqueuedAt().IsZero() {
		t.Error("EnqueuedAt() is zero")
	}
}

func TestQueue_RejectsEmptyAndOversize(t *testing.T) {
	q := newTestQueue(t, QueueConfig{MaxMessageSize: 4, MemoryBudget: 64})
	ctx := context.Background()

	if err := q.Enqueue(ctx, nil); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Enqueue(nil) error = %v, want ErrEmptyPayload", err)
	}
	if err := q.Enqueue(ctx, []byte("12345")); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Enqueue(5 bytes) error = %v, want ErrMessageTooLarge", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
	if got := q.Stats().Rejected; got != 2 {
		t.Errorf("Stats().Rejected = %d, want 2", got)
	}
}

func TestQueue_OutOfMemoryLeavesQueueUnchanged(t *testing.T) {
	q := newTestQueue(t, QueueConfig{Capacity: 10, MaxMessageSize: 8, MemoryBudget: 10})
	ctx := context.Background()

	if err := q.Enqueue(ctx, []byte("12345678")); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}

	err := q.Enqueue(ctx, []byte("12345"))
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("second Enqueue() error = %v, want ErrOutOfMemory", err)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if got := q.Stats().BytesInUse; got != 8 {
		t.Errorf("BytesInUse = %d, want 8", got)
	}

	// Releasing the first message returns its bytes to the budget.
	msg, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	msg.Release()

	if err := q.Enqueue(ctx, []byte("12345")); err != nil {
		t.Errorf("Enqueue() after release error = %v", err)
	}
}

func TestMessage_ReleaseIsIdempotent(t *testing.T) {
	q := newTestQueue(t, QueueConfig{})
	ctx := context.Background()

	if err := q.Enqueue(ctx, []byte("payload")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	msg, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}

	msg.Release()
	msg.Release()

	if !msg.Released() {
		t.Error("Released() = false after Release")
	}
	stats := q.Stats()
	if stats.Released != 1 {
		t.Errorf("Stats().Released = %d, want 1", stats.Released)
	}
	if stats.BytesInUse != 0 {
		t.Errorf("Stats().BytesInUse = %d, want 0", stats.BytesInUse)
	}
}

// =============================================================================
// Blocking behaviour
// =============================================================================

func TestQueue_BackpressureBlocksProducer(t *testing.T) {
	q := newTestQueue(t, QueueConfig{Capacity: 2})
	ctx := context.Background()

	for _, p := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, []byte(p)); err != nil {
			t.Fatalf("Enqueue(%q) error = %v", p, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, []byte("c"))
	}()

	select {
	case err := <-done:
		t.Fatalf("Enqueue on full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	msg, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	msg.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("blocked Enqueue() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Enqueue did not complete after a slot freed")
	}

	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestQueue_EnqueueTimeout(t *testing.T) {
	q := newTestQueue(t, QueueConfig{Capacity: 1, EnqueueTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	if err := q.Enqueue(ctx, []byte("a")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	err := q.Enqueue(ctx, []byte("bb"))
	if !errors.Is(err, ErrEnqueueTimeout) {
		t.Fatalf("Enqueue() error = %v, want ErrEnqueueTimeout", err)
	}

	stats := q.Stats()
	if stats.Aborted != 1 || stats.Released != 1 {
		t.Errorf("Aborted/Released = %d/%d, want 1/1", stats.Aborted, stats.Released)
	}
	if stats.BytesInUse != 1 {
		t.Errorf("BytesInUse = %d, want 1 (timed-out copy must be freed)", stats.BytesInUse)
	}
}

func TestQueue_EnqueueCancelled(t *testing.T) {
	q := newTestQueue(t, QueueConfig{Capacity: 1})

	if err := q.Enqueue(context.Background(), []byte("a")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := q.Enqueue(ctx, []byte("b")); !errors.Is(err, context.Canceled) {
		t.Errorf("Enqueue() error = %v, want context.Canceled", err)
	}
}

func TestQueue_DequeueHonoursContext(t *testing.T) {
	q := newTestQueue(t, QueueConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dequeue() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestQueue_Drain(t *testing.T) {
	q := newTestQueue(t, QueueConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, []byte("x")); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	if n := q.Drain(); n != 3 {
		t.Errorf("Drain() = %d, want 3", n)
	}
	stats := q.Stats()
	if stats.Depth != 0 || stats.Released != 3 || stats.BytesInUse != 0 {
		t.Errorf("after Drain stats = %+v", stats)
	}
}

// =============================================================================
// Concurrency
// =============================================================================

func TestQueue_ConcurrentProducersReleaseEverything(t *testing.T) {
	const producers, perProducer = 4, 50

	q := newTestQueue(t, QueueConfig{Capacity: 3})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan int, 1)
	go func() {
		n := 0
		for n < producers*perProducer {
			msg, err := q.Dequeue(ctx)
			if err != nil {
				break
			}
			msg.Release()
			n++
		}
		received <- n
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Enqueue(ctx, []byte(fmt.Sprintf("%d-%d", p, i))); err != nil {
					t.Errorf("Enqueue() error = %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	select {
	case n := <-received:
		if n != producers*perProducer {
			t.Fatalf("consumer received %d, want %d", n, producers*perProducer)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}

	stats := q.Stats()
	if stats.Enqueued != stats.Released {
		t.Errorf("Enqueued = %d, Released = %d; every message must be freed once", stats.Enqueued, stats.Released)
	}
	if stats.BytesInUse != 0 {
		t.Errorf("BytesInUse = %d, want 0", stats.BytesInUse)
	}
}
