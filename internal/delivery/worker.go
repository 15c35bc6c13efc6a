package delivery

import (
	"context"
	"sync/atomic"
	"time"
)

// Session is the broker connection the worker publishes through.
type Session interface {
	IsConnected() bool
	Publish(topic string, payload []byte) error
}

// Result is the fate of one dequeued message.
type Result string

// Delivery results.
const (
	ResultPublished Result = "published"
	ResultDropped   Result = "dropped"
	ResultFailed    Result = "failed"
)

// Outcome describes what happened to one dequeued message.
type Outcome struct {
	Seq         uint64
	Topic       string
	Size        int
	Result      Result
	Err         error
	EnqueuedAt  time.Time
	CompletedAt time.Time
}

// Latency is the time between enqueue and the end of the publish attempt.
func (o Outcome) Latency() time.Duration {
	return o.CompletedAt.Sub(o.EnqueuedAt)
}

// Recorder receives every delivery outcome. Implementations must not block
// for long; they run on the worker goroutine.
type Recorder interface {
	Record(ctx context.Context, o Outcome)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, o Outcome)

// Record calls f(ctx, o).
func (f RecorderFunc) Record(ctx context.Context, o Outcome) {
	f(ctx, o)
}

// Logger defines the logging interface for the delivery worker.
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

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Queue     *Queue
	Session   Session
	Topic     string
	Logger    Logger
	Recorders []Recorder
}

// WorkerStats counts delivery outcomes.
type WorkerStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Worker is the single consumer of a Queue.
//
// For each message it makes at most one publish attempt: when the session
// is disconnected the message is dropped, otherwise it is published once.
// Either way the message is released afterwards. There is no retry.
type Worker struct {
	queue     *Queue
	session   Session
	topic     string
	logger    Logger
	recorders []Recorder

	running   atomic.Bool
	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewWorker creates a worker. The topic is fixed for the worker's lifetime.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Queue == nil || opts.Queue.slots == nil {
		return nil, ErrNotInitialized
	}
	if opts.Session == nil {
		return nil, ErrNilSession
	}
	if opts.Topic == "" {
		return nil, ErrEmptyTopic
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Worker{
		queue:     opts.Queue,
		session:   opts.Session,
		topic:     opts.Topic,
		logger:    logger,
		recorders: opts.Recorders,
	}, nil
}

// Run consumes the queue until ctx is cancelled. It returns nil on
// cancellation and only returns early if the queue itself fails.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)

	w.logger.Info("delivery worker started", "topic", w.topic)

	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("delivery worker stopped")
				return nil
			}
			return err
		}
		w.deliver(ctx, msg)
	}
}

// deliver makes the single publish attempt for msg and releases it.
func (w *Worker) deliver(ctx context.Context, msg *Message) Outcome {
	out := Outcome{
		Seq:        msg.Seq(),
		Topic:      w.topic,
		Size:       msg.Len(),
		EnqueuedAt: msg.EnqueuedAt(),
	}

	switch {
	case !w.session.IsConnected():
		out.Result = ResultDropped
		w.logger.Info("session not connected, dropping message",
			"seq", out.Seq,
			"size", out.Size,
		)
	default:
		if err := w.session.Publish(w.topic, msg.Bytes()); err != nil {
			out.Result = ResultFailed
			out.Err = err
			w.logger.Error("publish failed",
				"seq", out.Seq,
				"topic", w.topic,
				"error", err,
			)
		} else {
			out.Result = ResultPublished
			w.logger.Debug("message published",
				"seq", out.Seq,
				"topic", w.topic,
				"size", out.Size,
			)
		}
	}
	out.CompletedAt = time.Now()
	msg.Release()

	// Recorders still get the final outcome during shutdown.
	recordCtx := context.WithoutCancel(ctx)
	for _, r := range w.recorders {
		r.Record(recordCtx, out)
	}

	// Counters move last so a caller observing them sees a fully
	// processed message.
	switch out.Result {
	case ResultPublished:
		w.published.Add(1)
	case ResultDropped:
		w.dropped.Add(1)
	case ResultFailed:
		w.failed.Add(1)
	}

	return out
}

// Running reports whether Run is active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Topic returns the topic the worker publishes to.
func (w *Worker) Topic() string {
	return w.topic
}

// Stats returns a snapshot of the outcome counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Published: w.published.Load(),
		Dropped:   w.dropped.Load(),
		Failed:    w.failed.Load(),
	}
}
