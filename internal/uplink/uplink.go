// Package uplink wires the delivery queue and worker to the broker session.
//
// It is the second startup entry point after network association: Start
// begins connecting the session and launches the single delivery worker,
// and producers hand telemetry to Enqueue from then on.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aungkhantmaw64/gps-tracker/internal/delivery"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/mqtt"
)

// Session is the broker connection. *mqtt.Client satisfies it.
type Session interface {
	Start() error
	IsConnected() bool
	Publish(topic string, payload []byte) error
}

// Logger defines the logging interface for the uplink.
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

// Options configures an Uplink.
type Options struct {
	DeviceID  string
	Session   Session
	Queue     delivery.QueueConfig
	Recorders []delivery.Recorder
	Logger    Logger
}

// Stats is a snapshot of the uplink.
type Stats struct {
	Topic     string               `json:"topic"`
	Started   bool                 `json:"started"`
	Connected bool                 `json:"connected"`
	Queue     delivery.QueueStats  `json:"queue"`
	Worker    delivery.WorkerStats `json:"worker"`
}

// Uplink owns the queue and the worker that drains it into the session.
type Uplink struct {
	session Session
	queue   *delivery.Queue
	worker  *delivery.Worker
	topic   string
	logger  Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds the queue and worker. The egress topic is fixed here from
// the device id.
func New(opts Options) (*Uplink, error) {
	if opts.Session == nil {
		return nil, delivery.ErrNilSession
	}
	if opts.DeviceID == "" {
		return nil, errors.New("uplink: device id is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	queue, err := delivery.NewQueue(opts.Queue)
	if err != nil {
		return nil, fmt.Errorf("uplink: creating queue: %w", err)
	}

	topic := mqtt.Topics{}.Egress(opts.DeviceID)
	worker, err := delivery.NewWorker(delivery.WorkerOptions{
		Queue:     queue,
		Session:   opts.Session,
		Topic:     topic,
		Logger:    logger,
		Recorders: opts.Recorders,
	})
	if err != nil {
		return nil, fmt.Errorf("uplink: creating worker: %w", err)
	}

	return &Uplink{
		session: opts.Session,
		queue:   queue,
		worker:  worker,
		topic:   topic,
		logger:  logger,
	}, nil
}

// Start starts the session and then the worker goroutine. A second call
// logs and returns nil without touching the session.
func (u *Uplink) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.started {
		u.logger.Info("uplink already started", "topic", u.topic)
		return nil
	}

	if err := u.session.Start(); err != nil {
		return fmt.Errorf("uplink: starting session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := u.worker.Run(runCtx); err != nil {
			u.logger.Error("delivery worker stopped", "error", err)
		}
	}()

	u.started = true
	u.cancel = cancel
	u.done = done
	u.logger.Info("uplink started", "topic", u.topic, "queue_capacity", u.queue.Cap())
	return nil
}

// Enqueue hands a payload to the delivery queue. The bytes are copied.
func (u *Uplink) Enqueue(ctx context.Context, payload []byte) error {
	return u.queue.Enqueue(ctx, payload)
}

// Stop cancels the worker, waits for it to finish its current message and
// releases everything still queued. It returns the number of messages
// discarded.
func (u *Uplink) Stop() int {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.started = false
	u.cancel, u.done = nil, nil
	u.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	n := u.queue.Drain()
	if n > 0 {
		u.logger.Warn("discarded undelivered messages", "count", n)
	}
	return n
}

// Topic returns the egress topic.
func (u *Uplink) Topic() string {
	return u.topic
}

// Stats returns a snapshot of the queue, worker and session.
func (u *Uplink) Stats() Stats {
	u.mu.Lock()
	started := u.started
	u.mu.Unlock()

	return Stats{
		Topic:     u.topic,
		Started:   started,
		Connected: u.session.IsConnected(),
		Queue:     u.queue.Stats(),
		Worker:    u.worker.Stats(),
	}
}
