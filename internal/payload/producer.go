package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultInterval is the factory production period.
const DefaultInterval = 5 * time.Second

// Enqueuer accepts encoded messages for delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte) error
}

// Logger defines the logging interface for the producer.
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

// Message is the JSON document published for every reading.
type Message struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
	Date    string `json:"date"`
	Time    string `json:"time"`
}

// Options configures a Producer.
type Options struct {
	DeviceID string
	Interval time.Duration

	// Location stamps the date and time fields. nil means UTC.
	Location *time.Location

	Sink   Enqueuer
	Logger Logger

	// Source and Now default to RandomReading and time.Now.
	Source func() Reading
	Now    func() time.Time
}

// Stats counts producer outcomes.
type Stats struct {
	Produced uint64 `json:"produced"`
	Failed   uint64 `json:"failed"`
}

// Producer periodically encodes a reading and hands it to the sink.
type Producer struct {
	opts     Options
	produced atomic.Uint64
	failed   atomic.Uint64
	warned   atomic.Bool
}

// NewProducer validates opts and applies defaults.
func NewProducer(opts Options) (*Producer, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("payload: device id is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("payload: sink is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Source == nil {
		opts.Source = RandomReading
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Producer{opts: opts}, nil
}

// Encode builds the JSON message for r taken at now.
func (p *Producer) Encode(r Reading, now time.Time) ([]byte, error) {
	date, clock := Timestamp(now, p.opts.Location)
	return json.Marshal(Message{
		ID:      p.opts.DeviceID,
		Payload: r.Hex(),
		Date:    date,
		Time:    clock,
	})
}

// Produce takes one reading and enqueues it. A full queue blocks here
// under the sink's own backpressure rules.
func (p *Producer) Produce(ctx context.Context) error {
	now := p.opts.Now()
	if !ClockSynced(now) && p.warned.CompareAndSwap(false, true) {
		p.opts.Logger.Warn("system clock not synchronised, timestamps will be wrong", "now", now)
	}

	r := p.opts.Source()
	lat, lng, battery := r.Degrees()

	msg, err := p.Encode(r, now)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("payload: encoding: %w", err)
	}

	if err := p.opts.Sink.Enqueue(ctx, msg); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("payload: enqueue: %w", err)
	}

	p.produced.Add(1)
	p.opts.Logger.Debug("payload queued",
		"payload", r.Hex(),
		"latitude", fmt.Sprintf("%.3f", lat),
		"longitude", fmt.Sprintf("%.3f", lng),
		"battery", fmt.Sprintf("%.3f", battery),
	)
	return nil
}

// Run produces once per interval until ctx is cancelled. Enqueue
// failures are logged and production continues.
func (p *Producer) Run(ctx context.Context) error {
	p.opts.Logger.Info("payload producer started", "interval", p.opts.Interval.String())

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if err := p.Produce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.opts.Logger.Error("failed to queue the payload", "error", err)
		}

		select {
		case <-ctx.Done():
			p.opts.Logger.Info("payload producer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stats returns production counters.
func (p *Producer) Stats() Stats {
	return Stats{
		Produced: p.produced.Load(),
		Failed:   p.failed.Load(),
	}
}
