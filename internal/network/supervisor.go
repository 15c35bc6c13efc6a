package network

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewBackOff returns the exponential schedule used between restarts of an
// exhausted association. It never gives up on its own.
func NewBackOff(initial, maxInterval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Supervise restarts exhausted attempt cycles after the delays produced by
// b. The schedule is reset each time association succeeds.
//
// It returns ctx.Err() on cancellation, or ErrRetryExhausted once b stops.
func (m *Machine) Supervise(ctx context.Context, b backoff.BackOff) error {
	for {
		c := m.currentCycle()

		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		if c.err == nil {
			b.Reset()
			select {
			case <-c.next:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			m.logger.Error("association supervisor giving up")
			return c.err
		}

		m.logger.Warn("association exhausted, scheduling restart", "delay", delay.String())
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		if err := m.Restart(); err != nil && !errors.Is(err, ErrNotExhausted) {
			return err
		}
	}
}
