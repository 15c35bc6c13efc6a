// Package delivery moves telemetry payloads from producers to the broker.
//
// A Queue is a bounded FIFO of copied payloads; producers block while it is
// full. A single Worker drains the queue and makes exactly one publish
// attempt per message, dropping messages while the broker session is down.
// Every message is released exactly once, by whoever owns it last.
//
// Usage:
//
//	q, _ := delivery.NewQueue(delivery.QueueConfig{Capacity: 10})
//	w, _ := delivery.NewWorker(delivery.WorkerOptions{Queue: q, Session: session, Topic: topic})
//	go w.Run(ctx)
//	_ = q.Enqueue(ctx, payload)
package delivery
