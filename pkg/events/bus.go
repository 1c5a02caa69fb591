package events

import (
	"context"
	"log"
)

// Capacity is the event bus's fixed queue depth. Publish drops the
// newest event with a warning once the queue is full rather than
// blocking a producer.
const Capacity = 256

// Bus is a bounded, single-consumer FIFO queue of Event values. Many
// producers (the scheduler, bus listeners, external vision code, the
// engine itself) publish; exactly one consumer — the control engine —
// calls Get.
type Bus struct {
	ch chan Event
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{ch: make(chan Event, Capacity)}
}

// Publish enqueues event without blocking. If the queue is full, the
// event is dropped and a warning is logged.
func (b *Bus) Publish(event Event) {
	select {
	case b.ch <- event:
	default:
		log.Printf("events: queue full (capacity %d), dropping %T", Capacity, event)
	}
}

// Get blocks until an event is available or ctx is done, returning
// (nil, false) in the latter case.
func (b *Bus) Get(ctx context.Context) (Event, bool) {
	select {
	case e := <-b.ch:
		return e, true
	case <-ctx.Done():
		return nil, false
	}
}

// Stop publishes a StopEvent carrying reason.
func (b *Bus) Stop(reason string) {
	b.Publish(StopEvent{Reason: reason})
}
