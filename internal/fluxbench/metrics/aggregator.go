package metrics

import (
	"context"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Consumer processes events on the aggregator goroutine. Consumers are never called concurrently by the
// same Aggregator.
type Consumer interface {
	Consume(event Event)
}

// ConsumerFunc adapts a function to a Consumer.
type ConsumerFunc func(event Event)

func (f ConsumerFunc) Consume(event Event) {
	f(event)
}

// Aggregator is a Sink backed by a buffered channel that a single goroutine drains into consumers.
// Emit never blocks: when the buffer is full the event is dropped and counted.
type Aggregator struct {
	// Accessed atomically.
	emitted   int64
	dropped   int64
	events    chan Event
	consumers []Consumer
}

func NewAggregator(bufferSize int, consumers ...Consumer) *Aggregator {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Aggregator{
		events:    make(chan Event, bufferSize),
		consumers: consumers,
	}
}

func (a *Aggregator) Emit(event Event) {
	select {
	case a.events <- event:
		atomic.AddInt64(&a.emitted, 1)
	default:
		if atomic.AddInt64(&a.dropped, 1) == 1 {
			log.Warnf("Metric event buffer of %d is full, dropping events", cap(a.events))
		}
	}
}

// Run dispatches events until ctx is cancelled, then dispatches whatever is still buffered and returns.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return nil
		case event := <-a.events:
			a.dispatch(event)
		}
	}
}

func (a *Aggregator) drain() {
	for {
		select {
		case event := <-a.events:
			a.dispatch(event)
		default:
			return
		}
	}
}

func (a *Aggregator) dispatch(event Event) {
	for _, consumer := range a.consumers {
		consumer.Consume(event)
	}
}

// Emitted is the number of events accepted into the buffer.
func (a *Aggregator) Emitted() int64 {
	return atomic.LoadInt64(&a.emitted)
}

// Dropped is the number of events discarded because the buffer was full.
func (a *Aggregator) Dropped() int64 {
	return atomic.LoadInt64(&a.dropped)
}
