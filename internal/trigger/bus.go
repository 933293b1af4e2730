// Package trigger carries run requests from the scheduler and the HTTP API
// to the single run loop. Funneling every trigger source through one
// consumer keeps run execution strictly sequential even before the run
// lock is reached.
package trigger

import (
	"context"
	"errors"

	"jobsync/internal/domain"
)

// ErrBusFull is returned when a trigger cannot be buffered.
var ErrBusFull = errors.New("trigger: bus full")

// MetricsSink records bus depth. Methods must be non-blocking.
type MetricsSink interface {
	TriggerBusDepth(depth int)
}

type Option func(*Bus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *Bus) { b.metrics = sink }
}

// Bus is a bounded in-memory trigger queue.
type Bus struct {
	ch      chan domain.TriggerEvent
	metrics MetricsSink
}

func NewBus(buffer int, opts ...Option) *Bus {
	b := &Bus{ch: make(chan domain.TriggerEvent, buffer)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit enqueues a trigger without blocking. A full buffer means runs are
// already queued faster than they complete, so additional triggers are
// redundant and rejected with ErrBusFull.
func (b *Bus) Emit(ctx context.Context, event domain.TriggerEvent) error {
	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.TriggerBusDepth(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBusFull
	}
}

// Channel exposes the consumer side of the bus.
func (b *Bus) Channel() <-chan domain.TriggerEvent {
	return b.ch
}
