// Package subscriber implements the fan-out of ChunkStoreEvents to
// registered subscribers: the query cache, visualizer triggers, stats
// collectors.
//
// The bus holds no reference back to the store that owns it — it is a
// pure sink subscribers are handed events through, avoiding the
// store<->subscriber reference cycle spec.md §9 warns about.
package subscriber

import (
	"log/slog"

	"rerun-core/internal/logging"
	"rerun-core/internal/storeevent"
)

// Subscriber receives batches of events produced by one write operation.
// OnEvents must not block for long; the store's write lock is held (or was
// just released, see Bus.Publish) while subscribers run.
type Subscriber interface {
	OnEvents(events []storeevent.Event)
}

// Func adapts a plain function to the Subscriber interface.
type Func func(events []storeevent.Event)

func (f Func) OnEvents(events []storeevent.Event) { f(events) }

// Handle identifies a registered subscriber so it can later be removed.
// Handles are stable for the bus's lifetime.
type Handle uint64

// Bus fans out events to every registered subscriber, in registration
// order, isolating each subscriber's panics/errors so one misbehaving
// subscriber cannot affect the store or other subscribers.
type Bus struct {
	logger *slog.Logger

	nextHandle Handle
	subs       map[Handle]Subscriber
	order      []Handle
}

// New creates an empty Bus. If logger is nil, logging is disabled.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logging.Default(logger).With("component", "subscriber-bus"),
		subs:   make(map[Handle]Subscriber),
	}
}

// Register adds a subscriber and returns a handle that can later be
// passed to Unregister. Idempotent in the sense that registering the same
// Subscriber value twice yields two independent handles.
func (b *Bus) Register(sub Subscriber) Handle {
	b.nextHandle++
	h := b.nextHandle
	b.subs[h] = sub
	b.order = append(b.order, h)
	return h
}

// Unregister removes a previously registered subscriber. No-op if the
// handle is unknown.
func (b *Bus) Unregister(h Handle) {
	if _, ok := b.subs[h]; !ok {
		return
	}
	delete(b.subs, h)
	for i, oh := range b.order {
		if oh == h {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers events to every subscriber, in registration order.
// Called by the ChunkStore synchronously, before its write lock is
// released, so subscribers observe a consistent snapshot (spec.md §5).
// A panicking subscriber is recovered and logged; it does not prevent
// delivery to the remaining subscribers.
func (b *Bus) Publish(events []storeevent.Event) {
	if len(events) == 0 {
		return
	}
	for _, h := range b.order {
		sub := b.subs[h]
		b.deliver(sub, events)
	}
}

func (b *Bus) deliver(sub Subscriber, events []storeevent.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", "panic", r)
		}
	}()
	sub.OnEvents(events)
}
