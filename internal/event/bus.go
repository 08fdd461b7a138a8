package event

import (
	"log"
	"runtime/debug"
	"sync"
)

// Handler receives every event published on a Bus.
type Handler func(Event)

// subscriber wraps a handler so cancellation can match on identity.
type subscriber struct {
	handler Handler
}

// Bus is a synchronous pub-sub bus. Publish returns only after every
// handler has run, so observers (the event log, the CLI) are complete at
// any shutdown checkpoint.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for every published event. The returned
// cancel function removes the subscription; calling it more than once is
// safe.
func (b *Bus) Subscribe(h Handler) (cancel func()) {
	sub := &subscriber{handler: h}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// On registers a handler for one concrete event type, ignoring everything
// else on the bus. The returned cancel function removes the subscription.
func On[T Event](b *Bus, h func(T)) (cancel func()) {
	return b.Subscribe(func(e Event) {
		if ev, ok := e.(T); ok {
			h(ev)
		}
	})
}

// Publish delivers the event to every subscriber in registration order. A
// panicking handler is recovered and logged so one misbehaving observer
// cannot block delivery to the rest.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s.handler, e)
	}
}

// deliver invokes one handler, recovering from panics.
func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: event handler panicked for event %s: %v\n%s",
				e.EventType(), r, debug.Stack())
		}
	}()
	h(e)
}
