package state

import "sync"

// EventType is the name of an event delivered to the UI layer.
type EventType string

const (
	// EventLogOutput carries one raw stdout line of the worker as a string payload.
	EventLogOutput EventType = "log-output"
	// EventProcessStarted is emitted after a successful spawn, without payload.
	EventProcessStarted EventType = "process-started"
	// EventProcessStopped is emitted after termination completes, without payload.
	EventProcessStopped EventType = "process-stopped"
)

// Emitter publishes named events.
type Emitter interface {
	Emit(event EventType, payload any)
}

// Handler receives events from a Bus.
type Handler func(event EventType, payload any)

// Bus fans events out to subscribers synchronously, on the emitting goroutine,
// so the per-emitter order is preserved for every subscriber.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	order    []int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.handlers[id]; !ok {
			return
		}
		delete(b.handlers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers the event to every subscriber in subscription order.
func (b *Bus) Emit(event EventType, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event, payload)
	}
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event EventType, payload any)

// Emit calls f.
func (f EmitterFunc) Emit(event EventType, payload any) {
	f(event, payload)
}
