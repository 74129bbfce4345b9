package core

import "sync"

// Application-level events emitted on the bus.
const (
	EventAlertDelivered   = "alert.delivered"
	EventAlertComplete    = "alert.complete"
	EventAlertView        = "alert.view"
	EventAlertDismissed   = "alert.dismissed"
	EventCapabilityDenied = "capability.denied"
	EventQueueFlushed     = "queue.flushed"
)

// Handler receives the detail of an emitted event.
type Handler func(detail map[string]any)

// Bridge fans locally emitted events out to other processes. Remote events
// come back in through EventBus.EmitLocal.
type Bridge interface {
	Publish(name string, detail map[string]any) error
}

// EventBus is an in-process publish/subscribe hub keyed by event name. Each
// subscriber is invoked at most once per emission.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
	bridge Bridge
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string]map[uint64]Handler)}
}

// SetBridge attaches a cross-process bridge. Pass nil to detach.
func (b *EventBus) SetBridge(br Bridge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bridge = br
}

// Subscribe registers handler for name and returns a function that removes
// it. Calling the returned function more than once is safe.
func (b *EventBus) Subscribe(name string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[name] == nil {
		b.subs[name] = make(map[uint64]Handler)
	}
	b.subs[name][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[name], id)
			if len(b.subs[name]) == 0 {
				delete(b.subs, name)
			}
		})
	}
}

// Emit delivers detail to every current subscriber of name and forwards it to
// the bridge, if any. Bridge errors are swallowed: local delivery already
// happened.
func (b *EventBus) Emit(name string, detail map[string]any) {
	b.EmitLocal(name, detail)

	b.mu.RLock()
	br := b.bridge
	b.mu.RUnlock()
	if br != nil {
		_ = br.Publish(name, detail)
	}
}

// EmitLocal delivers detail to local subscribers only.
func (b *EventBus) EmitLocal(name string, detail map[string]any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[name]))
	for _, h := range b.subs[name] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(detail)
	}
}

// SubscriberCount returns the number of handlers registered for name.
func (b *EventBus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
