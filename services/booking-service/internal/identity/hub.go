package identity

import (
	"sync"
	"time"
)

type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
)

type Event struct {
	Type       EventType
	SubjectID  string
	OccurredAt time.Time
}

type Handler func(Event)

// Hub fans auth events out to subscribers. Handlers run synchronously on the
// publishing goroutine in subscription order.
type Hub struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]Handler
	order    []uint64
}

func NewHub() *Hub {
	return &Hub{handlers: map[uint64]Handler{}}
}

// Subscribe registers h and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (h *Hub) Subscribe(handler Handler) (unsubscribe func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	h.handlers[id] = handler
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.handlers, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.order))
	for _, id := range h.order {
		handlers = append(handlers, h.handlers[id])
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(ev)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
