// Package notify fans change events out to in-process subscribers, so the
// aggregation cache and the event bridge can react to store mutations
// without polling.
package notify

import "sync"

// Op identifies what happened to a record.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// Change describes one store mutation.
type Change struct {
	Collection string `json:"collection"`
	Op         Op     `json:"op"`
	ID         string `json:"id"`
	UserID     string `json:"userId"`
}

// Hub is a synchronous publish/subscribe fan-out. Handlers run on the
// publishing goroutine; subscribers that need to block must hand off.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Change)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(Change))}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Unsubscribing twice is harmless.
func (h *Hub) Subscribe(handler func(Change)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = handler
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Publish delivers a change to every current subscriber.
func (h *Hub) Publish(change Change) {
	h.mu.RLock()
	handlers := make([]func(Change), 0, len(h.subs))
	for _, handler := range h.subs {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(change)
	}
}
