// Package sessionhub fans session store change events out to subscribers.
package sessionhub

import (
	"sort"
	"sync"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/civicpulse/sessionkit/internal/ports"
)

// Hub is a registry of change listeners. It is safe for concurrent use.
// Publish invokes listeners synchronously, in subscription order, outside the lock.
type Hub struct {
	mu        sync.Mutex
	next      uint64
	listeners map[uint64]func(domainauth.Event)
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{listeners: make(map[uint64]func(domainauth.Event))}
}

// Subscribe registers fn and returns its disposer.
func (h *Hub) Subscribe(fn func(domainauth.Event)) ports.Unsubscribe {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	id := h.next
	h.next++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current listener.
func (h *Hub) Publish(ev domainauth.Event) {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(domainauth.Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.listeners[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of active listeners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
