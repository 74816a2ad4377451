// Package broadcast fans session status changes out to observers.
package broadcast

import (
	"sync"

	"HireScout/internal/domain"
	"HireScout/internal/ports"
)

// Hub delivers status snapshots best-effort: sends never block, a slow
// observer just misses updates, and zero observers is not an error.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan domain.SessionStatus
	next int
}

var _ ports.StatusBroadcaster = (*Hub)(nil)

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{subs: map[int]chan domain.SessionStatus{}}
}

// Subscribe registers an observer. The returned cancel func removes it.
func (h *Hub) Subscribe(buffer int) (<-chan domain.SessionStatus, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan domain.SessionStatus, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish pushes the status to every observer without blocking.
func (h *Hub) Publish(status domain.SessionStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub <- status:
		default:
		}
	}
}
