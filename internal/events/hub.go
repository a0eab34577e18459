package events

import (
	"context"
	"sync"
)

// Hub fans events out to live listeners of one restaurant.
// A listener that falls behind misses events rather than stalling the bus.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{listeners: make(map[string]map[chan Event]struct{})}
}

// Listen registers a listener for restaurantID. The returned cancel func must be called
// once the listener is done; it closes the channel.
func (h *Hub) Listen(restaurantID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	set, ok := h.listeners[restaurantID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.listeners[restaurantID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners[restaurantID], ch)
			if len(h.listeners[restaurantID]) == 0 {
				delete(h.listeners, restaurantID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Listeners returns the number of listeners for restaurantID.
func (h *Hub) Listeners(restaurantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[restaurantID])
}

// Handle is the bus handler feeding the hub.
func (h *Hub) Handle(_ context.Context, e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.listeners[e.RestaurantID] {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}
