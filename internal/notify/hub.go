package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

// Hub fans notifications out to open browser pages. Each page subscribes
// over a websocket and drains its own buffered channel.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Notification
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Notification)}
}

func (h *Hub) Name() string { return "web" }

// Subscribe registers a page and returns its id and feed
func (h *Hub) Subscribe() (string, <-chan Notification) {
	id := uuid.NewString()
	ch := make(chan Notification, subscriberBuffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe closes the feed of id
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Subscribers counts open pages
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Send queues n for every page. A page whose buffer is full misses it.
func (h *Hub) Send(ctx context.Context, n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}
