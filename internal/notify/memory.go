package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 32

// MemoryHub delivers events to subscribers within the process
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewMemoryHub creates an empty in-process hub
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[int]chan Event)}
}

// Publish delivers event to every subscriber that has room for it
func (h *MemoryHub) Publish(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			log.Debug().Int("subscriber", id).Str("type", event.Type).Msg("subscriber is slow, dropping event")
		}
	}
}

// Subscribe registers a new subscriber. The subscription also ends when ctx
// is done.
func (h *MemoryHub) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return ch, cancel
}

// Subscribers returns the number of active subscriptions
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends all subscriptions
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return nil
}
