package events

import (
	"sync"
	"sync/atomic"
)

// Event types broadcast to subscribers
const (
	TypeStarted   = "started"
	TypePosition  = "position"
	TypePanorama  = "panorama"
	TypeCompleted = "completed"
	TypeStopped   = "stopped"
	TypeRoadview  = "roadview"
	TypeOverlay   = "overlay"
	TypeNotice    = "notice"
	TypeLocation  = "location"
	TypeSpeed     = "speed"
)

// Event is a message for live subscribers
type Event struct {
	ID   uint64 `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than block the publisher.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	buffer  int
	closed  bool
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates a hub whose subscriptions buffer up to buffer events
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and must be called when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
}

// Publish delivers an event to every subscriber without blocking
func (h *Hub) Publish(eventType string, data any) Event {
	e := Event{ID: h.seq.Add(1), Type: eventType, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
	return e
}

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close ends every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
