// Package feed fans public market-data events out to read-only
// subscribers: TCP connections, WebSocket clients and an optional
// Redis relay. Delivery is fire-and-forget; a slow subscriber is
// skipped, never allowed to stall the matching loop.
package feed

import (
	"sync"

	"go.uber.org/zap"
)

const subscriberBuffer = 256

type Subscriber struct {
	ch chan []byte
}

// C yields encoded feed messages in emission order.
func (s *Subscriber) C() <-chan []byte {
	return s.ch
}

// Hub tracks active subscribers and broadcasts encoded messages.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]bool
	log  *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		subs: make(map[*Subscriber]bool),
		log:  log,
	}
}

// Attach registers a subscriber, queueing the snapshot messages ahead
// of any subsequent broadcast. Holding the lock across both keeps the
// snapshot and the live stream ordered.
func (h *Hub) Attach(snapshot [][]byte) *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, msg := range snapshot {
		select {
		case sub.ch <- msg:
		default:
			h.log.Warn("snapshot larger than subscriber buffer, truncating")
			h.subs[sub] = true
			return sub
		}
	}
	h.subs[sub] = true
	h.log.Debug("feed subscriber attached", zap.Int("total", len(h.subs)))
	return sub
}

func (h *Hub) Detach(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sub] {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Broadcast delivers one message to every subscriber; full buffers are
// skipped.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			// buffer full, subscriber misses this event
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
