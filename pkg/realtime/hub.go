// Package realtime fans text notifications out to every connected websocket client.
//
// Delivery is best effort. A subscriber only sees messages published after it subscribed and a subscriber whose
// queue is full misses messages rather than slowing the publisher down. Clients treat notifications as hints and
// re-fetch pages from the store.
package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the number of pending messages each subscriber may queue.
const DefaultCapacity = 100

// Hub is a process wide multi-producer, multi-consumer broadcast channel. It is safe for concurrent use and lives
// until the process exits.
type Hub struct {
	capacity int

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{capacity: capacity, subs: make(map[*Subscription]struct{})}
}

// Subscription is one consumer of the hub.
type Subscription struct {
	hub     *Hub
	ch      chan string
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a new consumer which receives every message published after this call.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{hub: h, ch: make(chan string, h.capacity)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers msg to every current subscriber without blocking and returns how many received it.
func (h *Hub) Publish(msg string) int {
	return h.publishFrom(nil, msg)
}

// publishFrom is Publish skipping the origin subscription.
func (h *Hub) publishFrom(origin *Subscription, msg string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for sub := range h.subs {
		if sub == origin {
			continue
		}
		select {
		case sub.ch <- msg:
			delivered++
		default:
			if n := sub.dropped.Add(1); n == 1 || n%100 == 0 {
				slog.Warn("subscriber lagging, dropping messages", "dropped", n)
			}
		}
	}
	return delivered
}

// Len returns the number of current subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// C is closed when the subscription is closed.
func (s *Subscription) C() <-chan string {
	return s.ch
}

// Dropped is the number of messages this subscriber missed because its queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}
