// Package notification provides ordered fan-out of state snapshots to listeners.
package notification

import (
	"sync"

	"github.com/google/uuid"
)

// Listener receives published values.
type Listener[T any] func(T)

// subscription represents a listener's subscription.
type subscription[T any] struct {
	id       string
	listener Listener[T]

	mu      sync.Mutex
	lastSeq uint64
}

// Hub manages subscriptions and broadcasting. Values are stamped with a
// sequence number; a subscriber never receives a value older than one it
// has already received.
type Hub[T any] struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription[T]
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewHub creates a new hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{
		subscriptions: make(map[string]*subscription[T]),
	}
}

// Subscribe adds a listener and returns the subscription ID.
func (h *Hub[T]) Subscribe(listener Listener[T]) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New().String()
	h.subscriptions[id] = &subscription[T]{
		id:       id,
		listener: listener,
	}
	return id
}

// Unsubscribe removes a subscription.
func (h *Hub[T]) Unsubscribe(subscriptionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscriptions, subscriptionID)
}

// NextSequenceNo returns the next sequence number and increments the counter.
// Callers take the number while holding the lock that orders their state
// changes and publish after releasing it.
func (h *Hub[T]) NextSequenceNo() uint64 {
	h.sequenceNoMu.Lock()
	defer h.sequenceNoMu.Unlock()
	h.sequenceNo++
	return h.sequenceNo
}

// Publish delivers v to every subscriber synchronously, skipping any
// subscriber that already received a newer sequence number.
func (h *Hub[T]) Publish(seq uint64, v T) {
	h.mu.RLock()
	// Copy subscriptions to avoid holding lock during delivery
	subs := make([]*subscription[T], 0, len(h.subscriptions))
	for _, sub := range h.subscriptions {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if seq <= sub.lastSeq {
			sub.mu.Unlock()
			continue
		}
		sub.lastSeq = seq
		sub.mu.Unlock()

		sub.listener(v)
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Close removes all subscriptions.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscriptions = make(map[string]*subscription[T])
}
