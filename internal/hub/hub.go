// Package hub is the process-wide fan-out point for chat events. Every
// published event is delivered to every subscription that exists at publish
// time, each through its own bounded queue.
package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/nfrund/relay/internal/events"
)

// DefaultCapacity is the number of pending events a subscription holds before
// it starts dropping the oldest ones.
const DefaultCapacity = 16

var (
	// ErrClosed is returned once the hub has been shut down.
	ErrClosed = errors.New("hub closed")
	// ErrNoSubscribers is returned by Publish when nobody is listening. The
	// event is discarded; callers usually ignore this error.
	ErrNoSubscribers = errors.New("no subscribers")
)

// Observer receives counters from the hub. Implementations must be cheap and
// must not block, since they run on the publisher's goroutine.
type Observer interface {
	// Published is called once per successful Publish with the number of
	// subscriptions the event was queued for.
	Published(recipients int)
	// Dropped is called each time a full subscription discards its oldest event.
	Dropped()
}

// Option configures a Hub.
type Option func(*Hub)

// WithObserver attaches an Observer to the hub.
func WithObserver(o Observer) Option {
	return func(h *Hub) {
		h.observer = o
	}
}

// Hub maintains the set of live subscriptions and broadcasts events to them.
// It is safe for concurrent use by any number of publishers and subscribers.
type Hub struct {
	capacity int
	observer Observer

	// mu guards subscribers and closed. Publish only takes the read lock, so
	// concurrent publishers never wait on each other.
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	closed      bool

	// done is closed by Close to wake every waiting subscription.
	done chan struct{}
}

// New creates a Hub whose subscriptions buffer up to capacity events each.
// A non-positive capacity selects DefaultCapacity.
func New(capacity int, opts ...Option) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	h := &Hub{
		capacity:    capacity,
		subscribers: make(map[*Subscription]struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Capacity returns the per-subscription queue size.
func (h *Hub) Capacity() int {
	return h.capacity
}

// Subscribe registers a new subscription. It only sees events published after
// this call returns.
func (h *Hub) Subscribe() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	sub := newSubscription(h, h.capacity)
	h.subscribers[sub] = struct{}{}
	slog.Debug("Hub subscription registered", "total_subscribers", len(h.subscribers))
	return sub, nil
}

// Publish queues ev for every current subscription. It never waits for a
// subscriber: a full queue drops its oldest event and records the lag.
func (h *Hub) Publish(ev events.ChatEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrClosed
	}
	if len(h.subscribers) == 0 {
		return ErrNoSubscribers
	}

	for sub := range h.subscribers {
		if sub.push(ev) && h.observer != nil {
			h.observer.Dropped()
		}
	}
	if h.observer != nil {
		h.observer.Published(len(h.subscribers))
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close shuts the hub down. Pending events can still be drained from existing
// subscriptions, after which Next returns ErrClosed. Close is idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	close(h.done)
	slog.Info("Hub closed", "released_subscribers", len(h.subscribers))
	h.subscribers = make(map[*Subscription]struct{})
	return nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		slog.Debug("Hub subscription released", "total_subscribers", len(h.subscribers))
	}
}
