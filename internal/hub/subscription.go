package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nfrund/relay/internal/events"
)

// ErrLagged matches any *LagError via errors.Is.
var ErrLagged = errors.New("subscriber lagged")

// LagError tells a subscriber that its queue overflowed and Missed events were
// dropped for it. It is a flow-control signal, not a failure: the next call to
// Next continues with the oldest event still queued.
type LagError struct {
	Missed uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscriber lagged: missed %d events", e.Missed)
}

// Is reports whether target is ErrLagged.
func (e *LagError) Is(target error) bool {
	return target == ErrLagged
}

// Subscription is one consumer's private, ordered view of the hub.
// A Subscription must be consumed from a single goroutine; Close may be
// called from any goroutine.
type Subscription struct {
	hub *Hub

	mu     sync.Mutex
	queue  []events.ChatEvent // ring buffer
	head   int
	size   int
	missed uint64

	// notify holds at most one pending wake-up so push never blocks.
	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(h *Hub, capacity int) *Subscription {
	return &Subscription{
		hub:    h,
		queue:  make([]events.ChatEvent, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends ev, overwriting the oldest entry when the queue is full.
// It reports whether an event was dropped.
func (s *Subscription) push(ev events.ChatEvent) bool {
	s.mu.Lock()
	dropped := false
	if s.size == len(s.queue) {
		// The slot at head holds the oldest event; it becomes the newest.
		s.queue[s.head] = ev
		s.head = (s.head + 1) % len(s.queue)
		s.missed++
		dropped = true
	} else {
		s.queue[(s.head+s.size)%len(s.queue)] = ev
		s.size++
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// pop returns the next queued item: a lag signal takes precedence over
// queued events so the gap is reported where it happened.
func (s *Subscription) pop() (ev events.ChatEvent, missed uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.missed > 0 {
		missed = s.missed
		s.missed = 0
		return nil, missed, true
	}
	if s.size == 0 {
		return nil, 0, false
	}

	ev = s.queue[s.head]
	s.queue[s.head] = nil
	s.head = (s.head + 1) % len(s.queue)
	s.size--
	return ev, 0, true
}

// Next blocks until an event is available and returns it. It returns a
// *LagError when events were dropped since the previous call, ErrClosed once
// the hub or the subscription is closed and the queue is empty, and ctx.Err()
// when ctx is cancelled first.
func (s *Subscription) Next(ctx context.Context) (events.ChatEvent, error) {
	for {
		if ev, missed, ok := s.pop(); ok {
			if missed > 0 {
				return nil, &LagError{Missed: missed}
			}
			return ev, nil
		}

		select {
		case <-s.done:
			return nil, ErrClosed
		case <-s.hub.done:
			return nil, ErrClosed
		default:
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-s.hub.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close releases the subscription. The hub stops queueing events for it and
// a pending Next returns ErrClosed. Close is idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}
