// Package presence keeps a live view of the connections currently attached
// to the relay, built from the lifecycle notifications on the bus.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nfrund/relay/internal/pubsub"
)

// Connection describes one attached WebSocket client.
type Connection struct {
	ConnID     string    `json:"connID"`
	RemoteAddr string    `json:"remoteAddr"`
	OpenedAt   time.Time `json:"openedAt"`
}

// Service tracks open connections by ID.
type Service struct {
	mu    sync.RWMutex
	conns map[string]Connection
	// closed remembers IDs whose close notification overtook the open one.
	closed map[string]struct{}

	logger *slog.Logger
	cancel context.CancelFunc
}

// NewService creates a presence service and subscribes it to the connection
// lifecycle topics.
func NewService(subscriber pubsub.Subscriber) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		conns:  make(map[string]Connection),
		closed: make(map[string]struct{}),
		logger: slog.Default().With("service", "presence"),
		cancel: cancel,
	}

	if err := pubsub.Subscribe(ctx, subscriber, pubsub.ConnectionOpenedEvent, svc.handleOpened); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", pubsub.ConnectionOpenedEvent.Name(), err)
	}
	if err := pubsub.Subscribe(ctx, subscriber, pubsub.ConnectionClosedEvent, svc.handleClosed); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", pubsub.ConnectionClosedEvent.Name(), err)
	}

	svc.logger.Info("Presence service initialized")
	return svc, nil
}

func (s *Service) handleOpened(ctx context.Context, event pubsub.ConnectionOpened) error {
	s.add(Connection{ConnID: event.ConnID, RemoteAddr: event.RemoteAddr, OpenedAt: event.OpenedAt})
	return nil
}

func (s *Service) handleClosed(ctx context.Context, event pubsub.ConnectionClosed) error {
	s.remove(event.ConnID, event.Reason)
	return nil
}

func (s *Service) add(c Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The two topics are delivered independently, so a very short-lived
	// connection can report closed before opened.
	if _, gone := s.closed[c.ConnID]; gone {
		delete(s.closed, c.ConnID)
		return
	}
	s.conns[c.ConnID] = c
	s.logger.Debug("Connection online", "connID", c.ConnID, "remote", c.RemoteAddr, "connections", len(s.conns))
}

func (s *Service) remove(connID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[connID]; !ok {
		s.closed[connID] = struct{}{}
		return
	}
	delete(s.conns, connID)
	s.logger.Debug("Connection offline", "connID", connID, "reason", reason, "connections", len(s.conns))
}

// Count returns the number of open connections.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Get returns the connection with the given ID, if it is open.
func (s *Service) Get(connID string) (Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[connID]
	return c, ok
}

// List returns the open connections ordered by open time.
func (s *Service) List() []Connection {
	s.mu.RLock()
	out := make([]Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Shutdown stops consuming lifecycle notifications.
func (s *Service) Shutdown() {
	s.cancel()
}
