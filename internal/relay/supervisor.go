package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/events"
	"github.com/nfrund/relay/internal/hub"
	"github.com/nfrund/relay/internal/metrics"
	"github.com/nfrund/relay/internal/pubsub"
)

// Supervisor owns the lifetime of accepted connections.
type Supervisor struct {
	hub          *hub.Hub
	publisher    pubsub.Publisher
	metrics      *metrics.RelayMetrics
	decodePolicy string
	writeTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPublisher sends connection lifecycle notifications to p.
func WithPublisher(p pubsub.Publisher) Option {
	return func(s *Supervisor) { s.publisher = p }
}

// WithMetrics records connection and event counters on m.
func WithMetrics(m *metrics.RelayMetrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithDecodePolicy selects config.DecodePolicyClose or config.DecodePolicySkip.
func WithDecodePolicy(policy string) Option {
	return func(s *Supervisor) { s.decodePolicy = policy }
}

// WithWriteTimeout bounds each outbound frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.writeTimeout = d }
}

// WithLogger sets the base logger for connection logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor creates a Supervisor that attaches connections to h.
func NewSupervisor(h *hub.Hub, opts ...Option) *Supervisor {
	s := &Supervisor{
		hub:          h,
		decodePolicy: config.DecodePolicyClose,
		writeTimeout: config.DefaultWriteTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewRelayMetrics(prometheus.NewRegistry())
	}
	return s
}

// pumpStop is returned by each pump goroutine so the errgroup context is
// cancelled, with the stop as its cause, as soon as either pump returns.
type pumpStop struct {
	pump string
	err  error
}

func (p *pumpStop) Error() string {
	if p.err == nil {
		return p.pump + " pump stopped"
	}
	return p.pump + " pump stopped: " + p.err.Error()
}

func (p *pumpStop) Unwrap() error { return p.err }

// Serve runs the inbound and outbound pumps for conn until either of them
// stops, then closes the connection and waits for the other one to return.
// It returns nil when the client or the server closed the connection
// normally, and the error of the first pump to fail otherwise.
func (s *Supervisor) Serve(ctx context.Context, conn Conn, remoteAddr string) error {
	connID := uuid.NewString()
	logger := s.logger.With("connID", connID, "remote", remoteAddr)

	// Subscribe before either pump runs so the connection sees every event
	// published after it was accepted, including its own.
	sub, err := s.hub.Subscribe()
	if err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "")
		return err
	}
	defer sub.Close()

	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ConnectionsActive.Inc()
	defer s.metrics.ConnectionsActive.Dec()

	opened := time.Now().UTC()
	logger.Info("Connection opened")
	s.notifyOpened(pubsub.ConnectionOpened{
		ConnID:     connID,
		RemoteAddr: remoteAddr,
		OpenedAt:   opened,
	})

	inbound := &Inbound{
		Reader:  conn,
		Hub:     s.hub,
		Policy:  s.decodePolicy,
		Metrics: s.metrics,
		Logger:  logger.With("pump", "inbound"),
	}
	outbound := &Outbound{
		Sub:          sub,
		Writer:       conn,
		WriteTimeout: s.writeTimeout,
		Metrics:      s.metrics,
		Logger:       logger.With("pump", "outbound"),
	}

	// A cancelled read makes the websocket library close the socket on its
	// own terms, so the inbound pump keeps the parent context and is released
	// by closing the connection instead.
	g, raceCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return &pumpStop{pump: "inbound", err: inbound.Run(ctx)}
	})
	g.Go(func() error {
		return &pumpStop{pump: "outbound", err: outbound.Run(raceCtx)}
	})

	<-raceCtx.Done()
	var first *pumpStop
	if ctx.Err() != nil || !errors.As(context.Cause(raceCtx), &first) {
		// A cancelled parent ends both pumps and counts as shutdown.
		first = &pumpStop{pump: "outbound"}
	}
	reason := s.close(conn, first)

	var stopped *pumpStop
	if err := g.Wait(); !errors.As(err, &stopped) {
		logger.Error("Unexpected pump result", "error", err)
	}

	s.metrics.ConnectionsClosed.WithLabelValues(reason).Inc()
	s.logClosed(logger, first, reason, time.Since(opened))
	s.notifyClosed(pubsub.ConnectionClosed{
		ConnID:   connID,
		Reason:   reason,
		ClosedAt: time.Now().UTC(),
	})

	if reason == metrics.ReasonClientClosed || reason == metrics.ReasonShutdown {
		return nil
	}
	return first.err
}

// close ends the connection according to why the first pump stopped and
// returns the matching close reason.
func (s *Supervisor) close(conn Conn, first *pumpStop) string {
	var decodeErr *events.DecodeError

	switch {
	case first.err == nil && first.pump == "inbound":
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return metrics.ReasonClientClosed
	case first.err == nil, errors.Is(first.err, hub.ErrClosed):
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return metrics.ReasonShutdown
	case errors.As(first.err, &decodeErr):
		_ = conn.Close(websocket.StatusUnsupportedData, "")
		return metrics.ReasonDecodeError
	default:
		_ = conn.CloseNow()
		return metrics.ReasonTransport
	}
}

func (s *Supervisor) logClosed(logger *slog.Logger, first *pumpStop, reason string, lifetime time.Duration) {
	attrs := []any{"pump", first.pump, "reason", reason, "duration", lifetime}
	switch reason {
	case metrics.ReasonDecodeError:
		logger.Warn("Connection closed", append(attrs, "error", first.err)...)
	case metrics.ReasonTransport:
		logger.Error("Connection closed", append(attrs, "error", first.err)...)
	default:
		logger.Info("Connection closed", attrs...)
	}
}

func (s *Supervisor) notifyOpened(ev pubsub.ConnectionOpened) {
	if s.publisher == nil {
		return
	}
	if err := pubsub.Publish(context.Background(), s.publisher, pubsub.ConnectionOpenedEvent, ev.ConnID, ev); err != nil {
		s.logger.Error("Failed to publish lifecycle event", "connID", ev.ConnID, "topic", pubsub.TopicConnectionOpened, "error", err)
	}
}

func (s *Supervisor) notifyClosed(ev pubsub.ConnectionClosed) {
	if s.publisher == nil {
		return
	}
	if err := pubsub.Publish(context.Background(), s.publisher, pubsub.ConnectionClosedEvent, ev.ConnID, ev); err != nil {
		s.logger.Error("Failed to publish lifecycle event", "connID", ev.ConnID, "topic", pubsub.TopicConnectionClosed, "error", err)
	}
}
