// Package app wires the relay's services together.
package app

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"

	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/hub"
	"github.com/nfrund/relay/internal/metrics"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/relay"
	"github.com/nfrund/relay/internal/server"
)

// New creates the service container for cfg. Services are built lazily on
// first invocation.
func New(cfg *config.Config) *do.RootScope {
	i := do.New()
	do.ProvideValue(i, cfg)
	do.Provide(i, provideRegistry)
	do.Provide(i, provideMetrics)
	do.Provide(i, provideHub)
	do.Provide(i, provideBus)
	do.Provide(i, providePresence)
	do.Provide(i, provideSupervisor)
	do.Provide(i, provideServer)
	return i
}

func provideRegistry(i do.Injector) (*prometheus.Registry, error) {
	return metrics.NewRegistry(), nil
}

func provideMetrics(i do.Injector) (*metrics.RelayMetrics, error) {
	return metrics.NewRelayMetrics(do.MustInvoke[*prometheus.Registry](i)), nil
}

func provideHub(i do.Injector) (*hub.Hub, error) {
	cfg := do.MustInvoke[*config.Config](i)
	m := do.MustInvoke[*metrics.RelayMetrics](i)

	h := hub.New(cfg.QueueCapacity, hub.WithObserver(m))
	metrics.RegisterSubscriberGauge(do.MustInvoke[*prometheus.Registry](i), h.SubscriberCount)
	return h, nil
}

func provideBus(i do.Injector) (*pubsub.WatermillBridge, error) {
	return pubsub.NewWatermillBridge(), nil
}

func providePresence(i do.Injector) (*presence.Service, error) {
	return presence.NewService(do.MustInvoke[*pubsub.WatermillBridge](i))
}

func provideSupervisor(i do.Injector) (*relay.Supervisor, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return relay.NewSupervisor(do.MustInvoke[*hub.Hub](i),
		relay.WithPublisher(do.MustInvoke[*pubsub.WatermillBridge](i)),
		relay.WithMetrics(do.MustInvoke[*metrics.RelayMetrics](i)),
		relay.WithDecodePolicy(cfg.DecodePolicy),
		relay.WithWriteTimeout(cfg.WriteTimeout),
		relay.WithLogger(slog.Default().With("component", "relay")),
	), nil
}

func provideServer(i do.Injector) (*server.Server, error) {
	return server.New(server.Dependencies{
		Config:     do.MustInvoke[*config.Config](i),
		Hub:        do.MustInvoke[*hub.Hub](i),
		Supervisor: do.MustInvoke[*relay.Supervisor](i),
		Presence:   do.MustInvoke[*presence.Service](i),
		Registry:   do.MustInvoke[*prometheus.Registry](i),
	}), nil
}

// Services is the resolved object graph of a running relay.
type Services struct {
	Server   *server.Server
	Presence *presence.Service
	Bus      *pubsub.WatermillBridge
}

// Resolve builds every service in the container.
func Resolve(i do.Injector) (*Services, error) {
	srv, err := do.Invoke[*server.Server](i)
	if err != nil {
		return nil, fmt.Errorf("resolve server: %w", err)
	}
	pres, err := do.Invoke[*presence.Service](i)
	if err != nil {
		return nil, fmt.Errorf("resolve presence: %w", err)
	}
	bus, err := do.Invoke[*pubsub.WatermillBridge](i)
	if err != nil {
		return nil, fmt.Errorf("resolve bus: %w", err)
	}
	return &Services{Server: srv, Presence: pres, Bus: bus}, nil
}

// Close releases the services that outlive the HTTP server.
func (s *Services) Close() {
	s.Presence.Shutdown()
	if err := s.Bus.Close(); err != nil {
		slog.Error("Failed to close message bus", "error", err)
	}
}
