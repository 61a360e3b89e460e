package server

import (
	"sync"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/hub"
	"github.com/nfrund/relay/internal/middleware"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/relay"
)

// Dependencies holds the services the HTTP server is built from.
type Dependencies struct {
	Config     *config.Config
	Hub        *hub.Hub
	Supervisor *relay.Supervisor
	Presence   *presence.Service
	Registry   *prometheus.Registry
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E          *echo.Echo
	Cfg        *config.Config
	hub        *hub.Hub
	supervisor *relay.Supervisor
	presence   *presence.Service
	registry   *prometheus.Registry

	// mu guards closing; conns counts handlers still serving a socket.
	mu      sync.Mutex
	closing bool
	conns   sync.WaitGroup
}

// New creates a new Server instance with its routes registered.
func New(deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger)

	s := &Server{
		E:          e,
		Cfg:        deps.Config,
		hub:        deps.Hub,
		supervisor: deps.Supervisor,
		presence:   deps.Presence,
		registry:   deps.Registry,
	}
	s.RegisterRoutes()
	return s
}

// track registers a live socket handler. It reports false once shutdown has
// begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns.Add(1)
	return true
}
