package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/relay/internal/metrics"
)

// NotFoundBody is returned for every path without a route.
const NotFoundBody = "endpoint not found. Try again"

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	s.E.GET("/ws/chat", s.handleChat)

	s.E.GET("/health", s.handleHealth)
	s.E.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))

	s.E.RouteNotFound("/*", func(c echo.Context) error {
		return c.String(http.StatusNotFound, NotFoundBody)
	})
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Connections: s.presence.Count(),
		Subscribers: s.hub.SubscriberCount(),
	})
}
