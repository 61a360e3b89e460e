package server

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/relay/internal/middleware"
)

// handleChat upgrades the request and hands the socket to the supervisor for
// the rest of its life.
func (s *Server) handleChat(c echo.Context) error {
	if !s.track() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}
	defer s.conns.Done()

	logger := middleware.FromContext(c.Request().Context())

	conn, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		// Accept has already written the HTTP error response.
		logger.Warn("Failed to upgrade connection to WebSocket", "error", err)
		return nil
	}
	conn.SetReadLimit(s.Cfg.MaxMessageSize)

	if err := s.supervisor.Serve(c.Request().Context(), conn, c.Request().RemoteAddr); err != nil {
		logger.Debug("WebSocket session ended with error", "error", err)
	}
	return nil
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if s.Cfg.AllowAllOrigins() {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: s.Cfg.AllowedOrigins}
}
