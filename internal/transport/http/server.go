// Package http provides the HTTP server implementation for the co-pilot.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	v1 "github.com/tupakulamanoj/elastic-contributor-copilot/internal/transport/http/v1"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/ws"
)

// NewServer creates and configures the HTTP server.
// It serves the REST API, the webhook receiver and both WebSocket endpoints.
func NewServer(handler *v1.Handler, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register Routes
	handler.RegisterRoutes(e)
	e.GET("/ws/pipeline", wsServer.HandlePipeline)
	e.GET("/ws/events", wsServer.HandleEvents)

	return e
}
