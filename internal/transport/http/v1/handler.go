// Package v1 provides the public HTTP API of the co-pilot server.
package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/repository"
)

// Hub is the part of the observer hub the API reports on and broadcasts to.
type Hub interface {
	GetConnectionCount() int
	GetSubscriberCount() int
	GetWatchedRunCount() int
	GetObserverCount(runID string) int
	BroadcastJSON(v interface{}) error
}

// Handler handles HTTP requests.
type Handler struct {
	controller    *pipeline.Controller
	registry      *pipeline.Registry
	store         repository.Store
	hub           Hub
	webhookSecret string
	streamPoll    time.Duration
	validate      *validator.Validate
}

// Options configures optional Handler behaviour.
type Options struct {
	WebhookSecret string
	// StreamPoll is the SSE polling interval; zero means the pipeline default.
	StreamPoll time.Duration
}

// NewHandler creates a new handler.
func NewHandler(controller *pipeline.Controller, store repository.Store, hub Hub, opts Options) *Handler {
	poll := opts.StreamPoll
	if poll <= 0 {
		poll = pipeline.DefaultPollInterval
	}
	return &Handler{
		controller:    controller,
		registry:      controller.Registry(),
		store:         store,
		hub:           hub,
		webhookSecret: opts.WebhookSecret,
		streamPoll:    poll,
		validate:      validator.New(),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/runs", h.CreateRun)
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)
	e.GET("/v1/runs/:run_id/events/stream", h.StreamRunEvents)
	e.GET("/v1/history", h.ListHistory)
	e.GET("/v1/stats", h.Stats)

	e.POST("/webhook", h.Webhook)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"version":     "0.1.0",
		"runs":        h.registry.Len(),
		"connections": h.hub.GetConnectionCount(),
		"watched":     h.hub.GetWatchedRunCount(),
	})
}

// queryInt reads a non-negative integer query parameter.
func queryInt(c echo.Context, name string, def int) (int, bool) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
