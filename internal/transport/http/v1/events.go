package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
)

// StreamRunEvents streams events for a specific run via SSE.
// GET /v1/runs/:run_id/events/stream
//
// The stream replays from the cursor given by Last-Event-ID (the last seq
// seen) or the after query parameter, and ends once the run is terminal.
func (h *Handler) StreamRunEvents(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	if _, ok := h.registry.Get(runID); !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	cursor, ok := queryInt(c, "after", 0)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid after"})
	}
	if last := c.Request().Header.Get("Last-Event-ID"); last != "" {
		seq, err := strconv.Atoi(last)
		if err != nil || seq < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid Last-Event-ID"})
		}
		cursor = seq + 1
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	ticker := time.NewTicker(h.streamPoll)
	defer ticker.Stop()

	for {
		events, next, status, err := h.registry.EventsSince(runID, cursor)
		if errors.Is(err, pipeline.ErrRunNotFound) {
			log.Printf("INFO: run %s evicted during event stream", runID)
			return nil
		}
		for _, event := range events {
			if err := h.sendSSEEvent(c, event); err != nil {
				log.Printf("ERROR: failed to send SSE event: %v", err)
				return nil
			}
		}
		if len(events) > 0 {
			c.Response().Flush()
		}
		cursor = next

		if status.IsTerminal() {
			log.Printf("INFO: run %s reached terminal state: %s", runID, status)
			return nil
		}

		select {
		case <-ctx.Done():
			// Client disconnected
			return nil
		case <-ticker.C:
		}
	}
}

// sendSSEEvent sends a single event in SSE format.
func (h *Handler) sendSSEEvent(c echo.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Format: id: <seq>\nevent: <event_type>\ndata: <json>\n\n
	_, err = fmt.Fprintf(c.Response(), "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data)
	return err
}
