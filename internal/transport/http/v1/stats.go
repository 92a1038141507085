package v1

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
)

// StatsResponse summarises server activity.
type StatsResponse struct {
	PersistedRuns int `json:"persisted_runs"`
	LiveRuns      int `json:"live_runs"`
	ActiveRuns    int `json:"active_runs"`
	WatchedRuns   int `json:"watched_runs"`
	Connections   int `json:"connections"`
	Subscribers   int `json:"subscribers"`
}

// Stats returns run and connection counters.
// GET /v1/stats
func (h *Handler) Stats(c echo.Context) error {
	persisted, err := h.store.CountRuns(c.Request().Context())
	if err != nil {
		log.Printf("ERROR: failed to count runs: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to count runs"})
	}

	runs := h.registry.List(0)
	active := 0
	for _, run := range runs {
		if !run.Status.IsTerminal() {
			active++
		}
	}

	return c.JSON(http.StatusOK, StatsResponse{
		PersistedRuns: persisted,
		LiveRuns:      len(runs),
		ActiveRuns:    active,
		WatchedRuns:   h.hub.GetWatchedRunCount(),
		Connections:   h.hub.GetConnectionCount(),
		Subscribers:   h.hub.GetSubscriberCount(),
	})
}
