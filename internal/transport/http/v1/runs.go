package v1

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
)

// CreateRunRequest starts a new run, or attaches to an existing one when
// RunID is set.
type CreateRunRequest struct {
	Mode   string `json:"mode" validate:"omitempty,oneof=issue pr conflict"`
	Number int    `json:"number" validate:"gte=0"`
	RunID  string `json:"run_id" validate:"omitempty,max=64"`
}

// RunResponse is the run representation returned by the API.
type RunResponse struct {
	domain.Run
	Observers int `json:"observers"`
}

// CreateRun creates or attaches to a run.
// POST /v1/runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if req.RunID != "" {
		run, err := h.controller.Attach(req.RunID)
		if errors.Is(err, pipeline.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		if err != nil {
			log.Printf("ERROR: failed to attach run %s: %v", req.RunID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to attach run"})
		}
		return c.JSON(http.StatusOK, h.toResponse(run))
	}

	if req.Mode == "" || req.Number == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "mode and number are required"})
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	run, err := h.controller.Trigger(mode, req.Number)
	if err != nil {
		log.Printf("ERROR: failed to trigger %s run for #%d: %v", mode, req.Number, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start run"})
	}
	return c.JSON(http.StatusAccepted, h.toResponse(run))
}

// ListRuns returns the live runs, newest first.
// GET /v1/runs?limit=
func (h *Handler) ListRuns(c echo.Context) error {
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
	}
	runs := h.registry.List(limit)
	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, h.toResponse(run))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": out})
}

// GetRun returns a live run, falling back to the durable store.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	runID := c.Param("run_id")
	if run, ok := h.registry.Get(runID); ok {
		return c.JSON(http.StatusOK, h.toResponse(run))
	}

	rec, err := h.store.GetRun(c.Request().Context(), runID)
	if err != nil {
		log.Printf("ERROR: failed to get run %s: %v", runID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}
	if rec == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, rec)
}

// GetRunEvents returns the events of a run from a cursor.
// GET /v1/runs/:run_id/events?after=&limit=
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("run_id")
	after, ok := queryInt(c, "after", 0)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid after"})
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
	}

	events, next, status, err := h.registry.EventsSince(runID, after)
	if errors.Is(err, pipeline.ErrRunNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get events"})
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
		next = events[len(events)-1].Seq + 1
	}
	if events == nil {
		events = []domain.Event{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"status": status,
		"events": events,
		"next":   next,
	})
}

// ListHistory returns persisted runs, most recently completed first.
// GET /v1/history?limit=
func (h *Handler) ListHistory(c echo.Context) error {
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
	}
	records, err := h.store.SearchRuns(c.Request().Context(), limit)
	if err != nil {
		log.Printf("ERROR: failed to search runs: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list history"})
	}
	if records == nil {
		records = []domain.RunRecord{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": records})
}

func (h *Handler) toResponse(run domain.Run) RunResponse {
	return RunResponse{Run: run, Observers: h.hub.GetObserverCount(run.RunID)}
}
