package acpapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaohan0616/acpd/internal/domain"
	"github.com/xiaohan0616/acpd/internal/service"
)

// CreateRun starts a new run in the requested mode.
// POST /runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req domain.RunCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Mode == "" {
		req.Mode = domain.RunModeSync
	}

	ctx := c.Request().Context()
	switch req.Mode {
	case domain.RunModeSync:
		run, err := h.service.RunSync(ctx, req)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, run)

	case domain.RunModeAsync:
		run, err := h.service.RunAsync(ctx, req)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, run)

	case domain.RunModeStream:
		return h.streamRun(c, req)

	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid mode %q", req.Mode)})
	}
}

// streamRun executes the run inline and delivers each protocol event as an
// SSE message. Events flow in the same order the event log records them.
func (h *Handler) streamRun(c echo.Context, req domain.RunCreateRequest) error {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	flusher, _ := c.Response().Writer.(http.Flusher)
	sink := func(ev domain.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("ERROR: failed to marshal event: %v", err)
			return
		}
		if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
			log.Printf("ERROR: failed to write SSE event: %v", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := h.service.RunStream(c.Request().Context(), req, sink); err != nil {
		// Headers are already out; deliver the failure in-band.
		sink(domain.ErrorEvent(domain.RunError{
			Code:    domain.ErrCodeInvalidInput,
			Message: err.Error(),
		}))
	}
	return nil
}

// GetRun returns the current run record.
// GET /runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// ResumeRun resolves an awaiting run.
// POST /runs/:run_id
func (h *Handler) ResumeRun(c echo.Context) error {
	var req domain.RunResumeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	run, err := h.service.Resume(c.Request().Context(), c.Param("run_id"), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun signals a run's cancellation handle.
// POST /runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	run, err := h.service.CancelRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunEvents returns the run's recorded event log.
// GET /runs/:run_id/events
func (h *Handler) GetRunEvents(c echo.Context) error {
	events, err := h.service.GetEvents(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

// ListRuns returns a page of runs.
// GET /runs?limit=&offset=
func (h *Handler) ListRuns(c echo.Context) error {
	limit := service.DefaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = v
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid offset"})
		}
		offset = v
	}

	runs, err := h.service.ListRuns(c.Request().Context(), limit, offset)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}
