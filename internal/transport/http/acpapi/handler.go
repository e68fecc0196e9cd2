// Package acpapi provides the HTTP handlers for the ACP run surface.
package acpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaohan0616/acpd/internal/hub"
	"github.com/xiaohan0616/acpd/internal/runstore"
	"github.com/xiaohan0616/acpd/internal/service"
)

// Handler handles ACP run requests.
type Handler struct {
	service *service.Service
	hub     *hub.Hub
}

// NewHandler creates a new ACP API handler. h may be nil; the WebSocket
// attach endpoint then reports unavailable.
func NewHandler(svc *service.Service, h *hub.Hub) *Handler {
	return &Handler{
		service: svc,
		hub:     h,
	}
}

// RegisterRoutes registers the ACP routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/runs", h.CreateRun)
	e.GET("/runs", h.ListRuns)
	e.GET("/runs/:run_id", h.GetRun)
	e.POST("/runs/:run_id", h.ResumeRun)
	e.POST("/runs/:run_id/cancel", h.CancelRun)
	e.GET("/runs/:run_id/events", h.GetRunEvents)
	e.GET("/runs/:run_id/events/ws", h.WatchRunEvents)
}

// errorJSON maps store sentinels to their HTTP statuses.
func errorJSON(c echo.Context, err error) error {
	switch {
	case errors.Is(err, runstore.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, runstore.ErrConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
