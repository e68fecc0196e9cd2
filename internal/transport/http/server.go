// Package http provides the HTTP server for the run engine's ACP surface.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaohan0616/acpd/internal/hub"
	"github.com/xiaohan0616/acpd/internal/service"
	"github.com/xiaohan0616/acpd/internal/transport/http/acpapi"
)

// NewServer creates and configures the ACP HTTP server.
func NewServer(svc *service.Service, h *hub.Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	handler := acpapi.NewHandler(svc, h)
	handler.RegisterRoutes(e)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":   "ok",
			"watchers": h.WatcherCount(),
		})
	})

	return e
}
